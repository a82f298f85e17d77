// Loremaster is a narrative assistant for tabletop play: world building,
// story narration, rules explanation and guided tutorials over a vector
// index of campaign lore.
//
// Usage:
//
//	# Serve the HTTP API
//	loremaster serve --config loremaster.yaml
//
//	# Play in the terminal
//	loremaster repl --session table-1 --world aeloria.json
//
//	# Rebuild the index from a world document
//	loremaster reindex --world aeloria.json
package main

import (
	"fmt"
	"os"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configFile string
	envFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loremaster",
	Short: "Narrative assistant for tabletop campaigns",
	Long: `loremaster runs play sessions that switch between modes (main menu,
world architect, DM story, rules explanation, tutorial, world edit), each
grounded in lore and rules retrieved from a vector index.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default ./.env when present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "loremaster by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{File: configFile, EnvFile: envFile})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

package main

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/loremaster/internal/console"
	"github.com/spf13/cobra"
)

var (
	replSession string
	replWorlds  []string
	replCatalog string
	replTimeout time.Duration
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Play a session in the terminal",
	Long: `Open an interactive console for one session.

Commands inside the console:
  mode <name>   switch mode
  state         show the session state
  reset         reset the session
  quit          leave

Anything else is sent to the current mode: an action in the main menu,
an utterance in DM story mode, a question in rules mode, an answer in the
tutorial.

Log output goes to logging.file only, so the screen stays clean.`,
	Args: cobra.NoArgs,
	RunE: runREPL,
}

func init() {
	replCmd.Flags().StringVarP(&replSession, "session", "s", "local", "session id")
	replCmd.Flags().StringSliceVar(&replWorlds, "world", nil, "world document to import before play (repeatable)")
	replCmd.Flags().StringVar(&replCatalog, "catalog", "", "catalog snapshot loaded before play and saved on exit")
	replCmd.Flags().DurationVar(&replTimeout, "timeout", 2*time.Minute, "time limit per turn")
}

func runREPL(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.loadCatalog(ctx, replCatalog); err != nil {
		return err
	}
	if err := a.importWorlds(ctx, replWorlds); err != nil {
		return err
	}

	p := tea.NewProgram(console.NewModel(a.orch, replSession, replTimeout))
	_, err = p.Run()
	return errors.Join(err, a.saveCatalog(replCatalog))
}

package main

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reindexCatalogs []string
	reindexWorlds   []string
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector index from catalog snapshots",
	Long: `Load catalog snapshots and world documents into a staging catalog and
reindex every indexable entity into the configured vector store.

Snapshots keep entity ids, so repeating the command replaces the chunks it
wrote before. World documents get fresh ids on every run; prefer snapshots
for persistent indexes.

Examples:
  loremaster reindex --catalog lore.json
  loremaster reindex --world aeloria.json --world veyra.json`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().StringSliceVar(&reindexCatalogs, "catalog", nil, "catalog snapshot to index (repeatable)")
	reindexCmd.Flags().StringSliceVar(&reindexWorlds, "world", nil, "world document to index (repeatable)")
}

func runReindex(cmd *cobra.Command, _ []string) error {
	if len(reindexCatalogs) == 0 && len(reindexWorlds) == 0 {
		return errors.New("nothing to index: pass --catalog or --world")
	}
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	// Stage without an indexer, then index in one pass.
	staging := lore.NewCatalog(lore.WithLogger(a.logger))
	for _, path := range reindexCatalogs {
		snap, err := readSnapshot(path)
		if err != nil {
			return fmt.Errorf("reading catalog: %w", err)
		}
		if _, err := staging.Restore(ctx, snap); err != nil {
			return fmt.Errorf("restoring %s: %w", path, err)
		}
	}
	for _, path := range reindexWorlds {
		w, err := readWorld(path)
		if err != nil {
			return err
		}
		if _, err := staging.ImportWorld(ctx, w, ""); err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
	}

	entities := staging.All()
	chunks, err := a.indexer.ReindexAll(ctx, entities)
	if err != nil {
		return fmt.Errorf("reindexing: %w", err)
	}
	a.logger.Info("reindex complete", zap.Int("entities", len(entities)), zap.Int("chunks", chunks))
	fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d entities into %d chunks\n", len(entities), chunks)
	return nil
}

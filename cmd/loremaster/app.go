package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"github.com/fyrsmithlabs/loremaster/internal/embeddings"
	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/logging"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/loresync"
	"github.com/fyrsmithlabs/loremaster/internal/modes"
	"github.com/fyrsmithlabs/loremaster/internal/orchestrator"
	"github.com/fyrsmithlabs/loremaster/internal/rag"
	"github.com/fyrsmithlabs/loremaster/internal/sessionstore"
	"github.com/fyrsmithlabs/loremaster/internal/telemetry"
	"github.com/fyrsmithlabs/loremaster/internal/vectorstore"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// appOptions adjust how newApp builds the dependency graph.
type appOptions struct {
	// quiet keeps log output off the terminal.
	quiet bool
	// sync connects to NATS when sync.enabled is set.
	sync bool

	embedder embeddings.Provider
	oracle   generation.Oracle
}

// app holds the wired dependencies of one process.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry

	index     vectorstore.Index
	indexer   *rag.Indexer
	retriever *rag.Retriever
	catalog   *lore.Catalog
	orch      *orchestrator.Orchestrator

	nc     *nats.Conn
	nodeID string

	closers []func() error
}

// newApp wires every component from cfg. On error, whatever was already
// created is closed.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, nodeID: loresync.NodeID()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.telemetry, err = telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.telemetry.Shutdown(context.Background()) })

	var out zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if opts.quiet {
		out = zapcore.AddSync(io.Discard)
	}
	logger, err := logging.NewWithWriter(cfg.Logging, a.telemetry.LoggerProvider(), out)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = logger.Logger
	a.closers = append(a.closers, logger.Close)

	embedder := opts.embedder
	if embedder == nil {
		embedder, err = embeddings.NewProvider(cfg, a.logger)
		if err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, embedder.Close)

	a.index, err = vectorstore.NewIndex(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.index.Close)

	a.indexer = rag.NewIndexer(embedder, a.index, a.logger)
	a.retriever = rag.NewRetriever(embedder, a.index, a.logger)

	catalogOpts := []lore.Option{lore.WithIndexer(a.indexer), lore.WithLogger(a.logger)}
	if opts.sync && cfg.Sync.Enabled {
		a.nc, err = loresync.Connect(cfg.Sync.NATSURL, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { a.nc.Close(); return nil })
		catalogOpts = append(catalogOpts, lore.WithPublisher(loresync.NewPublisher(a.nc, cfg.Sync.Subject, a.nodeID)))
	}
	a.catalog = lore.NewCatalog(catalogOpts...)

	oracle := opts.oracle
	if oracle == nil {
		oracle, err = generation.NewOracle(ctx, cfg, a.logger)
		if err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, oracle.Close)

	store, err := sessionstore.New(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	a.orch = orchestrator.New(store,
		orchestrator.WithLogger(a.logger),
		orchestrator.WithHandlers(modes.NewHandlers(modes.Deps{
			Retriever: a.retriever,
			Oracle:    oracle,
			Catalog:   a.catalog,
			Logger:    a.logger,
		})...),
	)
	a.orch.OnTurn(func(ev orchestrator.TurnEvent) {
		if ev.Error != "" {
			a.logger.Warn("turn failed",
				zap.String("session_id", ev.SessionID),
				zap.String("mode", string(ev.Mode)),
				zap.String("error", ev.Error),
			)
		}
	})
	return a, nil
}

// startSync subscribes to catalog changes from other nodes. It is a no-op
// without a NATS connection.
func (a *app) startSync() error {
	if a.nc == nil {
		return nil
	}
	sub := loresync.NewSubscriber(a.nc, a.indexer, a.nodeID, a.logger)
	if err := sub.Start(a.cfg.Sync.Subject, a.cfg.Sync.Queue); err != nil {
		return err
	}
	// Drain before the connection closes.
	a.closers = append(a.closers, sub.Close)
	a.logger.Info("lore sync started",
		zap.String("subject", a.cfg.Sync.Subject),
		zap.String("queue", a.cfg.Sync.Queue),
		zap.String("node_id", a.nodeID),
	)
	return nil
}

// importWorlds loads world documents into the catalog, indexing as they go.
func (a *app) importWorlds(ctx context.Context, paths []string) error {
	for _, path := range paths {
		w, err := readWorld(path)
		if err != nil {
			return err
		}
		res, err := a.catalog.ImportWorld(ctx, w, "")
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		a.logger.Info("world imported",
			zap.String("path", path),
			zap.Strings("universe", res[lore.KindUniverse]),
			zap.Int("locations", len(res[lore.KindLocation])),
			zap.Int("characters", len(res[lore.KindCharacter])),
		)
	}
	return nil
}

// loadCatalog restores a snapshot file into the catalog. A missing file is
// not an error so the first run can start empty.
func (a *app) loadCatalog(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	snap, err := readSnapshot(path)
	if errors.Is(err, os.ErrNotExist) {
		a.logger.Info("catalog file not found, starting empty", zap.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}
	n, err := a.catalog.Restore(ctx, snap)
	if err != nil {
		return fmt.Errorf("restoring %s: %w", path, err)
	}
	a.logger.Info("catalog restored", zap.String("path", path), zap.Int("entities", n))
	return nil
}

// saveCatalog writes the catalog snapshot to path through a temp file.
func (a *app) saveCatalog(path string) error {
	if path == "" {
		return nil
	}
	snap, err := a.catalog.Snapshot()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	a.logger.Info("catalog saved", zap.String("path", path))
	return nil
}

func readSnapshot(path string) (lore.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap lore.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing catalog file %s: %w", path, err)
	}
	return snap, nil
}

func readWorld(path string) (lore.World, error) {
	var w lore.World
	data, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("reading world file: %w", err)
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("parsing world file %s: %w", path, err)
	}
	return w, nil
}

// Close releases resources in reverse creation order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

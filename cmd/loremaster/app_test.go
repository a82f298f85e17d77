package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"github.com/fyrsmithlabs/loremaster/internal/embeddings"
	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/modes"
	"github.com/fyrsmithlabs/loremaster/internal/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const worldDoc = `{
  "universe": {"name": "Aeloria", "description": "Floating isles bound by old chains"},
  "locations": [{"name": "Skyport", "description": "A harbor for airships"}],
  "characters": [{"name": "Captain Vey", "summary": "Smuggler with a conscience"}]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.VectorStore.Provider = "memory"
	cfg.VectorStore.VectorSize = 32
	cfg.Embeddings.Provider = "hash"
	cfg.Logging.Level = "error"
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestApp(t *testing.T, oracle generation.Oracle) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(t), appOptions{
		quiet:    true,
		embedder: embeddings.NewHashProvider(32),
		oracle:   oracle,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewApp_PlaysATurn(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, generation.NewStub(`{"narration": "Chains groan beneath Skyport.", "log_updates": {}}`))
	assert.Nil(t, a.nc)
	assert.NotEmpty(t, a.nodeID)

	require.NoError(t, a.importWorlds(ctx, []string{writeFile(t, "world.json", worldDoc)}))
	universes := a.catalog.List(lore.KindUniverse, lore.ListFilter{})
	require.Len(t, universes, 1)

	require.NoError(t, a.orch.SetActiveUniverse(ctx, "table-1", universes[0].Base().ID))
	_, err := a.orch.SwitchMode(ctx, "table-1", "dm_story")
	require.NoError(t, err)
	res, err := a.orch.ProcessInput(ctx, "table-1", modes.Input{"utterance": "I walk to Skyport"})
	require.NoError(t, err)
	assert.Equal(t, "Chains groan beneath Skyport.", res["narration"])

	hits, err := a.retriever.RetrieveLore(ctx, rag.Query{Text: "airship harbor", Limit: 5}, rag.LoreFilter{UniverseID: universes[0].Base().ID})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestNewApp_StartupErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown embeddings provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Embeddings.Provider = "bogus"
		var err error
		require.NotPanics(t, func() {
			_, err = newApp(ctx, cfg, appOptions{quiet: true})
		})
		assert.ErrorIs(t, err, embeddings.ErrInvalidConfig)
	})

	t.Run("closes what was built before the failure", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.VectorStore.Provider = "bogus"
		emb := &closeTracker{Provider: embeddings.NewHashProvider(32)}
		var (
			a   *app
			err error
		)
		require.NotPanics(t, func() {
			a, err = newApp(ctx, cfg, appOptions{quiet: true, embedder: emb})
		})
		require.Error(t, err)
		assert.Nil(t, a)
		assert.True(t, emb.closed)
	})
}

type closeTracker struct {
	embeddings.Provider
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return c.Provider.Close()
}

func TestApp_CatalogRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lore.json")

	a := newTestApp(t, generation.NewStub())
	require.NoError(t, a.loadCatalog(ctx, path), "missing file starts empty")
	require.NoError(t, a.importWorlds(ctx, []string{writeFile(t, "world.json", worldDoc)}))
	require.NoError(t, a.saveCatalog(path))

	b := newTestApp(t, generation.NewStub())
	require.NoError(t, b.loadCatalog(ctx, path))
	assert.Equal(t, len(a.catalog.All()), len(b.catalog.All()))
	assert.Equal(t, a.catalog.List(lore.KindUniverse, lore.ListFilter{})[0].Base().ID,
		b.catalog.List(lore.KindUniverse, lore.ListFilter{})[0].Base().ID)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	assert.ErrorContains(t, b.loadCatalog(ctx, path), "parsing catalog file")
}

func TestReadWorld_Errors(t *testing.T) {
	_, err := readWorld(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "reading world file")

	_, err = readWorld(writeFile(t, "bad.json", "[]"))
	assert.ErrorContains(t, err, "parsing world file")
}

func TestReindexCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, "loremaster.yaml", `
vectorstore:
  provider: chromem
  chromem_path: `+filepath.Join(dir, "index")+`
  vector_size: 32
embeddings:
  provider: hash
  cache_ttl: 0s
logging:
  level: error
`)

	src := lore.NewCatalog()
	_, err := src.ImportWorld(context.Background(), mustWorld(t), "")
	require.NoError(t, err)
	snap, err := src.Snapshot()
	require.NoError(t, err)
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	catalogPath := writeFile(t, "lore.json", string(data))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"reindex", "--config", cfgPath, "--catalog", catalogPath})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "reindexed 3 entities")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}

func mustWorld(t *testing.T) lore.World {
	t.Helper()
	var w lore.World
	require.NoError(t, json.Unmarshal([]byte(worldDoc), &w))
	return w
}

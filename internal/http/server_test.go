package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/loremaster/internal/embeddings"
	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/modes"
	"github.com/fyrsmithlabs/loremaster/internal/orchestrator"
	"github.com/fyrsmithlabs/loremaster/internal/rag"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"github.com/fyrsmithlabs/loremaster/internal/sessionstore"
	"github.com/fyrsmithlabs/loremaster/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	*Server
	oracle *generation.Stub
	index  *vectorstore.MemoryIndex
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	emb := embeddings.NewHashProvider(32)
	idx := vectorstore.NewMemoryIndex()
	catalog := lore.NewCatalog(lore.WithIndexer(rag.NewIndexer(emb, idx, logger)))
	oracle := generation.NewStub(`{"narration": "The wind howls.", "log_updates": {}}`)

	orch := orchestrator.New(sessionstore.NewMemoryStore(sessionstore.Options{MaxHistory: 10}),
		orchestrator.WithHandlers(modes.NewHandlers(modes.Deps{
			Retriever: rag.NewRetriever(emb, idx, logger),
			Oracle:    oracle,
			Catalog:   catalog,
			Logger:    logger,
		})...))

	server, err := NewServer(orch, catalog, logger, nil)
	require.NoError(t, err)
	return &testServer{Server: server, oracle: oracle, index: idx}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewServer(t *testing.T) {
	orch := orchestrator.New(sessionstore.NewMemoryStore(sessionstore.Options{}))
	catalog := lore.NewCatalog()

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(orch, catalog, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 8787, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(orch, catalog, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when orchestrator is nil", func(t *testing.T) {
		_, err := NewServer(nil, catalog, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "orchestrator cannot be nil")
	})

	t.Run("returns error when catalog is nil", func(t *testing.T) {
		_, err := NewServer(orch, nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "catalog cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)
	rec := server.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t)
	rec := server.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionFlow(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodGet, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[session.State](t, rec)
	assert.Equal(t, session.ModeMainMenu, st.Mode)

	rec = server.do(t, http.MethodPost, "/api/v1/sessions/s1/mode", SwitchModeRequest{Mode: "dm_story_mode"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dm_story_mode", decode[map[string]any](t, rec)["mode"])

	rec = server.do(t, http.MethodPost, "/api/v1/sessions/s1/input", map[string]any{"utterance": "I look around"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The wind howls.", decode[map[string]any](t, rec)["narration"])

	rec = server.do(t, http.MethodGet, "/api/v1/sessions/s1", nil)
	st = decode[session.State](t, rec)
	assert.Equal(t, 1, st.TurnIndex)
	assert.Equal(t, []string{"Player: I look around", "DM: The wind howls."}, st.RecentHistory)

	rec = server.do(t, http.MethodPost, "/api/v1/sessions/s1/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[session.State](t, rec)
	assert.Equal(t, session.ModeMainMenu, st.Mode)
	assert.Zero(t, st.TurnIndex)
}

func TestSwitchMode_Validation(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/sessions/s1/mode", SwitchModeRequest{Mode: "karaoke"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown mode: karaoke", decode[map[string]any](t, rec)["error"])

	rec = server.do(t, http.MethodPost, "/api/v1/sessions/s1/mode", SwitchModeRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInput_OracleFailure(t *testing.T) {
	server := setupTestServer(t)
	server.oracle.FailWith(errors.New("upstream down"))

	server.do(t, http.MethodPost, "/api/v1/sessions/s1/mode", SwitchModeRequest{Mode: "dm_story"})
	rec := server.do(t, http.MethodPost, "/api/v1/sessions/s1/input", map[string]any{"utterance": "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSetActive(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/lore/universe", map[string]any{"name": "Aeloria"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[lore.Universe](t, rec).ID

	rec = server.do(t, http.MethodPost, "/api/v1/sessions/s1/active", orchestrator.Selection{UniverseID: id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[session.State](t, rec).ActiveUniverseID)

	rec = server.do(t, http.MethodPost, "/api/v1/sessions/s1/active", orchestrator.Selection{UniverseID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoreCRUD(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/lore/universe", map[string]any{"name": "Aeloria", "description": "Floating isles"})
	require.Equal(t, http.StatusCreated, rec.Code)
	u := decode[lore.Universe](t, rec)
	require.NotEmpty(t, u.ID)
	assert.Equal(t, 1, server.index.Count(rag.CollectionLore))

	rec = server.do(t, http.MethodGet, "/api/v1/lore/universe/"+u.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Aeloria", decode[lore.Universe](t, rec).Name)

	rec = server.do(t, http.MethodPut, "/api/v1/lore/universe/"+u.ID, map[string]any{"name": "Aeloria Reborn"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Aeloria Reborn", decode[lore.Universe](t, rec).Name)
	assert.Equal(t, 1, server.index.Count(rag.CollectionLore))

	rec = server.do(t, http.MethodGet, "/api/v1/lore/universe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]lore.Universe](t, rec), 1)

	rec = server.do(t, http.MethodDelete, "/api/v1/lore/universe/"+u.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, server.index.Count(rag.CollectionLore))

	rec = server.do(t, http.MethodGet, "/api/v1/lore/universe/"+u.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoreErrors(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodGet, "/api/v1/lore/dragon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = server.do(t, http.MethodPost, "/api/v1/lore/universe", map[string]any{"description": "nameless"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = server.do(t, http.MethodPut, "/api/v1/lore/faction/nope", map[string]any{"name": "Ghosts"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportWorld(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/lore/import", map[string]any{
		"world": map[string]any{
			"universe":   map[string]any{"name": "Veyra"},
			"locations":  []map[string]any{{"name": "Glass Harbor"}},
			"characters": []map[string]any{{"name": "Oris"}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[ImportResponse](t, rec)
	assert.Len(t, res.Imported[lore.KindUniverse], 1)
	assert.Len(t, res.Imported[lore.KindLocation], 1)
	assert.Len(t, res.Imported[lore.KindCharacter], 1)
}

func TestExportRestore(t *testing.T) {
	src := setupTestServer(t)
	rec := src.do(t, http.MethodPost, "/api/v1/lore/universe", map[string]any{"name": "Aeloria"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[lore.Universe](t, rec).ID

	rec = src.do(t, http.MethodGet, "/api/v1/lore/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[lore.Snapshot](t, rec)
	require.Len(t, snap[lore.KindUniverse], 1)

	dst := setupTestServer(t)
	rec = dst.do(t, http.MethodPost, "/api/v1/lore/restore", snap)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[RestoreResponse](t, rec).Restored)
	assert.Equal(t, 1, dst.index.Count(rag.CollectionLore))

	rec = dst.do(t, http.MethodGet, "/api/v1/lore/universe/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = dst.do(t, http.MethodPost, "/api/v1/lore/restore", map[string]any{"dragon": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

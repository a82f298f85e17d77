package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/loremaster/internal/embeddings"
	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/modes"
	"github.com/fyrsmithlabs/loremaster/internal/rag"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"github.com/fyrsmithlabs/loremaster/internal/sessionstore"
	"github.com/fyrsmithlabs/loremaster/internal/telemetry"
	"github.com/fyrsmithlabs/loremaster/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sid = "table-1"

func newOrchestrator(t *testing.T, oracle generation.Oracle) (*Orchestrator, *sessionstore.MemoryStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	emb := embeddings.NewHashProvider(32)
	idx := vectorstore.NewMemoryIndex()
	store := sessionstore.NewMemoryStore(sessionstore.Options{MaxHistory: 10})

	o := New(store, WithLogger(logger), WithHandlers(modes.NewHandlers(modes.Deps{
		Retriever: rag.NewRetriever(emb, idx, logger),
		Oracle:    oracle,
		Logger:    logger,
	})...))
	return o, store
}

// failingStore loads fresh states and refuses to save.
type failingStore struct{ sessionstore.Store }

func (failingStore) Load(context.Context, string) (*session.State, error) {
	return session.New(0), nil
}

func (failingStore) Save(context.Context, string, *session.State) error {
	return errors.New("disk full")
}

type panicHandler struct{ mode session.Mode }

func (h panicHandler) Mode() session.Mode { return h.mode }

func (h panicHandler) Handle(context.Context, *session.State, modes.Input) (modes.Result, error) {
	panic("must not be called")
}

type countingHandler struct {
	mode  session.Mode
	calls int
}

func (h *countingHandler) Mode() session.Mode { return h.mode }

func (h *countingHandler) Handle(_ context.Context, st *session.State, in modes.Input) (modes.Result, error) {
	h.calls++
	st.TurnIndex++
	return modes.Result{"echo": in.String("text"), "nested": map[string]any{"k": 1}}, nil
}

func TestFreshSessionDefaults(t *testing.T) {
	o, _ := newOrchestrator(t, generation.NewStub("unused"))
	st, err := o.State(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, session.ModeMainMenu, st.Mode)
	assert.Zero(t, st.TurnIndex)
	assert.Empty(t, st.RecentHistory)
}

func TestDMStoryTurn_EndToEnd(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t, generation.NewStub(`{"narration": "Mist curls around the ruined gate.", "log_updates": {}}`))

	res, err := o.SwitchMode(ctx, sid, string(session.ModeDMStory))
	require.NoError(t, err)
	assert.Equal(t, "dm_story_mode", res["mode"])

	res, err = o.ProcessInput(ctx, sid, modes.Input{"utterance": "I look around"})
	require.NoError(t, err)
	assert.Equal(t, "Mist curls around the ruined gate.", res["narration"])

	st, err := o.State(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TurnIndex)
	assert.Equal(t, []string{"Player: I look around", "DM: Mist curls around the ruined gate."}, st.RecentHistory)
}

func TestSwitchMode_ClearsTutorialState(t *testing.T) {
	ctx := context.Background()
	o, store := newOrchestrator(t, generation.NewStub("unused"))

	st := session.New(0)
	st.Mode = session.ModeTutorial
	st.TutorialScriptID = "basic"
	st.TutorialStep = 3
	require.NoError(t, store.Save(ctx, sid, st))

	for _, target := range []session.Mode{session.ModeDMStory, session.ModeMainMenu} {
		_, err := o.SwitchMode(ctx, sid, string(session.ModeTutorial))
		require.NoError(t, err)
		_, err = o.SwitchMode(ctx, sid, string(target))
		require.NoError(t, err)

		got, err := o.State(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, target, got.Mode)
		assert.Zero(t, got.TutorialStep)
		assert.Empty(t, got.TutorialScriptID)
	}
}

func TestSwitchMode_ClearsPendingWorldChange(t *testing.T) {
	ctx := context.Background()
	o, store := newOrchestrator(t, generation.NewStub("unused"))

	st := session.New(0)
	st.Mode = session.ModeWorldEdit
	st.PendingWorldChangeRequestID = "wcr-1"
	require.NoError(t, store.Save(ctx, sid, st))

	_, err := o.SwitchMode(ctx, sid, "rules")
	require.NoError(t, err)
	got, err := o.State(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, session.ModeRulesExplanation, got.Mode)
	assert.Empty(t, got.PendingWorldChangeRequestID)
}

func TestSwitchMode_KeepsIdentities(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t, generation.NewStub("unused"))

	require.NoError(t, o.SetActiveUniverse(ctx, sid, "u-1"))
	require.NoError(t, o.SetActiveCampaign(ctx, sid, "c-1"))
	require.NoError(t, o.SetActiveParty(ctx, sid, "p-1"))

	for _, m := range session.AllModes() {
		_, err := o.SwitchMode(ctx, sid, string(m))
		require.NoError(t, err)
		st, err := o.State(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, "u-1", st.ActiveUniverseID, m)
		assert.Equal(t, "c-1", st.ActiveCampaignID, m)
		assert.Equal(t, "p-1", st.ActivePartyID, m)
	}
}

func TestSwitchMode_UnknownModeIsStructured(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t, generation.NewStub("unused"))

	res, err := o.SwitchMode(ctx, sid, "bard_mode")
	require.NoError(t, err)
	assert.Equal(t, "Unknown mode: bard_mode", res["error"])

	st, err := o.State(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, session.ModeMainMenu, st.Mode)
}

func TestProcessInput_NoHandler(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemoryStore(sessionstore.Options{})
	o := New(store, WithLogger(zaptest.NewLogger(t)))

	res, err := o.ProcessInput(ctx, sid, modes.Input{"action": "list"})
	require.NoError(t, err)
	assert.Equal(t, "No handler for mode: main_menu_mode", res["error"])
}

func TestProcessInput_ReturnsHandlerResultAndPersists(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemoryStore(sessionstore.Options{})
	h := &countingHandler{mode: session.ModeMainMenu}
	o := New(store)
	o.RegisterHandler(panicHandler{mode: session.ModeDMStory})
	o.RegisterHandler(h)

	var events []TurnEvent
	o.OnTurn(func(ev TurnEvent) { events = append(events, ev) })

	res, err := o.ProcessInput(ctx, sid, modes.Input{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, modes.Result{"echo": "hello", "nested": map[string]any{"k": 1}}, res)
	assert.Equal(t, 1, h.calls)

	st, err := store.Load(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TurnIndex)

	require.Len(t, events, 1)
	assert.Equal(t, "process_input", events[0].Operation)
	assert.Equal(t, 1, events[0].TurnIndex)
}

func TestProcessInput_OracleFailureIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	o, store := newOrchestrator(t, generation.NewStub().FailWith(errors.New("503")))

	_, err := o.SwitchMode(ctx, sid, "dm_story")
	require.NoError(t, err)

	_, err = o.ProcessInput(ctx, sid, modes.Input{"utterance": "I draw my sword"})
	require.Error(t, err)
	assert.ErrorIs(t, err, modes.ErrOracle)

	st, err := store.Load(ctx, sid)
	require.NoError(t, err)
	assert.Zero(t, st.TurnIndex)
	assert.Empty(t, st.RecentHistory)
}

func TestPersistFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	o := New(failingStore{}, WithHandlers(&countingHandler{mode: session.ModeMainMenu}))

	_, err := o.SwitchMode(ctx, sid, "dm_story")
	assert.ErrorIs(t, err, ErrPersist)

	_, err = o.ProcessInput(ctx, sid, modes.Input{})
	assert.ErrorIs(t, err, ErrPersist)

	assert.ErrorIs(t, o.SetActiveUniverse(ctx, sid, "u"), ErrPersist)
}

func TestSetActiveAndReset(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t, generation.NewStub("unused"))

	st, err := o.SetActive(ctx, sid, Selection{UniverseID: " u-9 ", PartyID: "p-2"})
	require.NoError(t, err)
	assert.Equal(t, "u-9", st.ActiveUniverseID)
	assert.Empty(t, st.ActiveCampaignID)
	assert.Equal(t, "p-2", st.ActivePartyID)

	_, err = o.SwitchMode(ctx, sid, "tutorial")
	require.NoError(t, err)
	require.NoError(t, o.Reset(ctx, sid))

	st, err = o.State(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, session.ModeMainMenu, st.Mode)
	assert.Empty(t, st.ActiveUniverseID)
	assert.Equal(t, 10, st.MaxHistory)
}

func TestSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t, generation.NewStub(`{"narration": "ok"}`))

	_, err := o.SwitchMode(ctx, "a", "dm_story")
	require.NoError(t, err)
	_, err = o.ProcessInput(ctx, "a", modes.Input{"utterance": "hi"})
	require.NoError(t, err)

	b, err := o.State(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, session.ModeMainMenu, b.Mode)
	assert.Zero(t, b.TurnIndex)
}

func TestConcurrentCallsOnOneSessionAreSerialized(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemoryStore(sessionstore.Options{MaxHistory: 100})
	h := &countingHandler{mode: session.ModeMainMenu}
	o := New(store, WithHandlers(h))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.ProcessInput(ctx, sid, modes.Input{"text": fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st, err := store.Load(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, n, st.TurnIndex)
	assert.Zero(t, o.locks.size())
}

func TestOrchestrator_Telemetry(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	tt.Install(t)

	ctx := context.Background()
	o, _ := newOrchestrator(t, generation.NewStub(`{"narration": "Rain drums on the tavern roof.", "log_updates": {}}`))

	_, err := o.SwitchMode(ctx, sid, "dm_story")
	require.NoError(t, err)
	_, err = o.ProcessInput(ctx, sid, modes.Input{"utterance": "I wait"})
	require.NoError(t, err)

	mode, ok := tt.SpanAttribute("Orchestrator.ProcessInput", "mode")
	require.True(t, ok)
	assert.Equal(t, "dm_story_mode", mode.AsString())

	names, err := tt.MetricNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "loremaster.orchestrator.calls_total")
	assert.Contains(t, names, "loremaster.orchestrator.mode_switches_total")
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/logging"
	"github.com/fyrsmithlabs/loremaster/internal/modes"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"github.com/fyrsmithlabs/loremaster/internal/sessionstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("loremaster.orchestrator")

// ErrPersist wraps session store failures. A call that returns it did not
// durably apply its change.
var ErrPersist = errors.New("persisting session state failed")

// TurnEvent describes one completed call.
type TurnEvent struct {
	SessionID string        `json:"session_id"`
	Operation string        `json:"operation"`
	Mode      session.Mode  `json:"mode"`
	TurnIndex int           `json:"turn_index"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// TurnCallback receives an event after every persisted call.
type TurnCallback func(TurnEvent)

// Selection names the identities to activate. Empty fields are left as
// they are.
type Selection struct {
	UniverseID string `json:"universe_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`
	PartyID    string `json:"party_id,omitempty"`
}

// Orchestrator dispatches input to mode handlers and persists session state
// after every mutating call.
type Orchestrator struct {
	store    sessionstore.Store
	handlers map[session.Mode]modes.Handler
	locks    *keyedMutex
	logger   *zap.Logger
	metrics  *turnMetrics
	onTurn   TurnCallback
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHandlers registers handlers at construction.
func WithHandlers(handlers ...modes.Handler) Option {
	return func(o *Orchestrator) {
		for _, h := range handlers {
			o.handlers[h.Mode()] = h
		}
	}
}

// New creates an Orchestrator backed by store.
func New(store sessionstore.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		handlers: make(map[session.Mode]modes.Handler),
		locks:    newKeyedMutex(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.metrics = newTurnMetrics(o.logger)
	return o
}

// RegisterHandler binds h to its mode, replacing any earlier handler.
func (o *Orchestrator) RegisterHandler(h modes.Handler) {
	o.handlers[h.Mode()] = h
}

// OnTurn sets the callback invoked after every persisted call.
func (o *Orchestrator) OnTurn(cb TurnCallback) {
	o.onTurn = cb
}

// State returns a snapshot of the session state. Unknown sessions yield a
// fresh state, which is not saved.
func (o *Orchestrator) State(ctx context.Context, sessionID string) (*session.State, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()
	st, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return st, nil
}

// SwitchMode moves the session to the named mode and persists it. An unknown
// mode name is reported in the result's "error" field and changes nothing.
func (o *Orchestrator) SwitchMode(ctx context.Context, sessionID, name string) (modes.Result, error) {
	next, err := session.ParseMode(name)
	if err != nil {
		return modes.Result{"error": fmt.Sprintf("Unknown mode: %s", name)}, nil
	}

	var previous session.Mode
	st, err := o.mutate(ctx, sessionID, "switch_mode", func(st *session.State) {
		previous = st.Mode
		st.SwitchMode(next)
	})
	if err != nil {
		return nil, err
	}

	o.metrics.recordSwitch(ctx, string(previous), string(next))
	o.logger.Info("mode switched", append(logging.ContextFields(ctx),
		zap.String("session_id", sessionID),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
	)...)
	return modes.Result{
		"mode":     st.Mode.String(),
		"previous": previous.String(),
		"message":  fmt.Sprintf("Switched to %s", st.Mode),
	}, nil
}

// ProcessInput hands in to the handler of the session's current mode,
// persists the state and returns the handler's result unchanged. Handler
// errors are returned without saving.
func (o *Orchestrator) ProcessInput(ctx context.Context, sessionID string, in modes.Input) (modes.Result, error) {
	start := time.Now()
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	ctx, span := tracer.Start(ctx, "Orchestrator.ProcessInput")
	defer span.End()

	st, err := o.store.Load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	mode := st.Mode
	span.SetAttributes(attribute.String("mode", string(mode)))

	h, ok := o.handlers[mode]
	if !ok {
		o.metrics.record(ctx, "process_input", string(mode), "no_handler", start)
		return modes.Result{"error": fmt.Sprintf("No handler for mode: %s", mode)}, nil
	}
	if in == nil {
		in = modes.Input{}
	}

	res, err := h.Handle(ctx, st, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.record(ctx, "process_input", string(mode), "handler_error", start)
		o.notify(TurnEvent{SessionID: sessionID, Operation: "process_input", Mode: mode, TurnIndex: st.TurnIndex, Duration: time.Since(start), Error: err.Error()})
		return nil, fmt.Errorf("%s handler: %w", mode, err)
	}

	if err := o.save(ctx, sessionID, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.record(ctx, "process_input", string(mode), "persist_error", start)
		return nil, err
	}

	o.metrics.record(ctx, "process_input", string(mode), "ok", start)
	o.notify(TurnEvent{SessionID: sessionID, Operation: "process_input", Mode: st.Mode, TurnIndex: st.TurnIndex, Duration: time.Since(start)})
	o.logger.Debug("input processed", append(logging.ContextFields(ctx),
		zap.String("session_id", sessionID),
		zap.String("mode", string(mode)),
		zap.Int("turn_index", st.TurnIndex),
		zap.Duration("duration", time.Since(start)),
	)...)
	return res, nil
}

// SetActiveUniverse sets the active universe and persists it.
func (o *Orchestrator) SetActiveUniverse(ctx context.Context, sessionID, id string) error {
	_, err := o.mutate(ctx, sessionID, "set_active_universe", func(st *session.State) {
		st.ActiveUniverseID = strings.TrimSpace(id)
	})
	return err
}

// SetActiveCampaign sets the active campaign and persists it.
func (o *Orchestrator) SetActiveCampaign(ctx context.Context, sessionID, id string) error {
	_, err := o.mutate(ctx, sessionID, "set_active_campaign", func(st *session.State) {
		st.ActiveCampaignID = strings.TrimSpace(id)
	})
	return err
}

// SetActiveParty sets the active party and persists it.
func (o *Orchestrator) SetActiveParty(ctx context.Context, sessionID, id string) error {
	_, err := o.mutate(ctx, sessionID, "set_active_party", func(st *session.State) {
		st.ActivePartyID = strings.TrimSpace(id)
	})
	return err
}

// SetActive applies every non-empty field of sel in one save.
func (o *Orchestrator) SetActive(ctx context.Context, sessionID string, sel Selection) (*session.State, error) {
	return o.mutate(ctx, sessionID, "set_active", func(st *session.State) {
		if id := strings.TrimSpace(sel.UniverseID); id != "" {
			st.ActiveUniverseID = id
		}
		if id := strings.TrimSpace(sel.CampaignID); id != "" {
			st.ActiveCampaignID = id
		}
		if id := strings.TrimSpace(sel.PartyID); id != "" {
			st.ActivePartyID = id
		}
	})
}

// Reset returns the session to its defaults and persists it.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	_, err := o.mutate(ctx, sessionID, "reset", func(st *session.State) {
		st.Reset()
	})
	return err
}

// mutate runs fn against the loaded state under the session lock and saves
// the result.
func (o *Orchestrator) mutate(ctx context.Context, sessionID, op string, fn func(*session.State)) (*session.State, error) {
	start := time.Now()
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	st, err := o.store.Load(ctx, sessionID)
	if err != nil {
		o.metrics.record(ctx, op, "", "load_error", start)
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	fn(st)
	if err := o.save(ctx, sessionID, st); err != nil {
		o.metrics.record(ctx, op, string(st.Mode), "persist_error", start)
		return nil, err
	}
	o.metrics.record(ctx, op, string(st.Mode), "ok", start)
	o.notify(TurnEvent{SessionID: sessionID, Operation: op, Mode: st.Mode, TurnIndex: st.TurnIndex, Duration: time.Since(start)})
	return st, nil
}

func (o *Orchestrator) save(ctx context.Context, sessionID string, st *session.State) error {
	if err := o.store.Save(ctx, sessionID, st); err != nil {
		o.logger.Error("saving session failed", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("%w: session %s: %v", ErrPersist, sessionID, err)
	}
	return nil
}

func (o *Orchestrator) notify(ev TurnEvent) {
	if o.onTurn != nil {
		o.onTurn(ev)
	}
}

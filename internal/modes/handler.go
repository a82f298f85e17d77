// Package modes implements one handler per session mode.
//
// Handlers read and mutate the session state they are given; persisting it
// is the orchestrator's job. Generation output is decoded leniently: when the
// oracle does not return the expected JSON, each handler falls back to a
// result built around the raw text.
package modes

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/rag"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"go.uber.org/zap"
)

// Input is the free-form request body for a mode.
type Input map[string]any

// String returns the first non-empty string value among keys.
func (in Input) String(keys ...string) string {
	for _, k := range keys {
		if s, ok := in[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Bool reports whether key holds true.
func (in Input) Bool(key string) bool {
	b, _ := in[key].(bool)
	return b
}

// Result is a handler's response. Its shape depends on the mode.
type Result map[string]any

// Handler processes input for one mode.
type Handler interface {
	Mode() session.Mode
	Handle(ctx context.Context, st *session.State, in Input) (Result, error)
}

// Retriever supplies lore and rules context.
type Retriever interface {
	RetrieveLore(ctx context.Context, q rag.Query, f rag.LoreFilter) ([]rag.RetrievedChunk, error)
	RetrieveRules(ctx context.Context, q rag.Query, ruleSystemID string) ([]rag.RetrievedChunk, error)
}

// Deps are shared by every handler. Catalog may be nil, in which case
// entity lookups fall back to raw ids and nothing is written back.
type Deps struct {
	Retriever Retriever
	Oracle    generation.Oracle
	Catalog   *lore.Catalog
	Logger    *zap.Logger
}

// ErrOracle wraps generation failures returned by handlers.
var ErrOracle = errors.New("generation oracle failed")

// NewHandlers returns a handler for every mode.
func NewHandlers(d Deps) []Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	b := base{Deps: d}
	return []Handler{
		&MainMenu{base: b},
		&WorldArchitect{base: b},
		&DMStory{base: b},
		&RulesExplanation{base: b},
		&Tutorial{base: b},
		&WorldEdit{base: b},
	}
}

type base struct {
	Deps
}

// loreContext retrieves and formats lore for the session scope. Retrieval
// failures degrade to the empty-context sentinel.
func (b base) loreContext(ctx context.Context, st *session.State, query string, limit int) string {
	chunks, err := b.Retriever.RetrieveLore(ctx, rag.Query{Text: query, Limit: limit}, rag.LoreFilter{
		UniverseID: st.ActiveUniverseID,
		CampaignID: st.ActiveCampaignID,
	})
	if err != nil {
		b.Logger.Warn("lore retrieval failed, continuing without context", zap.Error(err))
		return rag.NoLoreFound
	}
	return rag.FormatLoreContext(chunks)
}

func (b base) generate(ctx context.Context, req generation.Request, err error) (string, error) {
	if err != nil {
		return "", err
	}
	raw, err := b.Oracle.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOracle, err)
	}
	return raw, nil
}

func (b base) entity(kind lore.Kind, id string) lore.Entity {
	if b.Catalog == nil || id == "" {
		return nil
	}
	e, err := b.Catalog.Get(kind, id)
	if err != nil {
		return nil
	}
	return e
}

func (b base) scope(st *session.State) lore.Scope {
	return lore.Scope{UniverseID: st.ActiveUniverseID, CampaignID: st.ActiveCampaignID}
}

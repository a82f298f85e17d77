package modes

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"go.uber.org/zap"
)

const dmStoryLoreLimit = 10

// DMStory runs a live story turn.
type DMStory struct{ base }

func (*DMStory) Mode() session.Mode { return session.ModeDMStory }

func (h *DMStory) Handle(ctx context.Context, st *session.State, in Input) (Result, error) {
	utterance := in.String("utterance", "player_utterance")
	if utterance == "" {
		return Result{"narration": "I'm listening...", "log_updates": lore.LogUpdates{}}, nil
	}

	loreCtx := h.loreContext(ctx, st, utterance, dmStoryLoreLimit)

	var location string
	if st.CurrentLocationID != "" {
		if e := h.entity(lore.KindLocation, st.CurrentLocationID); e != nil {
			location = "Location: " + lore.Name(e)
		} else {
			location = "Location ID: " + st.CurrentLocationID
		}
	}
	characters := make([]string, 0, len(st.ActiveCharacterIDs))
	for _, id := range st.ActiveCharacterIDs {
		if e := h.entity(lore.KindCharacter, id); e != nil {
			characters = append(characters, fmt.Sprintf("%s (%s)", lore.Name(e), id))
		} else {
			characters = append(characters, id)
		}
	}

	req, err := generation.DMStoryPrompt(loreCtx, st.FormatRecentHistory(), utterance, location, characters)
	raw, err := h.generate(ctx, req, err)
	if err != nil {
		return nil, err
	}

	narration, updates := raw, lore.LogUpdates{}
	fields, isObject := generation.DecodeFields(raw)
	if isObject {
		narration, _ = fields.String("narration")
		updates = logUpdatesFrom(fields)
	}

	st.TurnIndex++
	st.AddToHistory("Player: " + utterance)
	st.AddToHistory("DM: " + narration)

	out := Result{"narration": narration, "log_updates": updates}
	if isObject {
		out = extras(out, fields)
	}
	if h.Catalog != nil && !updates.Empty() {
		applied, err := h.Catalog.ApplyLogUpdates(ctx, updates, h.scope(st))
		if err != nil {
			h.Logger.Warn("applying log updates failed", zap.Int("turn", st.TurnIndex), zap.Error(err))
		}
		out["applied_updates"] = applied
	}
	return out, nil
}

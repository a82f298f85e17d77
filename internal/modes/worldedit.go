package modes

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"go.uber.org/zap"
)

const worldEditLoreLimit = 15

type worldEdit struct {
	Status               string           `json:"status"`
	ProposedChange       map[string]any   `json:"proposed_change"`
	DetectedConflicts    []map[string]any `json:"detected_conflicts"`
	SuggestedResolutions []map[string]any `json:"suggested_resolutions"`
}

func (w *worldEdit) normalize() {
	switch w.Status {
	case lore.StatusNoConflict, lore.StatusSoftConflict, lore.StatusHardConflict, lore.StatusNeedsDiscussion:
	default:
		w.Status = lore.StatusNeedsDiscussion
	}
	if w.ProposedChange == nil {
		w.ProposedChange = map[string]any{}
	}
	if w.DetectedConflicts == nil {
		w.DetectedConflicts = []map[string]any{}
	}
	if w.SuggestedResolutions == nil {
		w.SuggestedResolutions = []map[string]any{}
	}
}

func (w worldEdit) conflictSummary() string {
	var parts []string
	for _, c := range w.DetectedConflicts {
		if d, ok := c["description"].(string); ok && d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "; ")
}

// WorldEdit reviews a player's proposed change against existing lore.
type WorldEdit struct{ base }

func (*WorldEdit) Mode() session.Mode { return session.ModeWorldEdit }

func (h *WorldEdit) Handle(ctx context.Context, st *session.State, in Input) (Result, error) {
	change := in.String("proposed_change")
	playerID := in.String("player_id")
	if playerID == "" {
		playerID = "unknown"
	}
	if change == "" {
		empty := worldEdit{}
		empty.normalize()
		return Result{"narration": "What change would you like to make to the world?", "world_edit": empty}, nil
	}

	loreCtx := h.loreContext(ctx, st, change, worldEditLoreLimit)
	req, err := generation.WorldEditPrompt(change, loreCtx, "")
	raw, err := h.generate(ctx, req, err)
	if err != nil {
		return nil, err
	}

	narration, edit := raw, worldEdit{}
	if fields, ok := generation.DecodeFields(raw); ok {
		narration, _ = fields.String("narration")
		edit = worldEditFrom(fields)
	}
	edit.normalize()

	out := Result{"narration": narration, "world_edit": edit}
	if h.Catalog != nil {
		scope := h.scope(st)
		created, err := h.Catalog.Create(ctx, &lore.WorldChangeRequest{
			UniverseID:      scope.UniverseID,
			CampaignID:      scope.CampaignID,
			PlayerID:        playerID,
			Text:            change,
			ProposedChange:  edit.ProposedChange,
			Status:          edit.Status,
			ConflictSummary: edit.conflictSummary(),
		})
		if err != nil {
			h.Logger.Warn("recording world change request failed", zap.Error(err))
		} else {
			st.PendingWorldChangeRequestID = created.Base().ID
			out["world_change_request_id"] = created.Base().ID
		}
	}
	return out, nil
}

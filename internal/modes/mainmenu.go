package modes

import (
	"context"

	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/session"
)

// UniverseSummary is a main menu listing entry.
type UniverseSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Themes      []string `json:"themes,omitempty"`
}

// MainMenu lists universes and selects the active universe, campaign and
// party.
type MainMenu struct{ base }

func (*MainMenu) Mode() session.Mode { return session.ModeMainMenu }

func (h *MainMenu) Handle(_ context.Context, st *session.State, in Input) (Result, error) {
	action := in.String("action")
	if action == "" {
		action = "list"
	}

	switch action {
	case "list":
		universes := []UniverseSummary{}
		if h.Catalog != nil {
			for _, e := range h.Catalog.List(lore.KindUniverse, lore.ListFilter{}) {
				u := e.(*lore.Universe)
				universes = append(universes, UniverseSummary{ID: u.ID, Name: u.Name, Description: u.Description, Themes: u.Themes})
			}
		}
		return Result{"message": "Choose a universe to play in, or switch to world architect mode to create one.", "action": action, "universes": universes}, nil

	case "select":
		if id := in.String("universe_id"); id != "" {
			if h.Catalog != nil && h.entity(lore.KindUniverse, id) == nil {
				return Result{"message": "Unknown universe: " + id, "action": action}, nil
			}
			st.ActiveUniverseID = id
		}
		if id := in.String("campaign_id"); id != "" {
			st.ActiveCampaignID = id
		}
		if id := in.String("party_id"); id != "" {
			st.ActivePartyID = id
		}
		return Result{
			"message":     "Selection updated.",
			"action":      action,
			"universe_id": st.ActiveUniverseID,
			"campaign_id": st.ActiveCampaignID,
			"party_id":    st.ActivePartyID,
		}, nil
	}

	return Result{"message": "Unknown main menu action: " + action, "action": action}, nil
}

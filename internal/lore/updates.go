package lore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// LogUpdates are the world changes reported alongside a story turn.
type LogUpdates struct {
	Events     []EventUpdate     `json:"events,omitempty"`
	Characters []CharacterUpdate `json:"characters,omitempty"`
}

// Empty reports whether there is nothing to apply.
func (u LogUpdates) Empty() bool {
	return len(u.Events) == 0 && len(u.Characters) == 0
}

type EventUpdate struct {
	Type               string   `json:"type,omitempty"`
	Summary            string   `json:"summary"`
	CharactersInvolved []string `json:"characters_involved,omitempty"`
	LocationsInvolved  []string `json:"locations_involved,omitempty"`
	WorldTimeDelta     string   `json:"world_time_delta,omitempty"`
}

type CharacterUpdate struct {
	ID                string   `json:"id"`
	AppendToBackstory string   `json:"append_to_backstory,omitempty"`
	UpdateMotivations []string `json:"update_motivations,omitempty"`
}

// AppliedUpdates lists what ApplyLogUpdates changed.
type AppliedUpdates struct {
	EventIDs     []string `json:"event_ids,omitempty"`
	CharacterIDs []string `json:"character_ids,omitempty"`
	Skipped      int      `json:"skipped,omitempty"`
}

// ApplyLogUpdates records events in scope and updates the referenced
// characters. Events without a summary and characters that do not exist are
// skipped; any other failure aborts.
func (c *Catalog) ApplyLogUpdates(ctx context.Context, u LogUpdates, scope Scope) (AppliedUpdates, error) {
	var applied AppliedUpdates

	for _, ev := range u.Events {
		if strings.TrimSpace(ev.Summary) == "" {
			applied.Skipped++
			continue
		}
		e := &Event{
			UniverseID:         scope.UniverseID,
			CampaignID:         scope.CampaignID,
			Type:               ev.Type,
			Summary:            ev.Summary,
			TimeInWorld:        ev.WorldTimeDelta,
			CharactersInvolved: ev.CharactersInvolved,
			LocationsInvolved:  ev.LocationsInvolved,
		}
		if ev.Type != "" {
			e.Tags = []string{ev.Type}
		}
		created, err := c.Create(ctx, e)
		if err != nil {
			return applied, fmt.Errorf("recording event: %w", err)
		}
		applied.EventIDs = append(applied.EventIDs, created.Base().ID)
	}

	for _, cu := range u.Characters {
		if cu.ID == "" || (cu.AppendToBackstory == "" && len(cu.UpdateMotivations) == 0) {
			applied.Skipped++
			continue
		}
		got, err := c.Get(KindCharacter, cu.ID)
		if errors.Is(err, ErrNotFound) {
			c.logger.Debug("log update references unknown character", zap.String("id", cu.ID))
			applied.Skipped++
			continue
		}
		if err != nil {
			return applied, err
		}
		ch := got.(*Character)
		if cu.AppendToBackstory != "" {
			if ch.Backstory == "" {
				ch.Backstory = cu.AppendToBackstory
			} else {
				ch.Backstory += "\n" + cu.AppendToBackstory
			}
		}
		if len(cu.UpdateMotivations) > 0 {
			ch.Motivations = cu.UpdateMotivations
		}
		if _, err := c.Update(ctx, ch); err != nil {
			return applied, fmt.Errorf("updating character %s: %w", cu.ID, err)
		}
		applied.CharacterIDs = append(applied.CharacterIDs, cu.ID)
	}

	return applied, nil
}

package lore

import (
	"context"
	"fmt"
)

// World is a generated world document as produced in world architect mode.
type World struct {
	Universe   *Universe   `json:"universe,omitempty"`
	Campaign   *Campaign   `json:"campaign,omitempty"`
	Locations  []Location  `json:"locations,omitempty"`
	Characters []Character `json:"characters,omitempty"`
	Factions   []Faction   `json:"factions,omitempty"`
	SeedEvents []Event     `json:"seed_events,omitempty"`
}

// ImportResult holds the ids written by ImportWorld, per kind.
type ImportResult map[Kind][]string

// ImportWorld writes w into the catalog. With a universeID the existing
// universe is updated from w.Universe; otherwise a new universe is created.
// Ids in the document are ignored and every entity is scoped to the
// universe and, when present, the new campaign.
func (c *Catalog) ImportWorld(ctx context.Context, w World, universeID string) (ImportResult, error) {
	res := ImportResult{}

	var universe *Universe
	if universeID != "" {
		got, err := c.Get(KindUniverse, universeID)
		if err != nil {
			return nil, err
		}
		universe = got.(*Universe)
		if w.Universe != nil {
			mergeUniverse(universe, w.Universe)
			if _, err := c.Update(ctx, universe); err != nil {
				return nil, fmt.Errorf("updating universe: %w", err)
			}
		}
	} else {
		if w.Universe == nil {
			return nil, fmt.Errorf("%w: world has no universe", ErrInvalidEntity)
		}
		u := *w.Universe
		u.Meta = Meta{}
		created, err := c.Create(ctx, &u)
		if err != nil {
			return nil, fmt.Errorf("creating universe: %w", err)
		}
		universe = created.(*Universe)
	}
	res[KindUniverse] = []string{universe.ID}
	scope := Scope{UniverseID: universe.ID}

	if w.Campaign != nil {
		camp := *w.Campaign
		camp.Meta = Meta{}
		camp.UniverseID = universe.ID
		created, err := c.Create(ctx, &camp)
		if err != nil {
			return res, fmt.Errorf("creating campaign: %w", err)
		}
		scope.CampaignID = created.Base().ID
		res[KindCampaign] = []string{scope.CampaignID}
	}

	var entities []Entity
	for i := range w.Locations {
		l := w.Locations[i]
		l.Meta, l.UniverseID, l.CampaignID = Meta{}, scope.UniverseID, scope.CampaignID
		entities = append(entities, &l)
	}
	for i := range w.Characters {
		ch := w.Characters[i]
		ch.Meta, ch.UniverseID, ch.CampaignID = Meta{}, scope.UniverseID, scope.CampaignID
		entities = append(entities, &ch)
	}
	for i := range w.Factions {
		f := w.Factions[i]
		f.Meta, f.UniverseID, f.CampaignID = Meta{}, scope.UniverseID, scope.CampaignID
		entities = append(entities, &f)
	}
	for i := range w.SeedEvents {
		ev := w.SeedEvents[i]
		ev.Meta, ev.UniverseID, ev.CampaignID = Meta{}, scope.UniverseID, scope.CampaignID
		entities = append(entities, &ev)
	}

	for _, e := range entities {
		created, err := c.Create(ctx, e)
		if err != nil {
			return res, fmt.Errorf("creating %s: %w", e.Kind(), err)
		}
		res[e.Kind()] = append(res[e.Kind()], created.Base().ID)
	}
	return res, nil
}

func mergeUniverse(dst, src *Universe) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if len(src.Themes) > 0 {
		dst.Themes = src.Themes
	}
	if src.DefaultRuleSystemID != "" {
		dst.DefaultRuleSystemID = src.DefaultRuleSystemID
	}
}

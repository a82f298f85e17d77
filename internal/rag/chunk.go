// Package rag keeps the vector index in step with the lore catalog and
// retrieves scored context for the mode handlers.
//
// Entities are turned into chunks deterministically: the same entity always
// yields the same chunk ids and texts, so reindexing overwrites in place.
package rag

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/loremaster/internal/lore"
)

// Collections in the vector index.
const (
	CollectionLore  = "lore"
	CollectionRules = "rules"
)

// Metadata keys written on every chunk.
const (
	MetaEntityType = "entity_type"
	MetaEntityID   = "entity_id"
	MetaUniverseID = "universe_id"
	MetaCampaignID = "campaign_id"
	MetaRuleSystem = "rule_system_id"
	MetaName       = "name"
	MetaSummary    = "summary"
)

// Chunk is the indexed unit of text derived from one entity.
type Chunk struct {
	ID         string
	Collection string
	Text       string
	EntityType lore.Kind
	EntityID   string
	Metadata   map[string]string
}

// ChunkID returns the index id of chunk i of an entity.
func ChunkID(kind lore.Kind, id string, i int) string {
	return fmt.Sprintf("%s_%s_%d", kind, id, i)
}

// CollectionFor returns the collection holding chunks of kind.
func CollectionFor(kind lore.Kind) string {
	switch kind {
	case lore.KindRulesTopic, lore.KindTutorialScript:
		return CollectionRules
	}
	return CollectionLore
}

type lines []string

func (l *lines) add(label, value string) {
	if value != "" {
		*l = append(*l, label+": "+value)
	}
}

func (l *lines) addList(label string, values []string) {
	l.add(label, strings.Join(values, ", "))
}

// Compose derives the chunks for e. An entity with no non-empty text fields,
// or of a kind that is not indexed, yields no chunks.
func Compose(e lore.Entity) []Chunk {
	var (
		text  lines
		meta  = map[string]string{}
		scope = e.Scope()
	)

	switch v := e.(type) {
	case *lore.Universe:
		text.add("Universe", v.Name)
		text.add("Description", v.Description)
		text.addList("Themes", v.Themes)
		meta[MetaName] = v.Name
	case *lore.Campaign:
		summary := v.Summary
		if summary == "" {
			summary = v.Description
		}
		text.add("Campaign", v.Name)
		text.add("Summary", summary)
		text.add("Genre", v.Genre)
		text.add("Tone", v.Tone)
		text.addList("Core Themes", v.CoreThemes)
		meta[MetaName], meta["genre"], meta["tone"] = v.Name, v.Genre, v.Tone
	case *lore.Location:
		text.add("Location", v.Name)
		text.add("Type", v.Type)
		text.add("Description", v.Description)
		meta[MetaName], meta["type"] = v.Name, v.Type
	case *lore.Character:
		text.add("Character", v.Name)
		text.add("Role", v.Role)
		text.add("Race", v.Race)
		text.add("Class", v.ClassName)
		text.add("Alignment", v.Alignment)
		text.add("Summary", v.Summary)
		text.add("Backstory", v.Backstory)
		text.addList("Motivations", v.Motivations)
		meta[MetaName], meta["role"] = v.Name, v.Role
	case *lore.Faction:
		text.add("Faction", v.Name)
		text.add("Description", v.Description)
		text.add("Goals", v.Goals)
		meta[MetaName] = v.Name
	case *lore.Event:
		text.add("Event", v.Summary)
		text.add("Details", v.FullText)
		text.add("Time", v.TimeInWorld)
		text.addList("Tags", v.Tags)
		meta[MetaSummary], meta["time_in_world"], meta["tags"] = v.Summary, v.TimeInWorld, strings.Join(v.Tags, ", ")
	case *lore.RulesTopic:
		text.add("Rules Topic", v.Name)
		text.add("Summary", v.Summary)
		text.add("Full Text", v.FullText)
		text.addList("Examples", v.Examples)
		meta[MetaRuleSystem], meta[MetaName], meta["tags"] = v.RuleSystemID, v.Name, strings.Join(v.Tags, ", ")
	case *lore.TutorialScript:
		steps := make([]string, 0, len(v.Steps))
		for _, s := range v.Steps {
			if l := s.Label(); l != "" {
				steps = append(steps, l)
			}
		}
		text.add("Tutorial", v.Name)
		text.add("Description", v.Description)
		text.addList("Steps", steps)
		meta[MetaRuleSystem], meta[MetaName] = v.RuleSystemID, v.Name
	default:
		return nil
	}

	if len(text) == 0 {
		return nil
	}

	kind, id := e.Kind(), e.Base().ID
	meta[MetaEntityType] = string(kind)
	meta[MetaEntityID] = id
	if CollectionFor(kind) == CollectionLore {
		meta[MetaUniverseID] = scope.UniverseID
		meta[MetaCampaignID] = scope.CampaignID
	}
	for k, v := range meta {
		if v == "" {
			delete(meta, k)
		}
	}

	return []Chunk{{
		ID:         ChunkID(kind, id, 0),
		Collection: CollectionFor(kind),
		Text:       strings.Join(text, "\n"),
		EntityType: kind,
		EntityID:   id,
		Metadata:   meta,
	}}
}

// Package lore is the structured entity store: universes, campaigns and the
// characters, places, factions and events that populate them, plus the rules
// corpus and tutorial scripts.
//
// The Catalog keeps entities in memory, validates them and keeps the vector
// index consistent by calling an Indexer on every write to an indexable kind.
package lore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrUnknownKind is returned for an unrecognized entity kind.
	ErrUnknownKind = errors.New("unknown entity kind")

	// ErrInvalidEntity wraps validation failures.
	ErrInvalidEntity = errors.New("invalid entity")
)

// Kind names an entity type. The values double as the entity_type metadata
// in the vector index.
type Kind string

const (
	KindUniverse           Kind = "universe"
	KindCampaign           Kind = "campaign"
	KindParty              Kind = "party"
	KindLocation           Kind = "location"
	KindCharacter          Kind = "character"
	KindFaction            Kind = "faction"
	KindEvent              Kind = "event"
	KindRuleSystem         Kind = "rule_system"
	KindRulesTopic         Kind = "rules_topic"
	KindTutorialScript     Kind = "tutorial_script"
	KindWorldChangeRequest Kind = "world_change_request"
)

// Kinds lists every kind in catalog order.
var Kinds = []Kind{
	KindUniverse, KindCampaign, KindParty, KindLocation, KindCharacter, KindFaction,
	KindEvent, KindRuleSystem, KindRulesTopic, KindTutorialScript, KindWorldChangeRequest,
}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Indexable reports whether entities of this kind are mirrored into the
// vector index.
func (k Kind) Indexable() bool {
	switch k {
	case KindUniverse, KindCampaign, KindLocation, KindCharacter, KindFaction,
		KindEvent, KindRulesTopic, KindTutorialScript:
		return true
	}
	return false
}

// Meta is embedded in every entity.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Base returns the embedded metadata.
func (m *Meta) Base() *Meta { return m }

// Scope is the universe and campaign an entity belongs to.
type Scope struct {
	UniverseID string `json:"universe_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`
}

// Entity is implemented by pointers to every entity type.
type Entity interface {
	Kind() Kind
	Base() *Meta
	Scope() Scope
}

type Universe struct {
	Meta
	Name                string   `json:"name" validate:"required"`
	Description         string   `json:"description,omitempty"`
	Themes              []string `json:"themes,omitempty"`
	DefaultRuleSystemID string   `json:"default_rule_system_id,omitempty"`
}

func (*Universe) Kind() Kind { return KindUniverse }
func (u *Universe) Scope() Scope { return Scope{UniverseID: u.ID} }

type Campaign struct {
	Meta
	UniverseID   string   `json:"universe_id" validate:"required"`
	Name         string   `json:"name" validate:"required"`
	Summary      string   `json:"summary,omitempty"`
	Description  string   `json:"description,omitempty"`
	Genre        string   `json:"genre,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	CoreThemes   []string `json:"core_themes,omitempty"`
	RuleSystemID string   `json:"rule_system_id,omitempty"`
}

func (*Campaign) Kind() Kind { return KindCampaign }
func (c *Campaign) Scope() Scope { return Scope{UniverseID: c.UniverseID, CampaignID: c.ID} }

// Party is a player group playing a campaign.
type Party struct {
	Meta
	CampaignID string   `json:"campaign_id,omitempty"`
	Name       string   `json:"name" validate:"required"`
	MemberIDs  []string `json:"member_ids,omitempty"`
}

func (*Party) Kind() Kind { return KindParty }
func (p *Party) Scope() Scope { return Scope{CampaignID: p.CampaignID} }

type Location struct {
	Meta
	UniverseID  string   `json:"universe_id,omitempty"`
	CampaignID  string   `json:"campaign_id,omitempty"`
	Name        string   `json:"name" validate:"required"`
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (*Location) Kind() Kind { return KindLocation }
func (l *Location) Scope() Scope { return Scope{UniverseID: l.UniverseID, CampaignID: l.CampaignID} }

type Character struct {
	Meta
	UniverseID  string   `json:"universe_id,omitempty"`
	CampaignID  string   `json:"campaign_id,omitempty"`
	Name        string   `json:"name" validate:"required"`
	Role        string   `json:"role,omitempty"`
	Race        string   `json:"race,omitempty"`
	ClassName   string   `json:"class_name,omitempty"`
	Alignment   string   `json:"alignment,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Backstory   string   `json:"backstory,omitempty"`
	Motivations []string `json:"motivations,omitempty"`
}

func (*Character) Kind() Kind { return KindCharacter }
func (c *Character) Scope() Scope { return Scope{UniverseID: c.UniverseID, CampaignID: c.CampaignID} }

type Faction struct {
	Meta
	UniverseID  string `json:"universe_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Goals       string `json:"goals,omitempty"`
}

func (*Faction) Kind() Kind { return KindFaction }
func (f *Faction) Scope() Scope { return Scope{UniverseID: f.UniverseID, CampaignID: f.CampaignID} }

// Event is something that happened in the world, either seeded at creation
// or recorded during play.
type Event struct {
	Meta
	UniverseID         string   `json:"universe_id,omitempty"`
	CampaignID         string   `json:"campaign_id,omitempty"`
	Type               string   `json:"type,omitempty"`
	Summary            string   `json:"summary" validate:"required"`
	FullText           string   `json:"full_text,omitempty"`
	TimeInWorld        string   `json:"time_in_world,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	CharactersInvolved []string `json:"characters_involved,omitempty"`
	LocationsInvolved  []string `json:"locations_involved,omitempty"`
}

func (*Event) Kind() Kind { return KindEvent }
func (e *Event) Scope() Scope { return Scope{UniverseID: e.UniverseID, CampaignID: e.CampaignID} }

type RuleSystem struct {
	Meta
	Name        string `json:"name" validate:"required"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

func (*RuleSystem) Kind() Kind { return KindRuleSystem }
func (*RuleSystem) Scope() Scope { return Scope{} }

type RulesTopic struct {
	Meta
	RuleSystemID string   `json:"rule_system_id,omitempty"`
	Name         string   `json:"name" validate:"required"`
	Summary      string   `json:"summary,omitempty"`
	FullText     string   `json:"full_text,omitempty"`
	Examples     []string `json:"examples,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

func (*RulesTopic) Kind() Kind { return KindRulesTopic }
func (*RulesTopic) Scope() Scope { return Scope{} }

// TutorialStep is one step of a TutorialScript.
type TutorialStep struct {
	Title        string `json:"title,omitempty"`
	Narration    string `json:"narration,omitempty"`
	PromptToUser string `json:"prompt_to_user,omitempty"`
}

// Label is the short form of the step used in indexes and listings.
func (s TutorialStep) Label() string {
	if s.Title != "" {
		return s.Title
	}
	return s.PromptToUser
}

type TutorialScript struct {
	Meta
	RuleSystemID string         `json:"rule_system_id,omitempty"`
	Name         string         `json:"name" validate:"required"`
	Description  string         `json:"description,omitempty"`
	Steps        []TutorialStep `json:"steps,omitempty"`
}

func (*TutorialScript) Kind() Kind { return KindTutorialScript }
func (*TutorialScript) Scope() Scope { return Scope{} }

// Change request statuses.
const (
	StatusPending         = "pending"
	StatusNoConflict      = "no_conflict"
	StatusSoftConflict    = "soft_conflict"
	StatusHardConflict    = "hard_conflict"
	StatusNeedsDiscussion = "needs_discussion"
	StatusAccepted        = "accepted"
	StatusRejected        = "rejected"
)

// WorldChangeRequest records a player's proposed change and the outcome of
// its conflict review.
type WorldChangeRequest struct {
	Meta
	UniverseID      string         `json:"universe_id,omitempty"`
	CampaignID      string         `json:"campaign_id,omitempty"`
	PlayerID        string         `json:"player_id,omitempty"`
	Text            string         `json:"text" validate:"required"`
	ProposedChange  map[string]any `json:"proposed_change,omitempty"`
	Status          string         `json:"status" validate:"required,oneof=pending no_conflict soft_conflict hard_conflict needs_discussion accepted rejected"`
	ConflictSummary string         `json:"conflict_summary,omitempty"`
}

func (*WorldChangeRequest) Kind() Kind { return KindWorldChangeRequest }
func (w *WorldChangeRequest) Scope() Scope {
	return Scope{UniverseID: w.UniverseID, CampaignID: w.CampaignID}
}

// NewEntity returns a zero entity of the given kind.
func NewEntity(kind Kind) (Entity, error) {
	switch kind {
	case KindUniverse:
		return &Universe{}, nil
	case KindCampaign:
		return &Campaign{}, nil
	case KindParty:
		return &Party{}, nil
	case KindLocation:
		return &Location{}, nil
	case KindCharacter:
		return &Character{}, nil
	case KindFaction:
		return &Faction{}, nil
	case KindEvent:
		return &Event{}, nil
	case KindRuleSystem:
		return &RuleSystem{}, nil
	case KindRulesTopic:
		return &RulesTopic{}, nil
	case KindTutorialScript:
		return &TutorialScript{}, nil
	case KindWorldChangeRequest:
		return &WorldChangeRequest{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// DecodeEntity unmarshals JSON data into a new entity of the given kind.
func DecodeEntity(kind Kind, data []byte) (Entity, error) {
	e, err := NewEntity(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrInvalidEntity, kind, err)
	}
	return e, nil
}

// clone deep-copies e through its JSON form.
func clone(e Entity) Entity {
	data, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Sprintf("lore: marshal %s: %v", e.Kind(), err))
	}
	out, err := DecodeEntity(e.Kind(), data)
	if err != nil {
		panic(fmt.Sprintf("lore: %v", err))
	}
	return out
}

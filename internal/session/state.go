package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultMaxHistory is the history capacity used when a state does not
// specify one.
const DefaultMaxHistory = 10

// NoHistory is rendered by FormatRecentHistory when the history is empty.
const NoHistory = "No recent history."

// State is the mutable interaction record for one session.
//
// Identity fields (universe, campaign, party, game session) survive every
// mode transition. Tutorial and world-edit fields belong to their modes and
// are cleared when the session leaves them.
type State struct {
	Mode Mode `json:"current_mode"`

	ActiveUniverseID string `json:"active_universe_id,omitempty"`
	ActiveCampaignID string `json:"active_campaign_id,omitempty"`
	ActivePartyID    string `json:"active_party_id,omitempty"`
	ActiveSessionID  string `json:"active_session_id,omitempty"`

	TurnIndex     int      `json:"turn_index"`
	RecentHistory []string `json:"recent_history"`
	MaxHistory    int      `json:"max_history,omitempty"`

	CurrentLocationID  string   `json:"current_location_id,omitempty"`
	ActiveCharacterIDs []string `json:"active_character_ids"`

	TutorialScriptID string `json:"tutorial_script_id,omitempty"`
	TutorialStep     int    `json:"tutorial_step"`

	PendingWorldChangeRequestID string `json:"pending_world_change_request_id,omitempty"`

	Metadata map[string]any `json:"metadata"`
}

// New returns a state in main menu mode with the given history capacity.
// A non-positive capacity selects DefaultMaxHistory.
func New(maxHistory int) *State {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &State{
		Mode:               ModeMainMenu,
		RecentHistory:      []string{},
		MaxHistory:         maxHistory,
		ActiveCharacterIDs: []string{},
		Metadata:           map[string]any{},
	}
}

// historyLimit returns the effective capacity of the history.
func (s *State) historyLimit() int {
	if s.MaxHistory <= 0 {
		return DefaultMaxHistory
	}
	return s.MaxHistory
}

// AddToHistory appends entry and evicts the oldest entries until the history
// fits its capacity.
func (s *State) AddToHistory(entry string) {
	s.RecentHistory = append(s.RecentHistory, entry)
	if over := len(s.RecentHistory) - s.historyLimit(); over > 0 {
		s.RecentHistory = append([]string(nil), s.RecentHistory[over:]...)
	}
}

// FormatRecentHistory renders the history as 1-indexed "[i] entry" lines.
func (s *State) FormatRecentHistory() string {
	if len(s.RecentHistory) == 0 {
		return NoHistory
	}
	lines := make([]string, len(s.RecentHistory))
	for i, entry := range s.RecentHistory {
		lines[i] = fmt.Sprintf("[%d] %s", i+1, entry)
	}
	return strings.Join(lines, "\n")
}

// SwitchMode moves the session to next and clears the workflow fields of the
// modes it is not in.
func (s *State) SwitchMode(next Mode) {
	s.Mode = next
	if next != ModeTutorial {
		s.TutorialStep = 0
		s.TutorialScriptID = ""
	}
	if next != ModeWorldEdit {
		s.PendingWorldChangeRequestID = ""
	}
}

// AddActiveCharacter adds id to the active character set.
func (s *State) AddActiveCharacter(id string) {
	if id == "" {
		return
	}
	for _, existing := range s.ActiveCharacterIDs {
		if existing == id {
			return
		}
	}
	s.ActiveCharacterIDs = append(s.ActiveCharacterIDs, id)
}

// RemoveActiveCharacter drops id from the active character set.
func (s *State) RemoveActiveCharacter(id string) {
	kept := s.ActiveCharacterIDs[:0]
	for _, existing := range s.ActiveCharacterIDs {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	s.ActiveCharacterIDs = kept
}

// Reset returns the state to its defaults, keeping the history capacity.
func (s *State) Reset() {
	*s = *New(s.historyLimit())
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if data, err := json.Marshal(s); err == nil {
		if c, err := Decode(data); err == nil {
			return c
		}
	}
	// Metadata json cannot encode: copy the slices, share the metadata.
	c := *s
	c.RecentHistory = append([]string(nil), s.RecentHistory...)
	c.ActiveCharacterIDs = append([]string(nil), s.ActiveCharacterIDs...)
	return &c
}

// Encode serializes the state for persistence.
func (s *State) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding session state: %w", err)
	}
	return data, nil
}

// Decode restores a persisted state. Unknown modes fall back to main menu and
// missing collections are initialized, so a record written by an older build
// still loads.
func Decode(data []byte) (*State, error) {
	s := New(DefaultMaxHistory)
	if len(data) == 0 {
		return s, nil
	}

	var raw State
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding session state: %w", err)
	}

	if raw.Mode.Valid() {
		s.Mode = raw.Mode
	}
	s.ActiveUniverseID = strings.TrimSpace(raw.ActiveUniverseID)
	s.ActiveCampaignID = strings.TrimSpace(raw.ActiveCampaignID)
	s.ActivePartyID = strings.TrimSpace(raw.ActivePartyID)
	s.ActiveSessionID = strings.TrimSpace(raw.ActiveSessionID)
	s.CurrentLocationID = strings.TrimSpace(raw.CurrentLocationID)
	s.TutorialScriptID = strings.TrimSpace(raw.TutorialScriptID)
	s.PendingWorldChangeRequestID = strings.TrimSpace(raw.PendingWorldChangeRequestID)

	if raw.TurnIndex > 0 {
		s.TurnIndex = raw.TurnIndex
	}
	if raw.TutorialStep > 0 {
		s.TutorialStep = raw.TutorialStep
	}
	if raw.MaxHistory > 0 {
		s.MaxHistory = raw.MaxHistory
	}
	for _, entry := range raw.RecentHistory {
		s.AddToHistory(entry)
	}
	for _, id := range raw.ActiveCharacterIDs {
		s.AddActiveCharacter(strings.TrimSpace(id))
	}
	if raw.Metadata != nil {
		s.Metadata = raw.Metadata
	}
	return s, nil
}

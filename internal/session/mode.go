// Package session holds the per-session interaction record: the active mode,
// the identities of the universe/campaign/party being played, a bounded
// history of recent exchanges, and the workflow fields owned by individual
// modes.
package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode is returned when a mode name does not match any known mode.
var ErrUnknownMode = errors.New("unknown mode")

// Mode represents an operational context that selects which handler
// processes input.
type Mode string

const (
	// ModeMainMenu lists and selects universes, campaigns and parties.
	ModeMainMenu Mode = "main_menu_mode"

	// ModeWorldArchitect generates new world material.
	ModeWorldArchitect Mode = "world_architect_mode"

	// ModeDMStory runs live play.
	ModeDMStory Mode = "dm_story_mode"

	// ModeRulesExplanation answers rules questions.
	ModeRulesExplanation Mode = "rules_explanation_mode"

	// ModeTutorial walks a player through a tutorial script.
	ModeTutorial Mode = "tutorial_mode"

	// ModeWorldEdit reviews player-proposed changes to the world.
	ModeWorldEdit Mode = "world_edit_mode"
)

// AllModes returns every mode, main menu first.
func AllModes() []Mode {
	return []Mode{
		ModeMainMenu,
		ModeWorldArchitect,
		ModeDMStory,
		ModeRulesExplanation,
		ModeTutorial,
		ModeWorldEdit,
	}
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	for _, known := range AllModes() {
		if m == known {
			return true
		}
	}
	return false
}

// String returns the wire value of the mode.
func (m Mode) String() string {
	return string(m)
}

// ParseMode resolves a mode from its wire value or a short alias such as
// "dm_story" or "tutorial". Matching is case-insensitive.
func ParseMode(name string) (Mode, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnknownMode)
	}
	for _, m := range AllModes() {
		if normalized == string(m) || normalized+"_mode" == string(m) {
			return m, nil
		}
	}
	if alias, ok := modeAliases[normalized]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
}

var modeAliases = map[string]Mode{
	"menu":      ModeMainMenu,
	"architect": ModeWorldArchitect,
	"story":     ModeDMStory,
	"dm":        ModeDMStory,
	"rules":     ModeRulesExplanation,
	"edit":      ModeWorldEdit,
}

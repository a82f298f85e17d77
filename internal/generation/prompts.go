package generation

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

// Sampling temperatures per mode.
const (
	TemperatureDMStory        = 0.8
	TemperatureRules          = 0.7
	TemperatureWorldEdit      = 0.7
	TemperatureWorldArchitect = 0.9
	TemperatureTutorial       = 0.7
)

const dmStorySystem = `You are a consistent, lore-aware Dungeon Master running a tabletop RPG session.
Describe the world vividly, roleplay NPCs and never contradict the lore context.
Respond with a JSON object with two fields:
"narration": what happens, in 2-4 spoken sentences.
"log_updates": world changes, with optional "events" (type, summary, characters_involved, locations_involved, world_time_delta)
and "characters" (id, append_to_backstory, update_motivations). Use ids from the lore context. Leave it empty when nothing changes.`

const dmStoryUser = `{{if .lore}}=== LORE CONTEXT ===
{{.lore}}

{{end}}{{if .history}}=== RECENT HISTORY ===
{{.history}}

{{end}}{{if .location}}=== CURRENT LOCATION ===
{{.location}}

{{end}}{{if .characters}}=== ACTIVE CHARACTERS ===
{{.characters}}

{{end}}=== PLAYER UTTERANCE ===
{{.utterance}}

Respond as the Dungeon Master with narration and log_updates.`

const worldArchitectSystem = `You are a World Architect creating consistent tabletop RPG universes and campaigns.
Respond with a JSON object with the fields "universe" (name, description, themes),
"campaign" (name, genre, tone, core_themes, summary), "locations" (name, type, description, tags),
"characters" (name, role, race, class_name, alignment, summary, backstory, motivations),
"factions" (name, description, goals) and "seed_events" (summary, full_text, time_in_world, tags).
When modifying existing content include only the fields that change.`

const worldArchitectUser = `{{if .existing}}=== EXISTING UNIVERSE ===
{{.existing}}

{{end}}=== USER REQUIREMENTS ===
{{.requirements}}

Generate or modify the world elements as requested.`

const rulesSystem = `You are a patient teacher explaining tabletop RPG rules.
Respond with a JSON object: {"explanation": "...", "examples": {"simple": "...", "intermediate": "...", "advanced": "..."}, "related_topics": ["..."]}.`

const rulesUser = `=== RULES CONTEXT ===
{{.rules}}

=== USER QUESTION ===
{{.question}}

Provide a clear explanation with examples.`

const worldEditSystem = `You are a collaborative World Editor reviewing a player's proposed change to the game world.
Identify conflicts with existing lore and classify them as no_conflict, soft_conflict or hard_conflict.
Respond with a JSON object: {"narration": "...", "world_edit": {"status": "no_conflict|soft_conflict|hard_conflict|needs_discussion",
"proposed_change": {"target_type": "...", "target_id": "...", "change_type": "...", "details": "..."},
"detected_conflicts": [{"type": "...", "entity_id": "...", "description": "..."}],
"suggested_resolutions": [{"label": "...", "description": "..."}]}}.
Propose 2-3 resolutions when conflicts exist.`

const worldEditUser = `=== PROPOSED CHANGE ===
{{.change}}

{{if .lore}}=== RELEVANT LORE CONTEXT ===
{{.lore}}

{{end}}{{if .conflicts}}=== CONFLICT ANALYSIS ===
{{.conflicts}}

{{end}}Analyze the proposed change, identify conflicts, and propose resolutions.`

const tutorialSystem = `You are an encouraging tutor guiding a player through a tabletop RPG tutorial one step at a time.
Respond with a JSON object: {"narration": "...", "tutorial_state": {"current_step": 0,
"next_action": "wait_for_player|proceed_to_next|repeat_explanation", "checks_to_run": ["..."]}}.`

const tutorialUser = `=== TUTORIAL: {{.name}} ===
=== CURRENT STEP: {{.step}} of {{.total}} ===
Step Content: {{.content}}
{{if .response}}
=== PLAYER RESPONSE ===
{{.response}}
{{end}}
Guide the player through this step.`

var (
	dmStoryTemplate        = prompts.NewPromptTemplate(dmStoryUser, []string{"lore", "history", "location", "characters", "utterance"})
	worldArchitectTemplate = prompts.NewPromptTemplate(worldArchitectUser, []string{"existing", "requirements"})
	rulesTemplate          = prompts.NewPromptTemplate(rulesUser, []string{"rules", "question"})
	worldEditTemplate      = prompts.NewPromptTemplate(worldEditUser, []string{"change", "lore", "conflicts"})
	tutorialTemplate       = prompts.NewPromptTemplate(tutorialUser, []string{"name", "step", "total", "content", "response"})
)

func render(t prompts.PromptTemplate, system string, temperature float64, values map[string]any) (Request, error) {
	prompt, err := t.Format(values)
	if err != nil {
		return Request{}, fmt.Errorf("rendering prompt: %w", err)
	}
	return Request{System: system, Prompt: prompt, Temperature: temperature, JSON: true}, nil
}

// DMStoryPrompt builds the request for one story turn.
func DMStoryPrompt(lore, history, utterance, location string, characters []string) (Request, error) {
	return render(dmStoryTemplate, dmStorySystem, TemperatureDMStory, map[string]any{
		"lore":       lore,
		"history":    history,
		"location":   location,
		"characters": strings.Join(characters, ", "),
		"utterance":  utterance,
	})
}

// WorldArchitectPrompt builds a world generation request. existing may be
// empty.
func WorldArchitectPrompt(requirements, existing string) (Request, error) {
	return render(worldArchitectTemplate, worldArchitectSystem, TemperatureWorldArchitect, map[string]any{
		"existing":     existing,
		"requirements": requirements,
	})
}

// RulesPrompt builds a rules question request.
func RulesPrompt(rules, question string) (Request, error) {
	return render(rulesTemplate, rulesSystem, TemperatureRules, map[string]any{
		"rules":    rules,
		"question": question,
	})
}

// WorldEditPrompt builds a conflict review request for a proposed change.
func WorldEditPrompt(change, lore, conflicts string) (Request, error) {
	return render(worldEditTemplate, worldEditSystem, TemperatureWorldEdit, map[string]any{
		"change":    change,
		"lore":      lore,
		"conflicts": conflicts,
	})
}

// TutorialPrompt builds the request for one tutorial step. step is
// zero-based.
func TutorialPrompt(name string, step, total int, content, response string) (Request, error) {
	return render(tutorialTemplate, tutorialSystem, TemperatureTutorial, map[string]any{
		"name":     name,
		"step":     step + 1,
		"total":    total,
		"content":  content,
		"response": response,
	})
}

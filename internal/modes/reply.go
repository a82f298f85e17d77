package modes

import (
	"encoding/json"
	"strconv"

	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
)

// Oracle replies are read field by field. A field with an unexpected shape
// is dropped or defaulted; the raw text is only used when the reply holds
// no JSON object at all.

func logUpdatesFrom(f generation.Fields) lore.LogUpdates {
	obj, ok := f.Object("log_updates")
	if !ok {
		return lore.LogUpdates{}
	}
	var u lore.LogUpdates
	for _, ev := range generation.Each[generation.Fields](obj, "events") {
		summary, _ := ev.String("summary")
		typ, _ := ev.String("type")
		delta, _ := ev.String("world_time_delta")
		u.Events = append(u.Events, lore.EventUpdate{
			Type:               typ,
			Summary:            summary,
			CharactersInvolved: ev.Strings("characters_involved"),
			LocationsInvolved:  ev.Strings("locations_involved"),
			WorldTimeDelta:     delta,
		})
	}
	for _, ch := range generation.Each[generation.Fields](obj, "characters") {
		id, ok := ch.String("id")
		if !ok || id == "" {
			continue
		}
		backstory, _ := ch.String("append_to_backstory")
		u.Characters = append(u.Characters, lore.CharacterUpdate{
			ID:                id,
			AppendToBackstory: backstory,
			UpdateMotivations: ch.Strings("update_motivations"),
		})
	}
	return u
}

func rulesAnswerFrom(f generation.Fields) rulesAnswer {
	a := rulesAnswer{RelatedTopics: f.Strings("related_topics")}
	a.Explanation, _ = f.String("explanation")
	a.Examples = examplesFrom(f)
	return a
}

// examplesFrom accepts either a name->text object or a list of texts, which
// is keyed "example_1", "example_2", ...
func examplesFrom(f generation.Fields) map[string]string {
	if obj, ok := f.Object("examples"); ok {
		out := make(map[string]string, len(obj))
		for name := range obj {
			if text, ok := obj.String(name); ok {
				out[name] = text
			}
		}
		return out
	}
	list := f.Strings("examples")
	out := make(map[string]string, len(list))
	for i, text := range list {
		out["example_"+strconv.Itoa(i+1)] = text
	}
	return out
}

func tutorialStateFrom(f generation.Fields, step int) tutorialState {
	ts := tutorialState{CurrentStep: step, NextAction: NextWaitForPlayer}
	obj, ok := f.Object("tutorial_state")
	if !ok {
		return ts
	}
	if n, ok := generation.Field[int](obj, "current_step"); ok {
		ts.CurrentStep = n
	}
	if next, ok := obj.String("next_action"); ok && next != "" {
		ts.NextAction = next
	}
	ts.ChecksToRun = obj.Strings("checks_to_run")
	return ts
}

func worldEditFrom(f generation.Fields) worldEdit {
	var w worldEdit
	obj, ok := f.Object("world_edit")
	if !ok {
		return w
	}
	w.Status, _ = obj.String("status")
	w.ProposedChange, _ = generation.Field[map[string]any](obj, "proposed_change")
	w.DetectedConflicts = generation.Each[map[string]any](obj, "detected_conflicts")
	w.SuggestedResolutions = generation.Each[map[string]any](obj, "suggested_resolutions")
	return w
}

// extras copies the reply's fields that the handler does not interpret, so
// nothing the oracle returned is lost.
func extras(out Result, f generation.Fields) Result {
	for k, v := range f {
		if _, taken := out[k]; taken {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			out[k] = val
		}
	}
	return out
}

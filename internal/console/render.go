package console

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/loremaster/internal/modes"
	"github.com/fyrsmithlabs/loremaster/internal/session"
)

// InputFor builds the input a mode expects from one free-text line.
func InputFor(mode session.Mode, line string) modes.Input {
	switch mode {
	case session.ModeDMStory:
		return modes.Input{"utterance": line}
	case session.ModeRulesExplanation:
		return modes.Input{"question": line}
	case session.ModeWorldEdit:
		return modes.Input{"proposed_change": line}
	case session.ModeWorldArchitect:
		return modes.Input{"requirements": line}
	case session.ModeTutorial:
		return modes.Input{"player_response": line}
	}
	return modes.Input{"action": line}
}

// proseKeys are the result fields shown as text, in priority order.
var proseKeys = []string{"error", "narration", "explanation", "message"}

// RenderResult picks the human-readable part of a mode result and lists the
// remaining fields as compact JSON.
func RenderResult(res modes.Result) string {
	var b strings.Builder
	shown := map[string]bool{}
	for _, k := range proseKeys {
		if s, ok := res[k].(string); ok && s != "" {
			if k == "error" {
				b.WriteString("error: ")
			}
			b.WriteString(s)
			shown[k] = true
			break
		}
	}

	keys := make([]string, 0, len(res))
	for k := range res {
		if !shown[k] && !empty(res[k]) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		data, err := json.Marshal(res[k])
		if err != nil {
			data = []byte(fmt.Sprint(res[k]))
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "  %s: %s", k, data)
	}
	return b.String()
}

func empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// FormatLatency formats latency in seconds as "X.Xms" or "X.Xs"
func FormatLatency(latencySeconds float64) string {
	if latencySeconds < 1.0 {
		ms := latencySeconds * 1000
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.1fs", latencySeconds)
}

package modes

import (
	"context"
	"encoding/json"

	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/session"
)

// Tutorial next actions.
const (
	NextWaitForPlayer = "wait_for_player"
	NextProceed       = "proceed_to_next"
	NextRepeat        = "repeat_explanation"
)

// BasicTutorial is used when the session has no tutorial script selected.
var BasicTutorial = &lore.TutorialScript{
	Name: "Basic Tutorial",
	Steps: []lore.TutorialStep{
		{Title: "Welcome", Narration: "Welcome to the tutorial!", PromptToUser: "Welcome! Let's start with the basics."},
	},
}

type tutorialState struct {
	CurrentStep int      `json:"current_step"`
	NextAction  string   `json:"next_action"`
	ChecksToRun []string `json:"checks_to_run"`
}

// Tutorial walks the player through a tutorial script, one step per call.
type Tutorial struct{ base }

func (*Tutorial) Mode() session.Mode { return session.ModeTutorial }

func (h *Tutorial) Handle(ctx context.Context, st *session.State, in Input) (Result, error) {
	if id := in.String("script_id"); id != "" && id != st.TutorialScriptID {
		st.TutorialScriptID = id
		st.TutorialStep = 0
	}

	script := BasicTutorial
	if e := h.entity(lore.KindTutorialScript, st.TutorialScriptID); e != nil {
		script = e.(*lore.TutorialScript)
	}

	content := `{"prompt_to_user":"Tutorial complete!","narration":"You've completed the tutorial."}`
	if st.TutorialStep < len(script.Steps) {
		data, err := json.Marshal(script.Steps[st.TutorialStep])
		if err != nil {
			return nil, err
		}
		content = string(data)
	}

	req, err := generation.TutorialPrompt(script.Name, st.TutorialStep, len(script.Steps), content, in.String("player_response"))
	raw, err := h.generate(ctx, req, err)
	if err != nil {
		return nil, err
	}

	narration, ts := raw, tutorialStateFrom(nil, st.TutorialStep)
	if fields, ok := generation.DecodeFields(raw); ok {
		narration, _ = fields.String("narration")
		ts = tutorialStateFrom(fields, st.TutorialStep)
	}
	if ts.ChecksToRun == nil {
		ts.ChecksToRun = []string{}
	}

	if ts.NextAction == NextProceed {
		st.TutorialStep++
	}
	return Result{"narration": narration, "tutorial_state": ts}, nil
}

package modes

import (
	"context"

	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/rag"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"go.uber.org/zap"
)

const rulesLimit = 5

type rulesAnswer struct {
	Explanation   string            `json:"explanation"`
	Examples      map[string]string `json:"examples"`
	RelatedTopics []string          `json:"related_topics"`
}

func (a rulesAnswer) result() Result {
	if a.Examples == nil {
		a.Examples = map[string]string{}
	}
	if a.RelatedTopics == nil {
		a.RelatedTopics = []string{}
	}
	return Result{"explanation": a.Explanation, "examples": a.Examples, "related_topics": a.RelatedTopics}
}

// RulesExplanation answers rules questions from the rules corpus.
type RulesExplanation struct{ base }

func (*RulesExplanation) Mode() session.Mode { return session.ModeRulesExplanation }

func (h *RulesExplanation) Handle(ctx context.Context, st *session.State, in Input) (Result, error) {
	question := in.String("question")
	if question == "" {
		return rulesAnswer{Explanation: "What would you like to know about the rules?"}.result(), nil
	}

	rulesCtx := rag.NoRulesFound
	chunks, err := h.Retriever.RetrieveRules(ctx, rag.Query{Text: question, Limit: rulesLimit}, h.ruleSystem(st))
	if err != nil {
		h.Logger.Warn("rules retrieval failed, continuing without context", zap.Error(err))
	} else {
		rulesCtx = rag.FormatRulesContext(chunks)
	}

	req, err := generation.RulesPrompt(rulesCtx, question)
	raw, err := h.generate(ctx, req, err)
	if err != nil {
		return nil, err
	}

	if fields, ok := generation.DecodeFields(raw); ok {
		return rulesAnswerFrom(fields).result(), nil
	}
	return rulesAnswer{Explanation: raw}.result(), nil
}

// ruleSystem resolves the rule system of the active campaign, falling back
// to the universe default.
func (h *RulesExplanation) ruleSystem(st *session.State) string {
	if e := h.entity(lore.KindCampaign, st.ActiveCampaignID); e != nil {
		if id := e.(*lore.Campaign).RuleSystemID; id != "" {
			return id
		}
	}
	if e := h.entity(lore.KindUniverse, st.ActiveUniverseID); e != nil {
		return e.(*lore.Universe).DefaultRuleSystemID
	}
	return ""
}

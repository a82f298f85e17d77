package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type turn struct {
	Narration  string         `json:"narration"`
	LogUpdates map[string]any `json:"log_updates"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		narration string
	}{
		{"plain object", `{"narration":"The gate opens."}`, true, "The gate opens."},
		{"fenced", "```json\n{\"narration\":\"fenced\"}\n```", true, "fenced"},
		{"surrounding prose", `Sure! {"narration":"inner"} Hope that helps.`, true, "inner"},
		{"not json", "The dragon roars.", false, ""},
		{"broken json", `{"narration": "unterminated`, false, ""},
		{"wrong shape", `{"narration": 42}`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Decode[turn](tt.raw)
			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.raw, res.Raw)
			assert.Equal(t, tt.narration, res.Parsed.Narration)
		})
	}
}

func TestDecodeFields(t *testing.T) {
	f, ok := DecodeFields("```json\n" + `{"narration": "The gate opens.", "turn": 3, "tags": "lone", "list": ["a", 1, "b"], "nested": {"k": "v"}, "gone": null}` + "\n```")
	require.True(t, ok)

	narration, ok := f.String("narration")
	assert.True(t, ok)
	assert.Equal(t, "The gate opens.", narration)

	_, ok = f.String("turn")
	assert.False(t, ok)
	n, ok := Field[int](f, "turn")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	assert.Equal(t, []string{"lone"}, f.Strings("tags"))
	assert.Equal(t, []string{"a", "b"}, f.Strings("list"))
	assert.Nil(t, f.Strings("missing"))

	nested, ok := f.Object("nested")
	require.True(t, ok)
	v, _ := nested.String("k")
	assert.Equal(t, "v", v)
	_, ok = f.Object("narration")
	assert.False(t, ok)
	_, ok = Field[string](f, "gone")
	assert.False(t, ok)

	_, ok = DecodeFields("The dragon roars.")
	assert.False(t, ok)
	_, ok = DecodeFields(`{"narration": "unterminated`)
	assert.False(t, ok)
}

func TestDMStoryPrompt(t *testing.T) {
	req, err := DMStoryPrompt("=== Relevant Lore Context ===", "[1] Player: hi", "I open the door", "", []string{"c1", "c2"})
	require.NoError(t, err)

	assert.True(t, req.JSON)
	assert.Equal(t, TemperatureDMStory, req.Temperature)
	assert.Contains(t, req.Prompt, "=== LORE CONTEXT ===")
	assert.Contains(t, req.Prompt, "[1] Player: hi")
	assert.Contains(t, req.Prompt, "=== ACTIVE CHARACTERS ===\nc1, c2")
	assert.Contains(t, req.Prompt, "=== PLAYER UTTERANCE ===\nI open the door")
	assert.NotContains(t, req.Prompt, "CURRENT LOCATION")
}

func TestPromptTemperatures(t *testing.T) {
	rules, err := RulesPrompt("No relevant rules found.", "How does grappling work?")
	require.NoError(t, err)
	assert.Equal(t, 0.7, rules.Temperature)
	assert.Contains(t, rules.Prompt, "How does grappling work?")

	arch, err := WorldArchitectPrompt("a sky world", "")
	require.NoError(t, err)
	assert.Equal(t, 0.9, arch.Temperature)
	assert.NotContains(t, arch.Prompt, "EXISTING UNIVERSE")

	edit, err := WorldEditPrompt("Liora is a princess", "lore", "")
	require.NoError(t, err)
	assert.Equal(t, 0.7, edit.Temperature)
	assert.Contains(t, edit.Prompt, "=== RELEVANT LORE CONTEXT ===\nlore")

	tut, err := TutorialPrompt("Basic Tutorial", 0, 3, "Welcome!", "")
	require.NoError(t, err)
	assert.Contains(t, tut.Prompt, "=== CURRENT STEP: 1 of 3 ===")
	assert.NotContains(t, tut.Prompt, "PLAYER RESPONSE")
}

func TestStub(t *testing.T) {
	ctx := context.Background()
	s := NewStub("first", "second")

	out, err := s.Generate(ctx, Request{Prompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", out)
	out, _ = s.Generate(ctx, Request{Prompt: "b"})
	assert.Equal(t, "second", out)
	out, _ = s.Generate(ctx, Request{Prompt: "c"})
	assert.Equal(t, "second", out)
	assert.Len(t, s.Requests(), 3)

	boom := errors.New("boom")
	_, err = s.FailWith(boom).Generate(ctx, Request{})
	assert.ErrorIs(t, err, boom)
}

func TestLimited(t *testing.T) {
	stub := NewStub("ok")
	l := NewLimited(stub, 0.001, 1, "stub")

	out, err := l.Generate(context.Background(), Request{Prompt: "one"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	// The bucket is empty and the next token is far beyond the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Generate(ctx, Request{Prompt: "two"})
	assert.Error(t, err)
	assert.Len(t, stub.Requests(), 1)

	unlimited := NewLimited(stub, 0, 0, "stub")
	for i := 0; i < 5; i++ {
		_, err := unlimited.Generate(context.Background(), Request{})
		require.NoError(t, err)
	}
}

func TestNewOracle(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	o, err := NewOracle(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &Limited{}, o)
	require.NoError(t, o.Close())

	cfg.Generation.Provider = "anthropic"
	_, err = NewOracle(ctx, cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.Generation.Provider = "gemini"
	_, err = NewOracle(ctx, cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.Generation.Provider = "palm"
	_, err = NewOracle(ctx, cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewLangChainOracle_Validation(t *testing.T) {
	_, err := NewLangChainOracle(LangChainConfig{Backend: "ollama"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewLangChainOracle(LangChainConfig{Backend: "openai", Model: "gpt-4o-mini"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	o, err := NewLangChainOracle(LangChainConfig{Backend: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.NotNil(t, o)
}

type recordingModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	reply    string
	err      error
}

func (m *recordingModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *recordingModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return m.reply, m.err
}

func TestLangChainOracle_Generate(t *testing.T) {
	ctx := context.Background()
	model := &recordingModel{reply: `{"narration": "ok"}`}
	o := &LangChainOracle{llm: model, maxTokens: 300}

	out, err := o.Generate(ctx, Request{System: "You are the DM.", Prompt: "I open the door", Temperature: 0.8, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"narration": "ok"}`, out)

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, []llms.ContentPart{llms.TextContent{Text: "You are the DM." + jsonInstruction}}, model.messages[0].Parts)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, 0.8, model.opts.Temperature)
	assert.Equal(t, 300, model.opts.MaxTokens)

	_, err = o.Generate(ctx, Request{Prompt: "x", MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, 50, model.opts.MaxTokens)

	model.reply = ""
	_, err = o.Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	model.err = errors.New("connection refused")
	_, err = o.Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

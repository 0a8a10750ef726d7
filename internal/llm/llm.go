package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/studymate/assessor/internal/llm/prompts"
	"github.com/studymate/assessor/internal/model"
)

// MaxQuestions bounds a single generation request.
const MaxQuestions = 50

var (
	// ErrGenerationFailed means the model returned no usable questions.
	ErrGenerationFailed = errors.New("question generation failed")
	// ErrInvalidRequest means the generation request itself is unusable.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	limiter *rate.Limiter
}

// New creates a new LLM client. requestsPerSecond <= 0 disables throttling.
func New(baseURL, apiKey, modelName string, requestsPerSecond float64) (*Client, error) {
	if modelName == "" {
		return nil, errors.New("model name is required")
	}
	if err := prompts.Load(nil); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// GenerateQuestions asks the model for a question set built from req.SourceText.
// Malformed questions are dropped; if none survive, ErrGenerationFailed is returned.
func (c *Client) GenerateQuestions(ctx context.Context, req model.GenerateRequest) ([]model.Question, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	prompt, err := prompts.BuildGeneratePrompt(req)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.4,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: LLM API call: %v", ErrGenerationFailed, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: LLM returned no choices", ErrGenerationFailed)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	questions, err := ParseQuestions(raw, req)
	if err != nil {
		return nil, err
	}
	slog.Info("generated questions", "mode", req.Mode, "requested", req.Count, "accepted", len(questions))
	return questions, nil
}

// ValidateRequest checks a generation request before any API call is made.
func ValidateRequest(req model.GenerateRequest) error {
	if strings.TrimSpace(req.SourceText) == "" {
		return fmt.Errorf("%w: source text is empty", ErrInvalidRequest)
	}
	if req.Count <= 0 || req.Count > MaxQuestions {
		return fmt.Errorf("%w: count must be between 1 and %d, got %d", ErrInvalidRequest, MaxQuestions, req.Count)
	}
	if req.Difficulty != "" && !req.Difficulty.IsValid() {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRequest, req.Difficulty)
	}
	if req.Kind != "" && !req.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	if req.TimeLimitMinutes < 0 {
		return fmt.Errorf("%w: negative time limit", ErrInvalidRequest)
	}
	return nil
}

type generatedSet struct {
	Questions []generatedQuestion `json:"questions"`
}

type generatedQuestion struct {
	Kind          string          `json:"kind"`
	Type          string          `json:"type"`
	Prompt        string          `json:"prompt"`
	Question      string          `json:"question"`
	Options       []string        `json:"options"`
	CorrectAnswer json.RawMessage `json:"correct_answer"`
	Points        int             `json:"points"`
	Difficulty    string          `json:"difficulty"`
	Topic         string          `json:"topic"`
	Explanation   string          `json:"explanation"`
}

// ParseQuestions normalizes a raw model response into valid questions.
func ParseQuestions(raw string, req model.GenerateRequest) ([]model.Question, error) {
	var set generatedSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, fmt.Errorf("%w: parse LLM response: %v", ErrGenerationFailed, err)
	}

	var questions []model.Question
	for i, g := range set.Questions {
		q := normalizeQuestion(g, req)
		q.ID = "q" + strconv.Itoa(len(questions)+1)
		if err := q.Validate(); err != nil {
			slog.Warn("dropping generated question", "index", i, "error", err)
			continue
		}
		questions = append(questions, q)
		if req.Count > 0 && len(questions) == req.Count {
			break
		}
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no valid questions in response", ErrGenerationFailed)
	}
	return questions, nil
}

func normalizeQuestion(g generatedQuestion, req model.GenerateRequest) model.Question {
	kindName := g.Kind
	if kindName == "" {
		kindName = g.Type
	}
	kind := NormalizeKind(kindName)
	if kind == "" {
		kind = req.Kind
	}

	prompt := strings.TrimSpace(g.Prompt)
	if prompt == "" {
		prompt = strings.TrimSpace(g.Question)
	}

	difficulty := model.Difficulty(strings.ToLower(strings.TrimSpace(g.Difficulty)))
	if !difficulty.IsValid() {
		difficulty = req.Difficulty
	}

	points := g.Points
	if points <= 0 {
		points = 1
	}

	var options []string
	for _, o := range g.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if kind != model.KindMultipleChoice {
		options = nil
	}

	return model.Question{
		Kind:          kind,
		Prompt:        prompt,
		Options:       options,
		CorrectAnswer: normalizeAnswer(kind, options, g.CorrectAnswer),
		Points:        points,
		Difficulty:    difficulty,
		Topic:         strings.TrimSpace(g.Topic),
		Explanation:   strings.TrimSpace(g.Explanation),
	}
}

// NormalizeKind maps the spellings models tend to produce onto a Kind.
// It returns "" for anything unrecognized.
func NormalizeKind(s string) model.Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	switch s {
	case "multiple-choice", "mcq", "mc", "multiple-choice-question", "single-choice":
		return model.KindMultipleChoice
	case "true-false", "truefalse", "true-or-false", "boolean", "tf":
		return model.KindTrueFalse
	case "fill-blank", "fill-in-blank", "fill-in-the-blank", "fill-in", "cloze":
		return model.KindFillBlank
	case "short-answer", "short", "open":
		return model.KindShortAnswer
	case "essay", "long-answer":
		return model.KindEssay
	case "structured", "structured-question":
		return model.KindStructured
	}
	return ""
}

func normalizeAnswer(kind model.Kind, options []string, raw json.RawMessage) model.Answer {
	if len(raw) == 0 {
		return model.Answer{}
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return model.TextAnswer(strconv.FormatBool(b))
	}

	var a model.Answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return model.Answer{}
	}

	switch kind {
	case model.KindMultipleChoice:
		if a.IsIndex {
			return a
		}
		return model.IndexAnswer(optionIndex(options, a.Text))
	case model.KindTrueFalse:
		t := strings.ToLower(strings.TrimSpace(a.String()))
		switch t {
		case "t", "yes", "1":
			t = "true"
		case "f", "no", "0":
			t = "false"
		}
		return model.TextAnswer(t)
	}
	// Text kinds are graded by string match, so a numeric key becomes its digits.
	if a.IsIndex {
		return model.TextAnswer(strconv.Itoa(a.Index))
	}
	return a
}

// optionIndex resolves an answer given as option text or as a letter label.
// It returns -1 when nothing matches.
func optionIndex(options []string, text string) int {
	text = strings.TrimSpace(text)
	for i, o := range options {
		if strings.EqualFold(o, text) {
			return i
		}
	}
	if len(text) == 1 {
		c := strings.ToUpper(text)[0]
		if c >= 'A' && c <= 'Z' && int(c-'A') < len(options) {
			return int(c - 'A')
		}
	}
	if n, err := strconv.Atoi(text); err == nil && n >= 0 && n < len(options) {
		return n
	}
	return -1
}

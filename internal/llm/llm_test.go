package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/studymate/assessor/internal/assessment"
	"github.com/studymate/assessor/internal/model"
)

func TestNormalizeKind(t *testing.T) {
	tests := []struct {
		in   string
		want model.Kind
	}{
		{"multiple-choice", model.KindMultipleChoice},
		{"Multiple_Choice", model.KindMultipleChoice},
		{"MCQ", model.KindMultipleChoice},
		{"true_false", model.KindTrueFalse},
		{"True or False", model.KindTrueFalse},
		{"fill_in_the_blank", model.KindFillBlank},
		{"short answer", model.KindShortAnswer},
		{"essay", model.KindEssay},
		{"Structured", model.KindStructured},
		{"matching", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeKind(tt.in); got != tt.want {
				t.Errorf("NormalizeKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOptionIndex(t *testing.T) {
	opts := []string{"Mercury", "Venus", "Earth"}
	tests := []struct {
		in   string
		want int
	}{
		{"venus", 1},
		{" Earth ", 2},
		{"A", 0},
		{"c", 2},
		{"D", -1},
		{"1", 1},
		{"7", -1},
		{"Pluto", -1},
	}
	for _, tt := range tests {
		if got := optionIndex(opts, tt.in); got != tt.want {
			t.Errorf("optionIndex(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseQuestions(t *testing.T) {
	raw := `{"questions": [
		{"kind": "multiple_choice", "prompt": "Closest planet to the sun?", "options": ["Mercury", "Venus", ""], "correct_answer": 0, "points": 2, "difficulty": "Easy"},
		{"type": "true_false", "question": "Venus is hotter than Mercury.", "correct_answer": true},
		{"kind": "mcq", "prompt": "Largest planet?", "options": ["Mars", "Jupiter"], "correct_answer": "Jupiter"},
		{"kind": "mcq", "prompt": "Broken", "options": [], "correct_answer": 0},
		{"kind": "matching", "prompt": "Unsupported"},
		{"kind": "essay", "prompt": "Discuss planetary formation.", "correct_answer": "Accretion...", "points": 10, "difficulty": "extreme"},
		{"kind": "fill_blank", "prompt": "The Apollo 11 landing was in ___.", "correct_answer": 1969},
		{"kind": "tf", "prompt": "Mars has two moons.", "correct_answer": 1},
		{"kind": "short-answer", "prompt": "Name the red planet."},
		{"kind": "fill-blank", "prompt": "Saturn has ___ rings.", "correct_answer": "   "}
	]}`
	req := model.GenerateRequest{Count: 10, Difficulty: model.DifficultyMedium}

	qs, err := ParseQuestions(raw, req)
	if err != nil {
		t.Fatalf("ParseQuestions: %v", err)
	}
	if len(qs) != 6 {
		t.Fatalf("expected 6 valid questions, got %d", len(qs))
	}

	for i, q := range qs {
		if want := "q" + string(rune('1'+i)); q.ID != want {
			t.Errorf("question %d id = %q, want %q", i, q.ID, want)
		}
	}

	if qs[0].Difficulty != model.DifficultyEasy || qs[0].Points != 2 || len(qs[0].Options) != 2 {
		t.Errorf("unexpected first question: %+v", qs[0])
	}
	if qs[1].Kind != model.KindTrueFalse || qs[1].CorrectAnswer != model.TextAnswer("true") {
		t.Errorf("true/false not normalized: %+v", qs[1])
	}
	if qs[1].Points != 1 || qs[1].Difficulty != model.DifficultyMedium {
		t.Errorf("defaults not applied: %+v", qs[1])
	}
	if qs[2].CorrectAnswer != model.IndexAnswer(1) {
		t.Errorf("option text should resolve to index, got %+v", qs[2].CorrectAnswer)
	}
	if qs[3].Kind != model.KindEssay || qs[3].Difficulty != model.DifficultyMedium {
		t.Errorf("unexpected essay question: %+v", qs[3])
	}
	if qs[4].Kind != model.KindFillBlank || qs[4].CorrectAnswer != model.TextAnswer("1969") {
		t.Errorf("numeric fill-blank key not converted to text: %+v", qs[4])
	}
	if !assessment.IsCorrect(qs[4], model.TextAnswer(" 1969")) {
		t.Error("fill-blank with numeric key cannot be answered correctly")
	}
	if qs[5].Kind != model.KindTrueFalse || qs[5].CorrectAnswer != model.TextAnswer("true") {
		t.Errorf("numeric true/false key not converted: %+v", qs[5])
	}
	if !assessment.IsCorrect(qs[5], model.TextAnswer("True")) {
		t.Error("true/false with numeric key cannot be answered correctly")
	}
}

func TestParseQuestionsTruncatesToCount(t *testing.T) {
	raw := `{"questions": [
		{"kind": "short-answer", "prompt": "a?", "correct_answer": "a"},
		{"kind": "short-answer", "prompt": "b?", "correct_answer": "b"},
		{"kind": "short-answer", "prompt": "c?", "correct_answer": "c"}
	]}`
	qs, err := ParseQuestions(raw, model.GenerateRequest{Count: 2})
	if err != nil {
		t.Fatalf("ParseQuestions: %v", err)
	}
	if len(qs) != 2 {
		t.Errorf("expected 2 questions, got %d", len(qs))
	}
}

func TestParseQuestionsFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "Sure! Here are your questions:"},
		{"empty list", `{"questions": []}`},
		{"all invalid", `{"questions": [{"kind": "mcq", "prompt": "x", "options": ["a"], "correct_answer": 4}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuestions(tt.raw, model.GenerateRequest{Count: 3})
			if !errors.Is(err, ErrGenerationFailed) {
				t.Errorf("expected ErrGenerationFailed, got %v", err)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	ok := model.GenerateRequest{SourceText: "notes", Count: 5}
	tests := []struct {
		name    string
		mutate  func(r *model.GenerateRequest)
		wantErr bool
	}{
		{"valid", func(r *model.GenerateRequest) {}, false},
		{"blank source", func(r *model.GenerateRequest) { r.SourceText = "  " }, true},
		{"zero count", func(r *model.GenerateRequest) { r.Count = 0 }, true},
		{"too many", func(r *model.GenerateRequest) { r.Count = MaxQuestions + 1 }, true},
		{"bad difficulty", func(r *model.GenerateRequest) { r.Difficulty = "insane" }, true},
		{"bad kind", func(r *model.GenerateRequest) { r.Kind = "matching" }, true},
		{"negative time", func(r *model.GenerateRequest) { r.TimeLimitMinutes = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ok
			tt.mutate(&r)
			err := ValidateRequest(r)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func fakeOpenAI(t *testing.T, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			_ = json.NewEncoder(w).Encode(openai.ModelsList{})
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			calls.Add(1)
			body, _ := io.ReadAll(r.Body)
			var req openai.ChatCompletionRequest
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "<study-material>") {
				t.Errorf("unexpected messages: %+v", req.Messages)
			}
			_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{{
					Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateQuestions(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOpenAI(t, `{"questions": [{"kind": "short-answer", "prompt": "Capital of France?", "correct_answer": "Paris"}]}`, &calls)

	c, err := New(srv.URL, "test", "test-model", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	qs, err := c.GenerateQuestions(context.Background(), model.GenerateRequest{SourceText: "France's capital is Paris.", Count: 1})
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(qs) != 1 || qs[0].CorrectAnswer.Text != "Paris" {
		t.Errorf("unexpected questions: %+v", qs)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 API call, got %d", calls.Load())
	}

	// Invalid requests never reach the API.
	if _, err := c.GenerateQuestions(context.Background(), model.GenerateRequest{Count: 1}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("invalid request reached the API")
	}
}

func TestGenerateQuestionsNoValidQuestions(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOpenAI(t, `{"questions": []}`, &calls)

	c, err := New(srv.URL, "test", "test-model", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.GenerateQuestions(context.Background(), model.GenerateRequest{SourceText: "notes", Count: 3})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New("", "key", "", 1); err == nil {
		t.Error("expected error for empty model name")
	}
}

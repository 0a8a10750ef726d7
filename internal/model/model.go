package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind selects how a question's answer is validated.
type Kind string

const (
	KindMultipleChoice Kind = "multiple-choice"
	KindTrueFalse      Kind = "true-false"
	KindFillBlank      Kind = "fill-blank"
	KindShortAnswer    Kind = "short-answer"
	KindEssay          Kind = "essay"
	KindStructured     Kind = "structured"
)

var validKinds = map[Kind]bool{
	KindMultipleChoice: true,
	KindTrueFalse:      true,
	KindFillBlank:      true,
	KindShortAnswer:    true,
	KindEssay:          true,
	KindStructured:     true,
}

// IsValid reports whether k is a known question kind.
func (k Kind) IsValid() bool {
	return validKinds[k]
}

// AutoScored reports whether answers of this kind can be judged without a human.
func (k Kind) AutoScored() bool {
	return k.IsValid() && k != KindEssay && k != KindStructured
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether d is one of the known difficulty tiers.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Mode records which feature launched an assessment.
type Mode string

const (
	ModeQuiz Mode = "quiz"
	ModeExam Mode = "exam"
)

// SessionStatus represents the status of an assessment session.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not-started"
	StatusActive     SessionStatus = "active"
	StatusSubmitted  SessionStatus = "submitted"
)

// Answer is either an option index or free text.
// On the wire it is a bare JSON number or a bare JSON string.
type Answer struct {
	Index   int
	Text    string
	IsIndex bool
}

// IndexAnswer builds an index answer.
func IndexAnswer(i int) Answer {
	return Answer{Index: i, IsIndex: true}
}

// TextAnswer builds a free-text answer.
func TextAnswer(s string) Answer {
	return Answer{Text: s}
}

// String renders the answer for logs and prompts.
func (a Answer) String() string {
	if a.IsIndex {
		return strconv.Itoa(a.Index)
	}
	return a.Text
}

// MarshalJSON implements json.Marshaler.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.IsIndex {
		return json.Marshal(a.Index)
	}
	return json.Marshal(a.Text)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("answer must be a number or a string: %w", err)
	}
	i, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("answer index must be an integer: %w", err)
	}
	*a = IndexAnswer(i)
	return nil
}

// Question is a gradable item, independent of where it came from.
type Question struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Prompt        string     `json:"prompt"`
	Options       []string   `json:"options,omitempty"`
	CorrectAnswer Answer     `json:"correct_answer"`
	Points        int        `json:"points"`
	Difficulty    Difficulty `json:"difficulty,omitempty"`
	Topic         string     `json:"topic,omitempty"`
	Explanation   string     `json:"explanation,omitempty"`
}

// Validate checks the structural invariants of a question.
func (q Question) Validate() error {
	if q.ID == "" {
		return errors.New("question id is empty")
	}
	if q.Prompt == "" {
		return fmt.Errorf("question %s: prompt is empty", q.ID)
	}
	if !q.Kind.IsValid() {
		return fmt.Errorf("question %s: unknown kind %q", q.ID, q.Kind)
	}
	if q.Points <= 0 {
		return fmt.Errorf("question %s: points must be positive, got %d", q.ID, q.Points)
	}
	if q.Kind == KindMultipleChoice {
		if len(q.Options) == 0 {
			return fmt.Errorf("question %s: multiple-choice question has no options", q.ID)
		}
		if !q.CorrectAnswer.IsIndex || q.CorrectAnswer.Index < 0 || q.CorrectAnswer.Index >= len(q.Options) {
			return fmt.Errorf("question %s: correct answer %q is not an index into %d options",
				q.ID, q.CorrectAnswer.String(), len(q.Options))
		}
	} else if q.Kind.AutoScored() {
		if q.CorrectAnswer.IsIndex {
			return fmt.Errorf("question %s: %s answer must be text, got index %d",
				q.ID, q.Kind, q.CorrectAnswer.Index)
		}
		if strings.TrimSpace(q.CorrectAnswer.Text) == "" {
			return fmt.Errorf("question %s: %s question has no correct answer", q.ID, q.Kind)
		}
	}
	return nil
}

// Public strips the correct answer and explanation so the question can be shown to a student.
func (q Question) Public() Question {
	q.CorrectAnswer = Answer{}
	q.Explanation = ""
	return q
}

// Tally counts correct and total questions for one difficulty tier.
type Tally struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// ScoreResult is the immutable outcome of a submitted session.
type ScoreResult struct {
	TotalScore          int                  `json:"total_score"`
	TotalPossible       int                  `json:"total_possible"`
	Percentage          int                  `json:"percentage"`
	CorrectCount        int                  `json:"correct_count"`
	TotalQuestions      int                  `json:"total_questions"`
	DifficultyBreakdown map[Difficulty]Tally `json:"difficulty_breakdown"`
	TimeTakenSeconds    int                  `json:"time_taken_seconds"`
}

// GenerateRequest describes a question-generation call.
type GenerateRequest struct {
	SourceText       string     `json:"source_text"`
	Count            int        `json:"count"`
	Difficulty       Difficulty `json:"difficulty"`
	Kind             Kind       `json:"kind"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	Mode             Mode       `json:"mode"`
}

// ResultRecord is what gets persisted once a session is submitted.
type ResultRecord struct {
	ID          int64             `json:"id"`
	SessionID   string            `json:"session_id"`
	Mode        Mode              `json:"mode"`
	SubjectID   *string           `json:"subject_id,omitempty"`
	UnitID      *string           `json:"unit_id,omitempty"`
	Answers     map[string]Answer `json:"answers"`
	Result      ScoreResult       `json:"result"`
	StartedAt   time.Time         `json:"started_at"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// ResultFilter narrows a result listing. Empty fields mean no filtering.
type ResultFilter struct {
	Mode      Mode
	SubjectID string
	Limit     int
}

// QuestionImport is used for loading question-bank entries from JSON.
type QuestionImport struct {
	Subject       string     `json:"subject"`
	Unit          string     `json:"unit"`
	Year          int        `json:"year"`
	Kind          Kind       `json:"kind"`
	Prompt        string     `json:"prompt"`
	Options       []string   `json:"options"`
	CorrectAnswer Answer     `json:"correct_answer"`
	Points        int        `json:"points"`
	Difficulty    Difficulty `json:"difficulty"`
	Topic         string     `json:"topic"`
	Explanation   string     `json:"explanation"`
}

// BankQuestion is a question-bank row.
type BankQuestion struct {
	ID      int64
	Subject string
	Unit    string
	Year    int
	Question
}

// BankFilter narrows a question-bank query. Empty fields mean no filtering.
type BankFilter struct {
	Subject    string
	Unit       string
	Difficulty Difficulty
	Kind       Kind
}

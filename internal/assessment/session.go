// Package assessment implements a timed quiz/exam attempt: the session state
// machine, the countdown timer that auto-submits it and the scorer.
package assessment

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/studymate/assessor/internal/model"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the session's current status.
	ErrInvalidState = errors.New("invalid session state")
	// ErrInvalidInput is returned for empty question sets, bad budgets and unknown question ids.
	ErrInvalidInput = errors.New("invalid input")
)

// Session is one timed attempt at a fixed set of questions.
// It is safe for concurrent use; every transition is checked and applied under one lock.
type Session struct {
	mu sync.Mutex

	questions []model.Question
	index     map[string]int
	answers   map[string]model.Answer
	budget    int
	startedAt time.Time
	status    model.SessionStatus
	result    *model.ScoreResult
}

// NewSession returns a session in the not-started state.
func NewSession() *Session {
	return &Session{
		answers: make(map[string]model.Answer),
		status:  model.StatusNotStarted,
	}
}

// Start fixes the question set and budget and starts the clock at now.
func (s *Session) Start(questions []model.Question, timeBudgetSeconds int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.StatusNotStarted {
		return fmt.Errorf("start session in status %s: %w", s.status, ErrInvalidState)
	}
	if len(questions) == 0 {
		return fmt.Errorf("start session without questions: %w", ErrInvalidInput)
	}
	if timeBudgetSeconds <= 0 {
		return fmt.Errorf("start session with time budget %d: %w", timeBudgetSeconds, ErrInvalidInput)
	}

	index := make(map[string]int, len(questions))
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if _, dup := index[q.ID]; dup {
			return fmt.Errorf("duplicate question id %s: %w", q.ID, ErrInvalidInput)
		}
		index[q.ID] = i
	}

	s.questions = append([]model.Question(nil), questions...)
	s.index = index
	s.budget = timeBudgetSeconds
	s.startedAt = now
	s.status = model.StatusActive
	return nil
}

// RecordAnswer stores or overwrites the answer to one question.
func (s *Session) RecordAnswer(questionID string, value model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.StatusActive {
		return fmt.Errorf("record answer in status %s: %w", s.status, ErrInvalidState)
	}
	if _, ok := s.index[questionID]; !ok {
		return fmt.Errorf("unknown question %q: %w", questionID, ErrInvalidInput)
	}
	s.answers[questionID] = value
	return nil
}

// RemainingSeconds is the countdown value at now. It is 0 unless the session is active.
func (s *Session) RemainingSeconds(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked(now)
}

func (s *Session) remainingLocked(now time.Time) int {
	if s.status != model.StatusActive {
		return 0
	}
	elapsed := int(now.Sub(s.startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return max(0, s.budget-elapsed)
}

// Submit finalizes the session and scores it. It succeeds exactly once.
func (s *Session) Submit(now time.Time) (model.ScoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.StatusActive {
		return model.ScoreResult{}, fmt.Errorf("submit session in status %s: %w", s.status, ErrInvalidState)
	}

	taken := TimeTaken(s.budget, s.remainingLocked(now))
	res := Score(s.questions, s.answers, taken)
	s.status = model.StatusSubmitted
	s.result = &res
	return res, nil
}

// Status returns the current status.
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Questions returns a copy of the question set.
func (s *Session) Questions() []model.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Question(nil), s.questions...)
}

// Answers returns a copy of the answer map.
func (s *Session) Answers() map[string]model.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.answers)
}

// StartedAt returns the start time, zero if not started.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// TimeBudget returns the budget in seconds.
func (s *Session) TimeBudget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// Result returns the score computed at submission, nil before that.
func (s *Session) Result() *model.ScoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	res := *s.result
	res.DifficultyBreakdown = maps.Clone(s.result.DifficultyBreakdown)
	return &res
}

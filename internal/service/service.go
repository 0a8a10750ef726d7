// Package service owns running assessment attempts: it sources questions,
// starts sessions with their countdown timers, and hands finished results to
// a recorder without making the caller wait for persistence.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studymate/assessor/internal/assessment"
	"github.com/studymate/assessor/internal/metrics"
	"github.com/studymate/assessor/internal/model"
)

var (
	// ErrNotFound means no attempt with the given id is held in memory.
	ErrNotFound = errors.New("assessment not found")
	// ErrPersistence means a submitted result could not be recorded.
	ErrPersistence = errors.New("result persistence failed")
	// ErrSourceUnavailable means the requested question source is not configured.
	ErrSourceUnavailable = errors.New("question source unavailable")
	// ErrClosed means the manager has been shut down.
	ErrClosed = errors.New("manager closed")
)

// QuestionGenerator produces questions from study material.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, req model.GenerateRequest) ([]model.Question, error)
}

// Bank lists previous-year questions.
type Bank interface {
	ListBankQuestions(f model.BankFilter) ([]model.BankQuestion, error)
}

// Recorder persists finished attempts.
type Recorder interface {
	SaveResult(ctx context.Context, rec model.ResultRecord) (int64, error)
}

// Source selects where an attempt's questions come from.
type Source string

const (
	SourceGenerate Source = "generate"
	SourceBank     Source = "bank"
)

// PersistState tracks the background save of a submitted attempt.
type PersistState string

const (
	PersistPending PersistState = "pending"
	PersistSaved   PersistState = "saved"
	PersistFailed  PersistState = "failed"
	PersistSkipped PersistState = "skipped"
)

// DefaultBankCount is the number of bank questions drawn when none is requested.
const DefaultBankCount = 10

// Config tunes a Manager. Zero values get defaults.
type Config struct {
	TickInterval     time.Duration
	Retention        time.Duration
	DefaultTimeLimit time.Duration
	PersistTimeout   time.Duration
	Clock            assessment.Clock
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = assessment.DefaultTickInterval
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.DefaultTimeLimit <= 0 {
		c.DefaultTimeLimit = 30 * time.Minute
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = assessment.SystemClock
	}
	return c
}

// StartRequest describes a new attempt.
type StartRequest struct {
	Mode   model.Mode `json:"mode"`
	Source Source     `json:"source"`

	SourceText string           `json:"source_text"`
	Count      int              `json:"count"`
	Difficulty model.Difficulty `json:"difficulty"`
	Kind       model.Kind       `json:"kind"`

	// TimeLimitMinutes is the attempt's budget; 0 selects the configured default.
	TimeLimitMinutes int `json:"time_limit_minutes"`

	SubjectID *string `json:"subject_id,omitempty"`
	UnitID    *string `json:"unit_id,omitempty"`
}

// Snapshot is a point-in-time view of an attempt. Questions never carry
// correct answers.
type Snapshot struct {
	ID                string                  `json:"id"`
	Mode              model.Mode              `json:"mode"`
	Status            model.SessionStatus     `json:"status"`
	Paused            bool                    `json:"paused"`
	StartedAt         time.Time               `json:"started_at"`
	TimeBudgetSeconds int                     `json:"time_budget_seconds"`
	RemainingSeconds  int                     `json:"remaining_seconds"`
	Questions         []model.Question        `json:"questions"`
	Answers           map[string]model.Answer `json:"answers"`
	AnsweredCount     int                     `json:"answered_count"`
	Result            *model.ScoreResult      `json:"result,omitempty"`
	Trigger           string                  `json:"trigger,omitempty"`
	Persistence       PersistState            `json:"persistence,omitempty"`
	ResultID          int64                   `json:"result_id,omitempty"`
}

type attempt struct {
	id        string
	mode      model.Mode
	subjectID *string
	unitID    *string
	session   *assessment.Session
	timer     *assessment.Timer

	mu          sync.Mutex
	submittedAt time.Time
	trigger     string
	persist     PersistState
	resultID    int64
	persistErr  error
}

// Manager holds the attempts of one process.
type Manager struct {
	gen     QuestionGenerator
	bank    Bank
	rec     Recorder
	metrics *metrics.Metrics
	cfg     Config

	mu       sync.RWMutex
	attempts map[string]*attempt
	closed   bool

	ctx     context.Context
	cancel  context.CancelFunc
	saves   sync.WaitGroup
	janitor chan struct{}
}

// NewManager creates a Manager. gen, bank, rec and m may be nil: a nil source
// is reported as unavailable, a nil recorder skips persistence.
func NewManager(gen QuestionGenerator, bank Bank, rec Recorder, m *metrics.Metrics, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		gen:      gen,
		bank:     bank,
		rec:      rec,
		metrics:  m,
		cfg:      cfg.withDefaults(),
		attempts: make(map[string]*attempt),
		ctx:      ctx,
		cancel:   cancel,
		janitor:  make(chan struct{}),
	}
	go mgr.evictLoop()
	return mgr
}

// Start sources questions and starts a timed attempt.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	if req.Mode == "" {
		req.Mode = model.ModeQuiz
	}
	if req.Mode != model.ModeQuiz && req.Mode != model.ModeExam {
		return Snapshot{}, fmt.Errorf("%w: unknown mode %q", assessment.ErrInvalidInput, req.Mode)
	}
	if req.TimeLimitMinutes < 0 {
		return Snapshot{}, fmt.Errorf("%w: negative time limit", assessment.ErrInvalidInput)
	}
	budget := req.TimeLimitMinutes * 60
	if budget == 0 {
		budget = int(m.cfg.DefaultTimeLimit / time.Second)
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return Snapshot{}, ErrClosed
	}

	questions, err := m.questions(ctx, req)
	if err != nil {
		return Snapshot{}, err
	}

	s := assessment.NewSession()
	if err := s.Start(questions, budget, m.cfg.Clock.Now()); err != nil {
		return Snapshot{}, err
	}

	a := &attempt{
		id:        uuid.NewString(),
		mode:      req.Mode,
		subjectID: req.SubjectID,
		unitID:    req.UnitID,
		session:   s,
	}
	a.timer = assessment.NewTimer(s, assessment.TimerConfig{
		Interval: m.cfg.TickInterval,
		Clock:    m.cfg.Clock,
		OnExpire: func(res model.ScoreResult) {
			m.finalize(a, res, metrics.TriggerExpired)
		},
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if m.metrics != nil {
		m.metrics.SessionsStarted.WithLabelValues(string(a.mode)).Inc()
		m.metrics.ActiveSessions.Inc()
	}
	m.attempts[a.id] = a
	a.timer.Start(m.ctx)
	m.mu.Unlock()

	slog.InfoContext(ctx, "assessment started",
		"id", a.id, "mode", a.mode, "source", req.Source,
		"questions", len(questions), "budget_seconds", budget)
	return m.snapshot(a), nil
}

func (m *Manager) questions(ctx context.Context, req StartRequest) ([]model.Question, error) {
	switch req.Source {
	case SourceGenerate, "":
		if m.gen == nil {
			return nil, fmt.Errorf("%w: question generation is not configured", ErrSourceUnavailable)
		}
		qs, err := m.gen.GenerateQuestions(ctx, model.GenerateRequest{
			SourceText:       req.SourceText,
			Count:            req.Count,
			Difficulty:       req.Difficulty,
			Kind:             req.Kind,
			TimeLimitMinutes: req.TimeLimitMinutes,
			Mode:             req.Mode,
		})
		if err != nil {
			if m.metrics != nil {
				m.metrics.GenerationFailures.Inc()
			}
			return nil, fmt.Errorf("generate questions: %w", err)
		}
		return qs, nil

	case SourceBank:
		if m.bank == nil {
			return nil, fmt.Errorf("%w: question bank is not configured", ErrSourceUnavailable)
		}
		rows, err := m.bank.ListBankQuestions(model.BankFilter{
			Subject:    deref(req.SubjectID),
			Unit:       deref(req.UnitID),
			Difficulty: req.Difficulty,
			Kind:       req.Kind,
		})
		if err != nil {
			return nil, fmt.Errorf("list bank questions: %w", err)
		}
		rand.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		count := req.Count
		if count <= 0 {
			count = DefaultBankCount
		}
		if len(rows) > count {
			rows = rows[:count]
		}
		qs := make([]model.Question, len(rows))
		for i, r := range rows {
			qs[i] = r.Question
		}
		return qs, nil
	}
	return nil, fmt.Errorf("%w: unknown question source %q", assessment.ErrInvalidInput, req.Source)
}

// RecordAnswer stores an answer for an active attempt. An attempt past its
// deadline is submitted instead and the answer is rejected.
func (m *Manager) RecordAnswer(id, questionID string, value model.Answer) error {
	a, err := m.get(id)
	if err != nil {
		return err
	}
	m.expireIfDue(a)
	return a.session.RecordAnswer(questionID, value)
}

// Snapshot returns the current view of an attempt.
func (m *Manager) Snapshot(id string) (Snapshot, error) {
	a, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	m.expireIfDue(a)
	return m.snapshot(a), nil
}

// Submit finalizes an attempt. It fails with assessment.ErrInvalidState if the
// attempt was already submitted, manually or by its timer, or if its deadline
// has passed, in which case it is submitted as expired.
func (m *Manager) Submit(ctx context.Context, id string) (model.ScoreResult, error) {
	a, err := m.get(id)
	if err != nil {
		return model.ScoreResult{}, err
	}
	m.expireIfDue(a)
	res, err := a.session.Submit(m.cfg.Clock.Now())
	if err != nil {
		return model.ScoreResult{}, err
	}
	a.timer.Stop()
	slog.DebugContext(ctx, "manual submit", "id", id)
	m.finalize(a, res, metrics.TriggerManual)
	return res, nil
}

// Result returns the score of a submitted attempt.
func (m *Manager) Result(id string) (model.ScoreResult, error) {
	a, err := m.get(id)
	if err != nil {
		return model.ScoreResult{}, err
	}
	r := a.session.Result()
	if r == nil {
		return model.ScoreResult{}, fmt.Errorf("%w: assessment %s has not been submitted", assessment.ErrInvalidState, id)
	}
	return *r, nil
}

// Persisted reports the outcome of saving a submitted attempt. It returns the
// stored record id once saved, and an ErrPersistence error if saving failed.
func (m *Manager) Persisted(id string) (PersistState, int64, error) {
	a, err := m.get(id)
	if err != nil {
		return "", 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persist, a.resultID, a.persistErr
}

// Pause stops the countdown display of an attempt. The deadline does not move
// and the attempt is still submitted when it passes.
func (m *Manager) Pause(id string) error {
	a, err := m.get(id)
	if err != nil {
		return err
	}
	m.expireIfDue(a)
	if a.session.Status() != model.StatusActive {
		return fmt.Errorf("%w: assessment %s is not active", assessment.ErrInvalidState, id)
	}
	a.timer.Pause()
	return nil
}

// Resume restarts the countdown display.
func (m *Manager) Resume(id string) error {
	a, err := m.get(id)
	if err != nil {
		return err
	}
	m.expireIfDue(a)
	if a.session.Status() != model.StatusActive {
		return fmt.Errorf("%w: assessment %s is not active", assessment.ErrInvalidState, id)
	}
	a.timer.Resume()
	return nil
}

// Wait blocks until all background saves have finished.
func (m *Manager) Wait() {
	m.saves.Wait()
}

// Close stops every timer, waits for pending saves and rejects new attempts.
// Active attempts are left unsubmitted and no longer count as active.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	attempts := make([]*attempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		attempts = append(attempts, a)
	}
	m.mu.Unlock()

	m.cancel()
	for _, a := range attempts {
		a.timer.Stop()
		<-a.timer.Done()
		if m.metrics != nil && a.session.Status() == model.StatusActive {
			m.metrics.ActiveSessions.Dec()
		}
	}
	<-m.janitor
	m.saves.Wait()
}

// expireIfDue submits an attempt whose deadline passed before its timer ticked.
func (m *Manager) expireIfDue(a *attempt) {
	now := m.cfg.Clock.Now()
	if a.session.Status() != model.StatusActive || a.session.RemainingSeconds(now) > 0 {
		return
	}
	res, err := a.session.Submit(now)
	if err != nil {
		// The timer or a concurrent submit got there first.
		return
	}
	a.timer.Stop()
	m.finalize(a, res, metrics.TriggerExpired)
}

func (m *Manager) get(id string) (*attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a, nil
}

func (m *Manager) snapshot(a *attempt) Snapshot {
	questions := a.session.Questions()
	public := make([]model.Question, len(questions))
	for i, q := range questions {
		public[i] = q.Public()
	}
	answers := a.session.Answers()

	snap := Snapshot{
		ID:                a.id,
		Mode:              a.mode,
		Status:            a.session.Status(),
		Paused:            a.timer.Paused(),
		StartedAt:         a.session.StartedAt(),
		TimeBudgetSeconds: a.session.TimeBudget(),
		RemainingSeconds:  a.session.RemainingSeconds(m.cfg.Clock.Now()),
		Questions:         public,
		Answers:           answers,
		AnsweredCount:     len(answers),
		Result:            a.session.Result(),
	}
	a.mu.Lock()
	snap.Trigger = a.trigger
	snap.Persistence = a.persist
	snap.ResultID = a.resultID
	a.mu.Unlock()
	return snap
}

// finalize runs once per attempt, right after the session's single successful Submit.
func (m *Manager) finalize(a *attempt, res model.ScoreResult, trigger string) {
	now := m.cfg.Clock.Now()
	a.mu.Lock()
	a.submittedAt = now
	a.trigger = trigger
	a.persist = PersistSkipped
	if m.rec != nil {
		a.persist = PersistPending
	}
	a.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsSubmitted.WithLabelValues(string(a.mode), trigger).Inc()
		m.metrics.ScorePercentage.WithLabelValues(string(a.mode)).Observe(float64(res.Percentage))
		m.metrics.ActiveSessions.Dec()
	}
	slog.Info("assessment submitted",
		"id", a.id, "mode", a.mode, "trigger", trigger,
		"score", res.TotalScore, "possible", res.TotalPossible,
		"percentage", res.Percentage, "time_taken", res.TimeTakenSeconds)

	if m.rec == nil {
		return
	}
	rec := model.ResultRecord{
		SessionID:   a.id,
		Mode:        a.mode,
		SubjectID:   a.subjectID,
		UnitID:      a.unitID,
		Answers:     a.session.Answers(),
		Result:      res,
		StartedAt:   a.session.StartedAt(),
		SubmittedAt: now,
	}
	m.saves.Add(1)
	go m.save(a, rec)
}

func (m *Manager) save(a *attempt, rec model.ResultRecord) {
	defer m.saves.Done()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PersistTimeout)
	defer cancel()

	id, err := m.rec.SaveResult(ctx, rec)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.persist = PersistFailed
		a.persistErr = fmt.Errorf("%w: %v", ErrPersistence, err)
		if m.metrics != nil {
			m.metrics.PersistenceFailures.Inc()
		}
		slog.Error("failed to save result", "id", a.id, "error", err)
		return
	}
	a.persist = PersistSaved
	a.resultID = id
	slog.Debug("result saved", "id", a.id, "result_id", id)
}

func (m *Manager) evictLoop() {
	defer close(m.janitor)
	interval := max(m.cfg.Retention/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.evict(m.cfg.Clock.Now()); n > 0 {
				slog.Debug("evicted submitted assessments", "count", n)
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// evict drops submitted attempts older than the retention period whose
// result is no longer being saved.
func (m *Manager) evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, a := range m.attempts {
		a.mu.Lock()
		expired := !a.submittedAt.IsZero() &&
			a.persist != PersistPending &&
			now.Sub(a.submittedAt) >= m.cfg.Retention
		a.mu.Unlock()
		if expired {
			delete(m.attempts, id)
			n++
		}
	}
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

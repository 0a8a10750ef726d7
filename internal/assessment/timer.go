package assessment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/studymate/assessor/internal/model"
)

// DefaultTickInterval is how often the countdown is recomputed.
const DefaultTickInterval = time.Second

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// TimerConfig configures a Timer. Zero values get defaults.
type TimerConfig struct {
	Interval time.Duration
	Clock    Clock
	// OnTick receives the remaining seconds on every tick while not paused.
	OnTick func(remaining int)
	// OnExpire is called once if the timer itself submitted the session.
	OnExpire func(res model.ScoreResult)
}

// Timer periodically re-evaluates a session's countdown and submits the
// session when it reaches zero. Pausing only silences OnTick: the deadline
// stays relative to the session's start time and expiry still submits.
type Timer struct {
	session *Session
	cfg     TimerConfig

	mu     sync.Mutex
	paused bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewTimer builds a timer for an active session. Call Start to run it.
func NewTimer(s *Session, cfg TimerConfig) *Timer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	return &Timer{
		session: s,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the tick loop in a goroutine until the session is submitted,
// Stop is called or ctx is cancelled.
func (t *Timer) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop terminates the tick loop. It is safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Done is closed when the tick loop has exited.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

// Pause suppresses OnTick without moving the deadline.
func (t *Timer) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

// Resume restarts OnTick and re-evaluates the countdown immediately.
func (t *Timer) Resume() {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Paused reports whether OnTick is currently suppressed.
func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *Timer) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-t.wake:
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
		if finished := t.tick(); finished {
			return
		}
	}
}

// tick reports whether the session is no longer active.
func (t *Timer) tick() bool {
	if t.session.Status() != model.StatusActive {
		return true
	}

	now := t.cfg.Clock.Now()
	remaining := t.session.RemainingSeconds(now)
	if remaining > 0 {
		if t.cfg.OnTick != nil && !t.Paused() {
			t.cfg.OnTick(remaining)
		}
		return false
	}

	res, err := t.session.Submit(now)
	if errors.Is(err, ErrInvalidState) {
		// A manual submit got there first.
		return true
	}
	if err != nil {
		slog.Error("auto-submit failed", "error", err)
		return true
	}
	if t.cfg.OnTick != nil && !t.Paused() {
		t.cfg.OnTick(0)
	}
	if t.cfg.OnExpire != nil {
		t.cfg.OnExpire(res)
	}
	return true
}

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quiz-client/internal/domain"
)

// AttemptAPI is the slice of the quiz service an attempt session talks to.
type AttemptAPI interface {
	StartAttempt(ctx context.Context, quizID int64) (int64, error)
	SaveAnswer(ctx context.Context, attemptID, questionID int64, value domain.AnswerValue, idempotencyKey string) error
	RecordEvent(ctx context.Context, attemptID int64, signal domain.CheatSignal, idempotencyKey string) error
	SubmitAttempt(ctx context.Context, attemptID int64) (domain.SubmissionResult, error)
}

// Phase is the coarse state of an attempt session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseInProgress Phase = "in_progress"
	PhaseSubmitted  Phase = "submitted"
)

// SessionOptions tunes timing and anti-cheat behavior.
type SessionOptions struct {
	Clock            Clock
	Signals          Signals
	AutosaveDebounce time.Duration
	AutoSubmit       bool
	ReportPaste      bool
	FlushTimeout     time.Duration
}

// progress only exists while the attempt is in progress.
type progress struct {
	attemptID  int64
	current    int
	answers    map[int]domain.AnswerValue
	remaining  *int
	expired    bool
	submitting bool
	stopTimer  func()
	detach     func()
}

// Session is one user's run through a quiz.
type Session struct {
	quiz   domain.Quiz
	api    AttemptAPI
	outbox *Outbox
	opts   SessionOptions

	mu            sync.Mutex
	phase         Phase
	starting      bool
	progress      *progress
	result        *domain.SubmissionResult
	submittedLate bool
	antiCheat     domain.AntiCheatSummary
	lastErr       error
	generation    int
	closed        bool
	subscribers   map[chan Snapshot]struct{}
}

// NewSession runs quiz against api. The session owns outbox: Close stops it.
func NewSession(quiz domain.Quiz, api AttemptAPI, outbox *Outbox, opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 15 * time.Second
	}
	return &Session{
		quiz:        quiz,
		api:         api,
		outbox:      outbox,
		opts:        opts,
		phase:       PhaseIdle,
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Quiz returns the quiz this session runs.
func (s *Session) Quiz() domain.Quiz {
	return s.quiz
}

// Start creates the attempt on the service and begins the countdown.
// On failure the session stays idle and the error can be retried.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseIdle || s.starting || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("start from %s: %w", s.phase, domain.ErrInvalidTransition)
	}
	if len(s.quiz.Questions) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("quiz %d has no questions: %w", s.quiz.ID, domain.ErrQuestionNotFound)
	}
	s.starting = true
	gen := s.generation
	s.broadcastLocked()
	s.mu.Unlock()

	attemptID, err := s.api.StartAttempt(ctx, s.quiz.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return fmt.Errorf("attempt creation superseded: %w", domain.ErrInvalidTransition)
	}
	s.starting = false
	if err != nil {
		s.lastErr = err
		s.broadcastLocked()
		return err
	}

	p := &progress{
		attemptID: attemptID,
		answers:   make(map[int]domain.AnswerValue),
	}
	if s.quiz.HasTimeLimit() {
		remaining := *s.quiz.TimeLimitSeconds
		p.remaining = &remaining
		p.stopTimer = s.opts.Clock.Every(time.Second, s.Tick)
	}
	if s.opts.Signals != nil {
		p.detach = s.opts.Signals.Attach(s.onSignal)
	}
	s.progress = p
	s.phase = PhaseInProgress
	s.lastErr = nil
	s.broadcastLocked()
	return nil
}

// Answer records a value for a question and schedules its autosave.
func (s *Session) Answer(index int, value domain.AnswerValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInProgress {
		return fmt.Errorf("answer in %s: %w", s.phase, domain.ErrInvalidTransition)
	}
	if index < 0 || index >= len(s.quiz.Questions) {
		return fmt.Errorf("question index %d: %w", index, domain.ErrQuestionNotFound)
	}
	question := s.quiz.Questions[index]
	if err := value.ValidFor(question); err != nil {
		return err
	}

	p := s.progress
	p.answers[index] = value
	attemptID := p.attemptID
	s.outbox.Enqueue(Effect{
		Key:     fmt.Sprintf("answer:%d:%d", attemptID, question.ID),
		Attempt: attemptID,
		Label:   fmt.Sprintf("save answer to question %d", question.ID),
		Delay:   s.opts.AutosaveDebounce,
		Do: func(ctx context.Context, key string) error {
			return s.api.SaveAnswer(ctx, attemptID, question.ID, value, key)
		},
	})
	s.broadcastLocked()
	return nil
}

// Advance moves to the next question, clamped at the last one.
func (s *Session) Advance() (int, error) {
	return s.move(1)
}

// Retreat moves to the previous question, clamped at the first one.
func (s *Session) Retreat() (int, error) {
	return s.move(-1)
}

func (s *Session) move(delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInProgress {
		return 0, fmt.Errorf("move in %s: %w", s.phase, domain.ErrInvalidTransition)
	}
	p := s.progress
	next := p.current + delta
	if next < 0 {
		next = 0
	}
	if last := len(s.quiz.Questions) - 1; next > last {
		next = last
	}
	if next != p.current {
		p.current = next
		s.broadcastLocked()
	}
	return p.current, nil
}

// Tick decrements the countdown by one second.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInProgress || s.progress.remaining == nil {
		return
	}
	p := s.progress
	if *p.remaining > 0 {
		*p.remaining--
	}
	if *p.remaining == 0 && !p.expired {
		p.expired = true
		if p.stopTimer != nil {
			p.stopTimer()
			p.stopTimer = nil
		}
		if s.opts.AutoSubmit && !p.submitting {
			go func() {
				_ = s.finalize(context.Background(), false)
			}()
		}
	}
	s.broadcastLocked()
}

// Submit finalizes the attempt. It is only available on the last question, and
// a call made while another is outstanding fails with ErrSubmitInProgress.
func (s *Session) Submit(ctx context.Context) error {
	return s.finalize(ctx, true)
}

func (s *Session) finalize(ctx context.Context, requireLast bool) error {
	s.mu.Lock()
	if s.phase != PhaseInProgress {
		s.mu.Unlock()
		return fmt.Errorf("submit in %s: %w", s.phase, domain.ErrInvalidTransition)
	}
	p := s.progress
	if p.submitting {
		s.mu.Unlock()
		return domain.ErrSubmitInProgress
	}
	if requireLast && p.current != len(s.quiz.Questions)-1 {
		s.mu.Unlock()
		return domain.ErrNotLastQuestion
	}
	if p.attemptID == 0 {
		s.mu.Unlock()
		return domain.ErrNoAttempt
	}
	p.submitting = true
	gen := s.generation
	attemptID := p.attemptID
	s.broadcastLocked()
	s.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(ctx, s.opts.FlushTimeout)
	err := s.outbox.Flush(flushCtx, attemptID)
	cancel()
	if err != nil {
		return s.failSubmit(gen, fmt.Errorf("save answers before submit: %w", err))
	}

	result, err := s.api.SubmitAttempt(ctx, attemptID)
	if err != nil {
		return s.failSubmit(gen, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.phase != PhaseInProgress {
		return fmt.Errorf("submission discarded: %w", domain.ErrInvalidTransition)
	}
	s.submittedLate = s.progress.expired
	s.exitProgressLocked()
	s.outbox.Cancel(attemptID)
	s.phase = PhaseSubmitted
	s.result = &result
	s.lastErr = nil
	s.broadcastLocked()
	return nil
}

func (s *Session) failSubmit(gen int, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation && s.progress != nil {
		s.progress.submitting = false
		s.lastErr = err
		s.broadcastLocked()
	}
	return err
}

// Blur records a window/terminal focus loss.
func (s *Session) Blur() {
	s.onSignal(domain.SignalBlur)
}

// Paste records a paste into an answer input.
func (s *Session) Paste() {
	s.onSignal(domain.SignalPaste)
}

func (s *Session) onSignal(signal domain.CheatSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInProgress {
		return
	}
	report := false
	switch signal {
	case domain.SignalBlur:
		s.antiCheat.TabSwitches++
		report = true
	case domain.SignalPaste:
		s.antiCheat.Pastes++
		report = s.opts.ReportPaste
	default:
		return
	}
	if report {
		attemptID := s.progress.attemptID
		s.outbox.Enqueue(Effect{
			Attempt: attemptID,
			Label:   "report " + string(signal) + " event",
			Do: func(ctx context.Context, key string) error {
				return s.api.RecordEvent(ctx, attemptID, signal, key)
			},
		})
	}
	s.broadcastLocked()
}

// RetryFailed re-queues autosaves and event reports that exhausted their retries.
func (s *Session) RetryFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInProgress {
		return 0
	}
	n := s.outbox.RetryFailed(s.progress.attemptID)
	s.lastErr = nil
	s.broadcastLocked()
	return n
}

// Reset discards everything, like reloading the page.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardLocked()
	s.broadcastLocked()
}

// Close stops the session for good, releases subscribers and stops the outbox.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.discardLocked()
	s.closed = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()

	s.outbox.Stop()
}

func (s *Session) discardLocked() {
	if s.progress != nil {
		attemptID := s.progress.attemptID
		s.exitProgressLocked()
		s.outbox.Cancel(attemptID)
	}
	s.generation++
	s.phase = PhaseIdle
	s.starting = false
	s.result = nil
	s.submittedLate = false
	s.antiCheat = domain.AntiCheatSummary{}
	s.lastErr = nil
}

// exitProgressLocked tears down everything tied to the in-progress phase.
func (s *Session) exitProgressLocked() {
	p := s.progress
	if p == nil {
		return
	}
	if p.stopTimer != nil {
		p.stopTimer()
	}
	if p.detach != nil {
		p.detach()
	}
	s.progress = nil
}

// Subscribe returns a channel of snapshots; the caller must invoke cancel.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcastLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// slow subscriber: replace its oldest snapshot
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

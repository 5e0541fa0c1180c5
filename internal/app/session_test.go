package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"quiz-client/internal/domain"
	"quiz-client/internal/quizapi"
)

type fakeAttemptAPI struct {
	mu        sync.Mutex
	startErr  error
	startGate chan struct{}
	saveErrs  []error
	saves     map[int64][]domain.AnswerValue
	events    []domain.CheatSignal
	submits   int
	release   chan struct{}
	submitErr error
}

func newFakeAttemptAPI() *fakeAttemptAPI {
	return &fakeAttemptAPI{saves: make(map[int64][]domain.AnswerValue)}
}

func (f *fakeAttemptAPI) StartAttempt(context.Context, int64) (int64, error) {
	f.mu.Lock()
	gate, err := f.startGate, f.startErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return 0, err
	}
	return 42, nil
}

// SaveAnswer fails with the queued saveErrs first; failed values are not stored.
func (f *fakeAttemptAPI) SaveAnswer(_ context.Context, _, questionID int64, value domain.AnswerValue, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saveErrs) > 0 {
		err := f.saveErrs[0]
		f.saveErrs = f.saveErrs[1:]
		return err
	}
	f.saves[questionID] = append(f.saves[questionID], value)
	return nil
}

func (f *fakeAttemptAPI) RecordEvent(_ context.Context, _ int64, signal domain.CheatSignal, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, signal)
	return nil
}

func (f *fakeAttemptAPI) SubmitAttempt(context.Context, int64) (domain.SubmissionResult, error) {
	f.mu.Lock()
	f.submits++
	release, err := f.release, f.submitErr
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	return domain.SubmissionResult{Score: 1, Details: []domain.QuestionResult{{QuestionID: 10, Correct: true}}}, nil
}

func (f *fakeAttemptAPI) counts() (submits, events int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, len(f.events)
}

type manualClock struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (c *manualClock) Every(time.Duration, func()) func() {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.stopped++
		c.mu.Unlock()
	}
}

func timedQuiz(limit int) domain.Quiz {
	return domain.Quiz{
		ID:               1,
		Title:            "Go basics",
		TimeLimitSeconds: &limit,
		Published:        true,
		Questions: []domain.Question{
			{ID: 10, Type: domain.QuestionMCQ, Prompt: "2 + 2?", Options: []string{"3", "4"}},
			{ID: 11, Type: domain.QuestionShort, Prompt: "Mascot?"},
		},
	}
}

type sessionFixture struct {
	session *Session
	api     *fakeAttemptAPI
	outbox  *Outbox
	clock   *manualClock
	relay   *SignalRelay
}

func newSessionFixture(t *testing.T, quiz domain.Quiz, tune func(*SessionOptions)) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		api:    newFakeAttemptAPI(),
		outbox: NewOutbox(RetryPolicy{InitialInterval: time.Millisecond, MaxElapsed: 200 * time.Millisecond}),
		clock:  &manualClock{},
		relay:  NewSignalRelay(),
	}
	f.outbox.Start(context.Background())
	t.Cleanup(f.outbox.Stop)
	opts := SessionOptions{Clock: f.clock, Signals: f.relay, ReportPaste: true, FlushTimeout: 2 * time.Second}
	if tune != nil {
		tune(&opts)
	}
	f.session = NewSession(quiz, f.api, f.outbox, opts)
	t.Cleanup(f.session.Close)
	return f
}

func TestSessionTimedAttemptRunsOutAndSubmitsLate(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := f.session.Snapshot()
	if snap.Phase != PhaseInProgress || snap.AttemptID != 42 {
		t.Fatalf("expected attempt 42 in progress, got %+v", snap)
	}
	if snap.Remaining == nil || *snap.Remaining != 60 {
		t.Fatalf("expected 60 seconds, got %v", snap.Remaining)
	}
	if !f.relay.Attached() {
		t.Fatalf("expected anti-cheat listener while in progress")
	}

	for i := 0; i < 59; i++ {
		f.session.Tick()
	}
	if snap := f.session.Snapshot(); *snap.Remaining != 1 || snap.Expired {
		t.Fatalf("expected 1 second left, got %d expired=%v", *snap.Remaining, snap.Expired)
	}
	f.session.Tick()
	f.session.Tick()
	snap = f.session.Snapshot()
	if *snap.Remaining != 0 || !snap.Expired {
		t.Fatalf("expected expired at zero, got %d expired=%v", *snap.Remaining, snap.Expired)
	}
	if snap.Phase != PhaseInProgress {
		t.Fatalf("expiry must not submit without auto submit, got %s", snap.Phase)
	}
	if f.clock.stopped != 1 {
		t.Fatalf("expected countdown stopped once, got %d", f.clock.stopped)
	}

	if _, err := f.session.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := f.session.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap = f.session.Snapshot()
	if snap.Phase != PhaseSubmitted || !snap.SubmittedLate {
		t.Fatalf("expected late submission, got %+v", snap)
	}
	if want := []string{"1. Correct", "2. No answer"}; len(snap.ResultLines) != 2 || snap.ResultLines[0] != want[0] || snap.ResultLines[1] != want[1] {
		t.Fatalf("unexpected result lines %v", snap.ResultLines)
	}
	if a, d := f.relay.Balance(); a != 1 || d != 1 || f.relay.Attached() {
		t.Fatalf("expected listener detached, got %d attaches %d detaches", a, d)
	}
}

func TestSessionStartFailureStaysIdle(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	f.api.startErr = errors.New("boom")

	if err := f.session.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	snap := f.session.Snapshot()
	if snap.Phase != PhaseIdle || snap.Error == "" || snap.Starting {
		t.Fatalf("expected idle with error, got %+v", snap)
	}
	if f.clock.started != 0 || f.relay.Attached() {
		t.Fatalf("nothing may run before the attempt exists")
	}

	f.api.startErr = nil
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("retry start: %v", err)
	}
}

func TestSessionNavigationClamps(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	if _, err := f.session.Advance(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected navigation to need an attempt, got %v", err)
	}
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if idx, _ := f.session.Retreat(); idx != 0 {
		t.Fatalf("expected clamp at first question, got %d", idx)
	}
	f.session.Advance()
	if idx, _ := f.session.Advance(); idx != 1 {
		t.Fatalf("expected clamp at last question, got %d", idx)
	}
	if err := f.session.Submit(context.Background()); err != nil {
		t.Fatalf("submit on last question: %v", err)
	}
}

func TestSessionSubmitOnlyOnLastQuestion(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	if err := f.session.Submit(context.Background()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected submit to need an attempt, got %v", err)
	}
	f.session.Start(context.Background())
	if err := f.session.Submit(context.Background()); !errors.Is(err, domain.ErrNotLastQuestion) {
		t.Fatalf("expected ErrNotLastQuestion, got %v", err)
	}
}

func TestSessionConcurrentSubmitFinalizesOnce(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	ctx := context.Background()
	f.session.Start(ctx)
	f.session.Advance()

	f.api.release = make(chan struct{})
	first := make(chan error, 1)
	go func() { first <- f.session.Submit(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !f.session.Snapshot().Submitting {
		if time.Now().After(deadline) {
			t.Fatalf("first submit never started")
		}
		time.Sleep(time.Millisecond)
	}
	if err := f.session.Submit(ctx); !errors.Is(err, domain.ErrSubmitInProgress) {
		t.Fatalf("expected ErrSubmitInProgress, got %v", err)
	}
	close(f.api.release)
	if err := <-first; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if submits, _ := f.api.counts(); submits != 1 {
		t.Fatalf("expected exactly one finalize call, got %d", submits)
	}
}

func TestSessionSubmitFailureKeepsAttempt(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	ctx := context.Background()
	f.session.Start(ctx)
	f.session.Advance()
	f.api.submitErr = errors.New("service down")

	if err := f.session.Submit(ctx); err == nil {
		t.Fatalf("expected submit error")
	}
	snap := f.session.Snapshot()
	if snap.Phase != PhaseInProgress || snap.Submitting || snap.Error == "" {
		t.Fatalf("expected retryable in-progress state, got %+v", snap)
	}
	f.api.submitErr = nil
	if err := f.session.Submit(ctx); err != nil {
		t.Fatalf("second submit: %v", err)
	}
}

func TestSessionReportsEveryBlur(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	ctx := context.Background()

	f.relay.Emit(domain.SignalBlur)
	if f.session.Snapshot().AntiCheat.TabSwitches != 0 {
		t.Fatalf("signals before start must be ignored")
	}
	f.session.Start(ctx)
	f.relay.Emit(domain.SignalBlur)
	f.relay.Emit(domain.SignalBlur)
	f.relay.Emit(domain.SignalPaste)

	snap := f.session.Snapshot()
	if snap.AntiCheat.TabSwitches != 2 || snap.AntiCheat.Pastes != 1 {
		t.Fatalf("unexpected summary %+v", snap.AntiCheat)
	}
	if err := f.outbox.Flush(ctx, snap.AttemptID); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, events := f.api.counts(); events != 3 {
		t.Fatalf("expected 3 reported events, got %d", events)
	}
}

func TestSessionPasteReportingCanBeDisabled(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), func(o *SessionOptions) { o.ReportPaste = false })
	ctx := context.Background()
	f.session.Start(ctx)
	f.session.Paste()

	if f.session.Snapshot().AntiCheat.Pastes != 1 {
		t.Fatalf("paste must still be counted")
	}
	f.outbox.Flush(ctx, 42)
	if _, events := f.api.counts(); events != 0 {
		t.Fatalf("expected no reported paste, got %d", events)
	}
}

func TestSessionAutosaveCoalesces(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), func(o *SessionOptions) { o.AutosaveDebounce = time.Hour })
	ctx := context.Background()
	f.session.Start(ctx)

	if err := f.session.Answer(0, domain.Choice(0)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := f.session.Answer(0, domain.Choice(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := f.session.Answer(1, domain.Choice(0)); !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Fatalf("expected choice on short question to be rejected, got %v", err)
	}
	if err := f.outbox.Flush(ctx, 42); err != nil {
		t.Fatalf("flush: %v", err)
	}

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	saves := f.api.saves[10]
	if len(saves) != 1 {
		t.Fatalf("expected one coalesced save, got %v", saves)
	}
	if idx, ok := saves[0].ChoiceIndex(); !ok || idx != 1 {
		t.Fatalf("expected last answer to win, got %v", saves[0])
	}
}

func TestSessionResetAfterSubmit(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	ctx := context.Background()
	f.session.Start(ctx)
	f.session.Blur()
	f.session.Advance()
	f.session.Submit(ctx)

	f.session.Reset()
	snap := f.session.Snapshot()
	if snap.Phase != PhaseIdle || snap.Result != nil || snap.AntiCheat != (domain.AntiCheatSummary{}) {
		t.Fatalf("expected a fresh idle session, got %+v", snap)
	}
	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("start after reset: %v", err)
	}
	if a, d := f.relay.Balance(); a != 2 || d != 1 {
		t.Fatalf("expected second attach only, got %d/%d", a, d)
	}
}

func TestSessionAutoSubmitOnExpiry(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(30), func(o *SessionOptions) { o.AutoSubmit = true })
	f.session.Start(context.Background())
	for i := 0; i < 30; i++ {
		f.session.Tick()
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.session.Snapshot().Phase != PhaseSubmitted {
		if time.Now().After(deadline) {
			t.Fatalf("expected auto submit, got %+v", f.session.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !f.session.Snapshot().SubmittedLate {
		t.Fatalf("expected auto submission to be marked late")
	}
}

func TestSessionWithoutTimeLimit(t *testing.T) {
	quiz := timedQuiz(60)
	quiz.TimeLimitSeconds = nil
	f := newSessionFixture(t, quiz, nil)
	f.session.Start(context.Background())
	f.session.Tick()

	snap := f.session.Snapshot()
	if snap.Remaining != nil || snap.Expired || f.clock.started != 0 {
		t.Fatalf("expected no countdown, got %+v", snap)
	}
	if FormatRemaining(snap.Remaining) != "--:--" {
		t.Fatalf("unexpected countdown text")
	}
}

func TestSessionRejectsEmptyQuiz(t *testing.T) {
	f := newSessionFixture(t, domain.Quiz{ID: 5}, nil)
	if err := f.session.Start(context.Background()); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected empty quiz to be rejected, got %v", err)
	}
}

func TestSessionSubscribeReceivesUpdates(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	updates, cancel := f.session.Subscribe()
	defer cancel()

	first := <-updates
	if first.Phase != PhaseIdle {
		t.Fatalf("expected initial idle snapshot, got %s", first.Phase)
	}
	f.session.Start(context.Background())
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap := <-updates:
			if snap.Phase == PhaseInProgress {
				return
			}
		case <-timeout:
			t.Fatalf("no in-progress snapshot")
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	secs := 75
	if got := FormatRemaining(&secs); got != "01:15" {
		t.Fatalf("expected 01:15, got %s", got)
	}
}

func TestSessionNewerAnswerReplacesFailedSave(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	ctx := context.Background()
	f.session.Start(ctx)
	f.api.mu.Lock()
	f.api.saveErrs = []error{&quizapi.APIError{StatusCode: http.StatusBadRequest, Message: "hiccup"}}
	f.api.mu.Unlock()

	f.session.Answer(0, domain.Choice(0))
	if err := f.outbox.Flush(ctx, 42); err == nil {
		t.Fatalf("expected the first save to fail")
	}
	f.session.Answer(0, domain.Choice(1))
	f.session.Advance()
	if err := f.session.Submit(ctx); err != nil {
		t.Fatalf("submit after a newer answer: %v", err)
	}
	if n := f.outbox.RetryFailed(42); n != 0 {
		t.Fatalf("expected nothing to retry, got %d", n)
	}

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	saves := f.api.saves[10]
	if len(saves) != 1 {
		t.Fatalf("expected only the newer value to reach the service, got %v", saves)
	}
	if idx, _ := saves[0].ChoiceIndex(); idx != 1 {
		t.Fatalf("expected choice 1 to be stored, got %v", saves[0])
	}
}

func TestSessionResetDiscardsPendingStart(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	f.api.startGate = make(chan struct{})

	started := make(chan error, 1)
	go func() { started <- f.session.Start(context.Background()) }()
	waitFor(t, func() bool { return f.session.Snapshot().Starting })

	f.session.Reset()
	close(f.api.startGate)
	if err := <-started; !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected the late attempt to be discarded, got %v", err)
	}

	snap := f.session.Snapshot()
	if snap.Phase != PhaseIdle || snap.Starting || snap.AttemptID != 0 || snap.Result != nil {
		t.Fatalf("expected an untouched idle session, got %+v", snap)
	}
	f.clock.mu.Lock()
	timers := f.clock.started
	f.clock.mu.Unlock()
	if timers != 0 {
		t.Fatalf("expected no countdown, got %d", timers)
	}
	if f.relay.Attached() {
		t.Fatalf("expected no anti-cheat listener")
	}
}

func TestSessionResetDiscardsPendingSubmit(t *testing.T) {
	f := newSessionFixture(t, timedQuiz(60), nil)
	ctx := context.Background()
	f.session.Start(ctx)
	f.session.Advance()
	f.api.mu.Lock()
	f.api.release = make(chan struct{})
	f.api.mu.Unlock()

	submitted := make(chan error, 1)
	go func() { submitted <- f.session.Submit(ctx) }()
	waitFor(t, func() bool {
		n, _ := f.api.counts()
		return n == 1
	})

	f.session.Reset()
	close(f.api.release)
	if err := <-submitted; !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected the late result to be discarded, got %v", err)
	}

	snap := f.session.Snapshot()
	if snap.Phase != PhaseIdle || snap.Result != nil || snap.Submitting {
		t.Fatalf("expected an idle session without result, got %+v", snap)
	}
	f.clock.mu.Lock()
	started, stopped := f.clock.started, f.clock.stopped
	f.clock.mu.Unlock()
	if started != 1 || stopped != 1 {
		t.Fatalf("expected the countdown to be stopped, got %d/%d", started, stopped)
	}
	if f.relay.Attached() {
		t.Fatalf("expected the anti-cheat listener to be detached")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

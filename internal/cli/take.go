package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"quiz-client/internal/app"
	"quiz-client/internal/domain"
	"quiz-client/internal/terminal"
)

func newTakeCmd(opts *rootOptions) *cobra.Command {
	var noSignals bool
	cmd := &cobra.Command{
		Use:   "take <quiz-id>",
		Short: "Take a quiz in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := loadEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			quiz, err := e.catalog().Open(ctx, args[0])
			if err != nil {
				return err
			}

			relay := app.NewSignalRelay()
			session := e.sessionFactory(ctx, app.SystemClock())(quiz, relay)
			defer session.Close()

			out := &syncWriter{w: cmd.OutOrStdout()}
			if !noSignals && isTerminal(os.Stdout) {
				fmt.Fprint(out, terminal.EnableReporting)
				defer fmt.Fprint(out, terminal.DisableReporting)
			}

			t := &takeLoop{session: session, relay: relay, out: out}
			stopWatch := t.watch()
			defer stopWatch()
			return t.run(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().BoolVar(&noSignals, "no-signals", false, "do not enable focus and paste reporting")
	return cmd
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// takeLoop drives a session from terminal input.
type takeLoop struct {
	session *app.Session
	relay   *app.SignalRelay
	out     io.Writer
}

func (t *takeLoop) run(ctx context.Context, in io.Reader) error {
	t.render(t.session.Snapshot())
	dec := terminal.NewDecoder(in)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch ev.Kind {
		case terminal.EventBlur:
			t.relay.Emit(domain.SignalBlur)
		case terminal.EventPaste:
			t.relay.Emit(domain.SignalPaste)
		case terminal.EventLine:
			if quit := t.handle(ctx, ev.Text); quit {
				return nil
			}
		}
	}
}

// watch prints expiry and results as the session reports them, including auto-submits.
func (t *takeLoop) watch() func() {
	updates, cancel := t.session.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		expired := false
		phase := app.PhaseIdle
		for snap := range updates {
			if snap.Expired && !expired {
				fmt.Fprintln(t.out, "Time is up.")
			}
			expired = snap.Expired
			if snap.Phase == app.PhaseSubmitted && phase != app.PhaseSubmitted {
				t.renderResult(snap)
			}
			phase = snap.Phase
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (t *takeLoop) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	var err error
	switch strings.ToLower(cmd) {
	case "":
		return false
	case "q", "quit":
		return true
	case "start":
		err = t.session.Start(ctx)
	case "n", "next":
		_, err = t.session.Advance()
	case "p", "prev":
		_, err = t.session.Retreat()
	case "a", "answer":
		err = t.answer(arg)
	case "s", "submit":
		// the watcher prints the result
		if err = t.session.Submit(ctx); err == nil {
			return false
		}
	case "retry":
		n := t.session.RetryFailed()
		fmt.Fprintf(t.out, "Re-queued %d failed saves.\n", n)
	case "reset":
		t.session.Reset()
	case "h", "help":
		t.help()
		return false
	default:
		fmt.Fprintf(t.out, "Unknown command %q. Type help.\n", cmd)
		return false
	}
	if err != nil {
		fmt.Fprintf(t.out, "Error: %s\n", describeError(err))
	}
	t.render(t.session.Snapshot())
	return false
}

func (t *takeLoop) answer(raw string) error {
	snap := t.session.Snapshot()
	if snap.Question == nil {
		return domain.ErrQuestionNotFound
	}
	value, err := parseAnswer(*snap.Question, raw)
	if err != nil {
		return err
	}
	return t.session.Answer(snap.Current, value)
}

// parseAnswer reads a letter or 1-based number for mcq questions and free text otherwise.
func parseAnswer(q domain.Question, raw string) (domain.AnswerValue, error) {
	raw = strings.TrimSpace(raw)
	if q.Type.FreeText() {
		return domain.Text(raw), nil
	}
	if raw == "" {
		return domain.AnswerValue{}, fmt.Errorf("%w: pick an option", domain.ErrInvalidAnswer)
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return domain.Choice(n - 1), nil
	}
	if len(raw) == 1 {
		c := strings.ToUpper(raw)[0]
		if c >= 'A' && c <= 'Z' {
			return domain.Choice(int(c - 'A')), nil
		}
	}
	return domain.AnswerValue{}, fmt.Errorf("%w: %q is not an option", domain.ErrInvalidAnswer, raw)
}

func (t *takeLoop) help() {
	fmt.Fprintln(t.out, "Commands: start, n/next, p/prev, a <answer>, s/submit, retry, reset, q/quit")
}

func (t *takeLoop) render(snap app.Snapshot) {
	title := snap.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled Quiz"
	}
	fmt.Fprintf(t.out, "\n%s\n", title)
	if snap.Description != "" {
		fmt.Fprintln(t.out, snap.Description)
	}

	switch snap.Phase {
	case app.PhaseIdle:
		if snap.Starting {
			fmt.Fprintln(t.out, "Starting attempt...")
			return
		}
		fmt.Fprintln(t.out, `Type "start" to begin the quiz.`)
		if snap.Question != nil {
			t.renderQuestion(snap, 0)
		}
	case app.PhaseInProgress:
		if snap.Remaining != nil {
			fmt.Fprintf(t.out, "Time left: %s\n", app.FormatRemaining(snap.Remaining))
		}
		t.renderQuestion(snap, snap.Current)
		if snap.FailedEffects > 0 {
			fmt.Fprintf(t.out, "%d answers could not be saved. Type retry.\n", snap.FailedEffects)
		}
		if snap.CanSubmit {
			fmt.Fprintln(t.out, "Last question: type submit when ready.")
		}
	case app.PhaseSubmitted:
		fmt.Fprintln(t.out, `Quiz submitted. Type "reset" to try again.`)
	}
}

func (t *takeLoop) renderQuestion(snap app.Snapshot, idx int) {
	q := snap.Question
	fmt.Fprintf(t.out, "Question %d of %d\n%s\n", idx+1, snap.QuestionCount, q.Prompt)
	if q.CodeSnippet != "" {
		for _, l := range strings.Split(q.CodeSnippet, "\n") {
			fmt.Fprintf(t.out, "    %s\n", l)
		}
	}
	answer, answered := snap.Answers[idx]
	if q.Type == domain.QuestionMCQ {
		for i, opt := range q.Options {
			mark := " "
			if chosen, ok := answer.ChoiceIndex(); answered && ok && chosen == i {
				mark = "*"
			}
			fmt.Fprintf(t.out, " %s %c) %s\n", mark, 'A'+i, opt)
		}
		return
	}
	if answered {
		fmt.Fprintf(t.out, "Your answer: %s\n", answer)
	}
	fmt.Fprintln(t.out, "Short answer (case-insensitive)")
}

func (t *takeLoop) renderResult(snap app.Snapshot) {
	if snap.Result == nil {
		return
	}
	fmt.Fprintln(t.out, "Quiz submitted!")
	fmt.Fprintf(t.out, "Score: %d / %d\n", snap.Result.Score, snap.QuestionCount)
	fmt.Fprintln(t.out, "Per-question results:")
	for _, l := range snap.ResultLines {
		fmt.Fprintf(t.out, "  %s\n", l)
	}
	fmt.Fprintf(t.out, "Anti-cheat summary: tab switches %d, paste events %d\n",
		snap.AntiCheat.TabSwitches, snap.AntiCheat.Pastes)
	if snap.SubmittedLate {
		fmt.Fprintln(t.out, "You may have run out of time or submitted late.")
	} else if snap.Result.Score == 0 && anyIncorrect(snap.Result.Details) {
		fmt.Fprintln(t.out, "All answers are wrong")
	}
	fmt.Fprintln(t.out, `Type "reset" to try again.`)
}

func anyIncorrect(details []domain.QuestionResult) bool {
	for _, d := range details {
		if !d.Correct {
			return true
		}
	}
	return false
}

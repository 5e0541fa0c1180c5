package app

import (
	"fmt"

	"quiz-client/internal/domain"
)

// Snapshot is a read-only view of a session for renderers.
type Snapshot struct {
	QuizID        int64                      `json:"quizId"`
	Title         string                     `json:"title"`
	Description   string                     `json:"description"`
	Phase         Phase                      `json:"phase"`
	Starting      bool                       `json:"starting"`
	AttemptID     int64                      `json:"attemptId,omitempty"`
	Current       int                        `json:"current"`
	QuestionCount int                        `json:"questionCount"`
	Question      *domain.Question           `json:"question,omitempty"`
	Answers       map[int]domain.AnswerValue `json:"answers,omitempty"`
	Remaining     *int                       `json:"remaining,omitempty"`
	Expired       bool                       `json:"expired"`
	Submitting    bool                       `json:"submitting"`
	CanSubmit     bool                       `json:"canSubmit"`
	FailedEffects int                        `json:"failedEffects"`
	AntiCheat     domain.AntiCheatSummary    `json:"antiCheat"`
	Result        *domain.SubmissionResult   `json:"result,omitempty"`
	ResultLines   []string                   `json:"resultLines,omitempty"`
	SubmittedLate bool                       `json:"submittedLate"`
	Error         string                     `json:"error,omitempty"`
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		QuizID:        s.quiz.ID,
		Title:         s.quiz.Title,
		Description:   s.quiz.Description,
		Phase:         s.phase,
		Starting:      s.starting,
		QuestionCount: len(s.quiz.Questions),
		AntiCheat:     s.antiCheat,
		SubmittedLate: s.submittedLate,
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}

	switch s.phase {
	case PhaseIdle:
		if len(s.quiz.Questions) > 0 {
			q := s.quiz.Questions[0]
			snap.Question = &q
		}
	case PhaseInProgress:
		p := s.progress
		snap.AttemptID = p.attemptID
		snap.Current = p.current
		q := s.quiz.Questions[p.current]
		snap.Question = &q
		snap.Answers = make(map[int]domain.AnswerValue, len(p.answers))
		for k, v := range p.answers {
			snap.Answers[k] = v
		}
		if p.remaining != nil {
			r := *p.remaining
			snap.Remaining = &r
		}
		snap.Expired = p.expired
		snap.Submitting = p.submitting
		snap.CanSubmit = !p.submitting && p.attemptID != 0 && p.current == len(s.quiz.Questions)-1
		for _, f := range s.outbox.Failed() {
			if f.Attempt == p.attemptID {
				snap.FailedEffects++
			}
		}
	case PhaseSubmitted:
		if s.result != nil {
			r := *s.result
			snap.Result = &r
			snap.ResultLines = ResultLines(s.quiz, r)
		}
	}
	return snap
}

// ResultLines renders one line per question, in question order.
func ResultLines(quiz domain.Quiz, result domain.SubmissionResult) []string {
	lines := make([]string, 0, len(quiz.Questions))
	for i, q := range quiz.Questions {
		status := "No answer"
		if d, ok := result.Detail(q.ID); ok {
			if d.Correct {
				status = "Correct"
			} else {
				status = "Incorrect"
			}
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, status))
	}
	return lines
}

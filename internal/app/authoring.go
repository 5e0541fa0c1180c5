package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"quiz-client/internal/domain"
	"quiz-client/internal/quizapi"
)

const (
	// DefaultTimeLimitSeconds is sent when the author leaves the limit empty.
	DefaultTimeLimitSeconds = 300
	// MinTimeLimitSeconds is the smallest limit an author may set.
	MinTimeLimitSeconds = 30
	minChoices          = 2
)

// DraftQuestion is a question being authored.
type DraftQuestion struct {
	Type          domain.QuestionType `yaml:"type" json:"type"`
	Prompt        string              `yaml:"prompt" json:"prompt"`
	CodeSnippet   string              `yaml:"codeSnippet,omitempty" json:"codeSnippet,omitempty"`
	Choices       []string            `yaml:"choices,omitempty" json:"choices,omitempty"`
	CorrectAnswer string              `yaml:"correctAnswer" json:"correctAnswer"`
}

// Draft is a quiz being authored, before and during publication.
type Draft struct {
	ID               string          `yaml:"id,omitempty" json:"id"`
	Title            string          `yaml:"title" json:"title"`
	Description      string          `yaml:"description" json:"description"`
	TimeLimitSeconds *int            `yaml:"timeLimitSeconds,omitempty" json:"timeLimitSeconds,omitempty"`
	Published        bool            `yaml:"published" json:"published"`
	Questions        []DraftQuestion `yaml:"questions" json:"questions"`
}

// NewDraft returns an empty, published-by-default draft with a fresh id.
func NewDraft() *Draft {
	return &Draft{ID: uuid.NewString(), Published: true}
}

// SameContent reports whether two drafts would publish the same quiz.
func (d Draft) SameContent(other Draft) bool {
	a, errA := json.Marshal(d)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// AddQuestion appends a default-shaped mcq question; blank prompts are ignored.
func (d *Draft) AddQuestion(prompt string) bool {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return false
	}
	d.Questions = append(d.Questions, DraftQuestion{
		Type:    domain.QuestionMCQ,
		Prompt:  prompt,
		Choices: []string{"", ""},
	})
	return true
}

func (d *Draft) RemoveQuestion(idx int) bool {
	if idx < 0 || idx >= len(d.Questions) {
		return false
	}
	d.Questions = append(d.Questions[:idx], d.Questions[idx+1:]...)
	return true
}

func (d *Draft) AddChoice(qIdx int, choice string) bool {
	if qIdx < 0 || qIdx >= len(d.Questions) || d.Questions[qIdx].Type != domain.QuestionMCQ {
		return false
	}
	d.Questions[qIdx].Choices = append(d.Questions[qIdx].Choices, choice)
	return true
}

// RemoveChoice never leaves an mcq question with fewer than two choices.
func (d *Draft) RemoveChoice(qIdx, cIdx int) bool {
	if qIdx < 0 || qIdx >= len(d.Questions) {
		return false
	}
	q := &d.Questions[qIdx]
	if cIdx < 0 || cIdx >= len(q.Choices) || len(q.Choices) <= minChoices {
		return false
	}
	q.Choices = append(q.Choices[:cIdx], q.Choices[cIdx+1:]...)
	return true
}

// ValidationError is one failed authoring rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every failed rule of a draft.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "invalid quiz: " + strings.Join(parts, "; ")
}

func normalizeChoice(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate reports whether the draft may be submitted.
func (d *Draft) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if strings.TrimSpace(d.Title) == "" {
		add("title", "is required")
	}
	if strings.TrimSpace(d.Description) == "" {
		add("description", "is required")
	}
	if d.TimeLimitSeconds != nil && *d.TimeLimitSeconds < MinTimeLimitSeconds {
		add("timeLimitSeconds", fmt.Sprintf("must be at least %d seconds", MinTimeLimitSeconds))
	}
	if len(d.Questions) == 0 {
		add("questions", "at least one question is required")
	}

	for i, q := range d.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		if strings.TrimSpace(q.Prompt) == "" {
			add(field+".prompt", "is required")
		}
		if _, err := domain.ParseQuestionType(string(q.Type)); err != nil {
			add(field+".type", err.Error())
			continue
		}
		if q.Type != domain.QuestionMCQ {
			if strings.TrimSpace(q.CorrectAnswer) == "" {
				add(field+".correctAnswer", "is required")
			}
			continue
		}

		if len(q.Choices) < minChoices {
			add(field+".choices", "at least two choices are required")
		}
		seen := make(map[string]bool, len(q.Choices))
		for j, c := range q.Choices {
			n := normalizeChoice(c)
			if n == "" {
				add(fmt.Sprintf("%s.choices[%d]", field, j), "is empty")
				continue
			}
			if seen[n] {
				add(fmt.Sprintf("%s.choices[%d]", field, j), "duplicates another choice")
			}
			seen[n] = true
		}
		if correctIndex(q) < 0 {
			add(field+".correctAnswer", "must match one of the choices")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func correctIndex(q DraftQuestion) int {
	want := strings.TrimSpace(q.CorrectAnswer)
	if want == "" {
		return -1
	}
	for i, c := range q.Choices {
		if strings.TrimSpace(c) == want {
			return i
		}
	}
	return -1
}

// questionPayload resolves an mcq correct answer to its option index.
func questionPayload(q DraftQuestion) quizapi.NewQuestion {
	payload := quizapi.NewQuestion{
		Type:        q.Type,
		Prompt:      strings.TrimSpace(q.Prompt),
		CodeSnippet: q.CodeSnippet,
	}
	if q.Type == domain.QuestionMCQ {
		payload.Options = make([]string, len(q.Choices))
		for i, c := range q.Choices {
			payload.Options[i] = strings.TrimSpace(c)
		}
		payload.CorrectAnswer = correctIndex(q)
		return payload
	}
	payload.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
	return payload
}

// QuizAuthor is the slice of the quiz service the publisher needs.
type QuizAuthor interface {
	CreateQuiz(ctx context.Context, quiz quizapi.NewQuiz) (int64, error)
	CreateQuestion(ctx context.Context, quizID int64, question quizapi.NewQuestion) error
}

// PublishRecord tracks how far a draft got towards the service.
type PublishRecord struct {
	Draft            Draft
	QuizID           int64
	QuestionsCreated int
	Completed        bool
	UpdatedAt        time.Time
}

// PublishJournal persists publication progress so a partial publish can resume.
type PublishJournal interface {
	Begin(ctx context.Context, draft Draft) (PublishRecord, error)
	Get(ctx context.Context, draftID string) (PublishRecord, error)
	SetQuiz(ctx context.Context, draftID string, quizID int64) error
	MarkQuestion(ctx context.Context, draftID string, created int) error
	Complete(ctx context.Context, draftID string) error
	Pending(ctx context.Context) ([]PublishRecord, error)
}

// PublishReport summarizes a publish or resume run.
type PublishReport struct {
	DraftID          string
	QuizID           int64
	QuestionsCreated int
	QuestionsTotal   int
}

// Publisher creates the quiz, then its questions one by one.
type Publisher struct {
	api     QuizAuthor
	journal PublishJournal
	policy  RetryPolicy
}

func NewPublisher(api QuizAuthor, journal PublishJournal, policy RetryPolicy) *Publisher {
	return &Publisher{api: api, journal: journal, policy: policy}
}

// Publish validates the draft and sends it. Invalid drafts never reach the service.
func (p *Publisher) Publish(ctx context.Context, draft Draft) (PublishReport, error) {
	if err := draft.Validate(); err != nil {
		return PublishReport{DraftID: draft.ID, QuestionsTotal: len(draft.Questions)}, err
	}
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	record, err := p.journal.Begin(ctx, draft)
	if err != nil {
		return PublishReport{DraftID: draft.ID}, fmt.Errorf("journal draft: %w", err)
	}
	return p.run(ctx, record)
}

// Resume continues a partially published draft from its first missing question.
func (p *Publisher) Resume(ctx context.Context, draftID string) (PublishReport, error) {
	record, err := p.journal.Get(ctx, draftID)
	if err != nil {
		return PublishReport{DraftID: draftID}, err
	}
	return p.run(ctx, record)
}

func (p *Publisher) run(ctx context.Context, record PublishRecord) (PublishReport, error) {
	draft := record.Draft
	report := PublishReport{
		DraftID:          draft.ID,
		QuizID:           record.QuizID,
		QuestionsCreated: record.QuestionsCreated,
		QuestionsTotal:   len(draft.Questions),
	}
	if record.Completed {
		return report, nil
	}

	if report.QuizID == 0 {
		limit := DefaultTimeLimitSeconds
		if draft.TimeLimitSeconds != nil {
			limit = *draft.TimeLimitSeconds
		}
		// not retried: a lost response would leave a duplicate quiz behind
		quizID, err := p.api.CreateQuiz(ctx, quizapi.NewQuiz{
			Title:            strings.TrimSpace(draft.Title),
			Description:      strings.TrimSpace(draft.Description),
			TimeLimitSeconds: limit,
			Published:        draft.Published,
		})
		if err != nil {
			return report, err
		}
		report.QuizID = quizID
		if err := p.journal.SetQuiz(ctx, draft.ID, quizID); err != nil {
			return report, fmt.Errorf("journal quiz %d: %w", quizID, err)
		}
	}

	for i := report.QuestionsCreated; i < len(draft.Questions); i++ {
		payload := questionPayload(draft.Questions[i])
		err := backoff.Retry(func() error {
			err := p.api.CreateQuestion(ctx, report.QuizID, payload)
			if err != nil && !quizapi.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}, p.policy.backOff(ctx))
		if err != nil {
			return report, fmt.Errorf("%w: %d of %d questions on quiz %d (resume draft %s): %v",
				domain.ErrPartialPublish, report.QuestionsCreated, report.QuestionsTotal, report.QuizID, draft.ID, err)
		}
		report.QuestionsCreated = i + 1
		if err := p.journal.MarkQuestion(ctx, draft.ID, report.QuestionsCreated); err != nil {
			return report, fmt.Errorf("journal question %d: %w", i, err)
		}
	}

	if err := p.journal.Complete(ctx, draft.ID); err != nil {
		return report, fmt.Errorf("journal complete: %w", err)
	}
	return report, nil
}

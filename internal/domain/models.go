package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QuestionType is the tagged variant of a question.
type QuestionType string

const (
	QuestionMCQ   QuestionType = "mcq"
	QuestionShort QuestionType = "short"
	QuestionCode  QuestionType = "code"
)

// ParseQuestionType maps a wire value onto a known variant.
func ParseQuestionType(raw string) (QuestionType, error) {
	switch t := QuestionType(strings.TrimSpace(raw)); t {
	case QuestionMCQ, QuestionShort, QuestionCode:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownQuestionType, raw)
	}
}

// FreeText reports whether answers to this type are typed text.
func (t QuestionType) FreeText() bool {
	return t == QuestionShort || t == QuestionCode
}

// Question is one quiz question as served by the quiz service.
type Question struct {
	ID          int64        `json:"id"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"prompt"`
	CodeSnippet string       `json:"codeSnippet,omitempty"`
	Options     []string     `json:"options,omitempty"`
}

// UnmarshalJSON rejects unknown question types instead of letting them fall through.
func (q *Question) UnmarshalJSON(data []byte) error {
	type wire Question
	var raw struct {
		wire
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := ParseQuestionType(raw.Type)
	if err != nil {
		return fmt.Errorf("question %d: %w", raw.ID, err)
	}
	*q = Question(raw.wire)
	q.Type = t
	if t == QuestionMCQ && len(q.Options) < 2 {
		return fmt.Errorf("question %d: mcq needs at least two options", q.ID)
	}
	return nil
}

// Quiz is a published or draft quiz with its ordered questions.
type Quiz struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	TimeLimitSeconds *int       `json:"timeLimitSeconds,omitempty"`
	Published        bool       `json:"isPublished"`
	Questions        []Question `json:"questions,omitempty"`
}

// HasTimeLimit reports whether the quiz declares a positive time limit.
func (q Quiz) HasTimeLimit() bool {
	return q.TimeLimitSeconds != nil && *q.TimeLimitSeconds > 0
}

// AnswerValue is either an option index (mcq) or free text (short/code).
type AnswerValue struct {
	choice *int
	text   *string
}

// Choice builds an option-index answer.
func Choice(index int) AnswerValue {
	return AnswerValue{choice: &index}
}

// Text builds a free-text answer.
func Text(value string) AnswerValue {
	return AnswerValue{text: &value}
}

// IsZero reports whether no value has been set.
func (v AnswerValue) IsZero() bool {
	return v.choice == nil && v.text == nil
}

// ChoiceIndex returns the option index and whether the value is a choice.
func (v AnswerValue) ChoiceIndex() (int, bool) {
	if v.choice == nil {
		return 0, false
	}
	return *v.choice, true
}

// TextValue returns the typed text and whether the value is text.
func (v AnswerValue) TextValue() (string, bool) {
	if v.text == nil {
		return "", false
	}
	return *v.text, true
}

// ValidFor checks the value variant against the question variant.
func (v AnswerValue) ValidFor(q Question) error {
	switch q.Type {
	case QuestionMCQ:
		idx, ok := v.ChoiceIndex()
		if !ok || idx < 0 || idx >= len(q.Options) {
			return fmt.Errorf("%w: question %d expects an option index in [0,%d)", ErrInvalidAnswer, q.ID, len(q.Options))
		}
	case QuestionShort, QuestionCode:
		if _, ok := v.TextValue(); !ok {
			return fmt.Errorf("%w: question %d expects text", ErrInvalidAnswer, q.ID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQuestionType, q.Type)
	}
	return nil
}

func (v AnswerValue) String() string {
	if idx, ok := v.ChoiceIndex(); ok {
		return fmt.Sprintf("%d", idx)
	}
	if s, ok := v.TextValue(); ok {
		return s
	}
	return ""
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	if v.choice != nil {
		return json.Marshal(*v.choice)
	}
	if v.text != nil {
		return json.Marshal(*v.text)
	}
	return []byte("null"), nil
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	*v = AnswerValue{}
	if string(data) == "null" {
		return nil
	}
	var idx int
	if err := json.Unmarshal(data, &idx); err == nil {
		*v = Choice(idx)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAnswer, string(data))
	}
	*v = Text(s)
	return nil
}

// CheatSignal is a client-observed anti-cheat event.
type CheatSignal string

const (
	SignalBlur  CheatSignal = "blur"
	SignalPaste CheatSignal = "paste"
)

// AntiCheatSummary aggregates anti-cheat signals for one attempt.
type AntiCheatSummary struct {
	TabSwitches int `json:"tabSwitches"`
	Pastes      int `json:"pastes"`
}

// QuestionResult is the per-question outcome returned at submit time.
type QuestionResult struct {
	QuestionID int64 `json:"questionId"`
	Correct    bool  `json:"correct"`
}

// SubmissionResult is what the service returns when an attempt is finalized.
type SubmissionResult struct {
	Score   int              `json:"score"`
	Details []QuestionResult `json:"details"`
}

// Detail returns the outcome for a question id, if the service reported one.
func (r SubmissionResult) Detail(questionID int64) (QuestionResult, bool) {
	for _, d := range r.Details {
		if d.QuestionID == questionID {
			return d, true
		}
	}
	return QuestionResult{}, false
}

package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz could not be loaded from the service.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound indicates the service does not know the attempt.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrInvalidTransition is returned when an operation is not allowed in the current phase.
	ErrInvalidTransition = errors.New("operation not allowed in current attempt phase")
	// ErrNotLastQuestion is returned when submit is invoked before reaching the final question.
	ErrNotLastQuestion = errors.New("submit is only available on the last question")
	// ErrSubmitInProgress guards against a second finalize call while one is outstanding.
	ErrSubmitInProgress = errors.New("submission already in progress")
	// ErrNoAttempt is returned when an attempt-bound call runs without an attempt id.
	ErrNoAttempt = errors.New("attempt has not been created")
	// ErrQuestionNotFound indicates a question index outside the quiz.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidAnswer indicates an answer value that does not fit its question.
	ErrInvalidAnswer = errors.New("invalid answer for question")
	// ErrUnknownQuestionType is returned for question types other than mcq, short and code.
	ErrUnknownQuestionType = errors.New("unknown question type")
	// ErrCredentialExpired indicates the configured bearer token has expired.
	ErrCredentialExpired = errors.New("api credential expired")
	// ErrPartialPublish indicates the quiz was created but some questions were not.
	ErrPartialPublish = errors.New("quiz partially published")
	// ErrDraftNotFound indicates the publish journal has no entry for a draft.
	ErrDraftNotFound = errors.New("draft not found")
	// ErrDraftChanged indicates a draft was edited after its quiz was created.
	ErrDraftChanged = errors.New("draft changed after its quiz was created")
)

package quizapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"quiz-client/internal/domain"
)

var ErrServiceUnavailable = errors.New("quiz service unavailable")

const (
	DefaultBaseURL = "http://localhost:4000"
	// DefaultToken is the development credential the local quiz service accepts.
	DefaultToken = "dev-token"
)

// APIError is a non-2xx answer from the quiz service.
type APIError struct {
	StatusCode int
	Message    string
	notFound   error
}

func (e *APIError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Unwrap lets errors.Is match domain not-found sentinels on 404s.
func (e *APIError) Unwrap() error {
	return e.notFound
}

// Retryable reports whether err is worth retrying: transport failures, 408, 429 and 5xx.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServiceUnavailable) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return true
		}
	}
	return false
}

// Client talks to the external quiz service over REST.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type errorResponse struct {
	Error string `json:"error"`
}

type createQuizRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
	IsPublished      bool   `json:"isPublished"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

// NewQuestion is the payload appended to a quiz by the authoring form.
type NewQuestion struct {
	Type          domain.QuestionType `json:"type"`
	Prompt        string              `json:"prompt"`
	CodeSnippet   string              `json:"codeSnippet,omitempty"`
	Options       []string            `json:"options,omitempty"`
	CorrectAnswer any                 `json:"correctAnswer"`
}

// NewQuiz is the quiz record created before its questions.
type NewQuiz struct {
	Title            string
	Description      string
	TimeLimitSeconds int
	Published        bool
}

type startAttemptRequest struct {
	QuizID int64 `json:"quizId"`
}

type answerRequest struct {
	QuestionID int64              `json:"questionId"`
	Value      domain.AnswerValue `json:"value"`
}

type eventRequest struct {
	Event domain.CheatSignal `json:"event"`
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	token = strings.TrimSpace(token)
	if token == "" {
		token = DefaultToken
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
	}
}

// BaseURL returns the normalized service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	var quizzes []domain.Quiz
	if err := c.doJSON(ctx, http.MethodGet, "/quizzes", nil, "", &quizzes, nil); err != nil {
		return nil, err
	}
	return quizzes, nil
}

func (c *Client) GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	var quiz domain.Quiz
	path := "/quizzes/" + strconv.FormatInt(quizID, 10)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "", &quiz, domain.ErrQuizNotFound); err != nil {
		return domain.Quiz{}, fmt.Errorf("get quiz %d: %w", quizID, err)
	}
	return quiz, nil
}

// LoadQuiz lets the client act as the loader behind a quiz cache.
func (c *Client) LoadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	return c.GetQuiz(ctx, quizID)
}

func (c *Client) CreateQuiz(ctx context.Context, quiz NewQuiz) (int64, error) {
	var created idResponse
	err := c.doJSON(ctx, http.MethodPost, "/quizzes", createQuizRequest{
		Title:            quiz.Title,
		Description:      quiz.Description,
		TimeLimitSeconds: quiz.TimeLimitSeconds,
		IsPublished:      quiz.Published,
	}, "", &created, nil)
	if err != nil {
		return 0, fmt.Errorf("create quiz: %w", err)
	}
	return created.ID, nil
}

func (c *Client) CreateQuestion(ctx context.Context, quizID int64, question NewQuestion) error {
	path := "/quizzes/" + strconv.FormatInt(quizID, 10) + "/questions"
	if err := c.doJSON(ctx, http.MethodPost, path, question, "", nil, domain.ErrQuizNotFound); err != nil {
		return fmt.Errorf("create question on quiz %d: %w", quizID, err)
	}
	return nil
}

func (c *Client) StartAttempt(ctx context.Context, quizID int64) (int64, error) {
	var created idResponse
	if err := c.doJSON(ctx, http.MethodPost, "/attempts", startAttemptRequest{QuizID: quizID}, "", &created, domain.ErrQuizNotFound); err != nil {
		return 0, fmt.Errorf("start attempt: %w", err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("start attempt: %w", domain.ErrNoAttempt)
	}
	return created.ID, nil
}

func (c *Client) SaveAnswer(ctx context.Context, attemptID, questionID int64, value domain.AnswerValue, idempotencyKey string) error {
	path := attemptPath(attemptID, "answer")
	body := answerRequest{QuestionID: questionID, Value: value}
	return c.doJSON(ctx, http.MethodPost, path, body, idempotencyKey, nil, domain.ErrAttemptNotFound)
}

func (c *Client) RecordEvent(ctx context.Context, attemptID int64, signal domain.CheatSignal, idempotencyKey string) error {
	path := attemptPath(attemptID, "events")
	return c.doJSON(ctx, http.MethodPost, path, eventRequest{Event: signal}, idempotencyKey, nil, domain.ErrAttemptNotFound)
}

func (c *Client) SubmitAttempt(ctx context.Context, attemptID int64) (domain.SubmissionResult, error) {
	var result domain.SubmissionResult
	if err := c.doJSON(ctx, http.MethodPost, attemptPath(attemptID, "submit"), nil, "", &result, domain.ErrAttemptNotFound); err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("submit attempt %d: %w", attemptID, err)
	}
	return result, nil
}

func attemptPath(attemptID int64, action string) string {
	return "/attempts/" + strconv.FormatInt(attemptID, 10) + "/" + action
}

func (c *Client) doJSON(ctx context.Context, method, path string, requestBody any, idempotencyKey string, responseBody any, notFound error) error {
	var body io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	if idempotencyKey != "" {
		request.Header.Set("Idempotency-Key", idempotencyKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiErr := APIError{StatusCode: response.StatusCode}
		var payload errorResponse
		if err := json.NewDecoder(response.Body).Decode(&payload); err == nil && strings.TrimSpace(payload.Error) != "" {
			apiErr.Message = payload.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(response.StatusCode)
		}
		if response.StatusCode == http.StatusNotFound {
			apiErr.notFound = notFound
		}
		return &apiErr
	}

	if responseBody == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(responseBody); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

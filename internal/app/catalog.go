package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"quiz-client/internal/domain"
)

// QuizRepository loads quiz content (from cache or the service).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error)
}

// QuizLister lists every quiz the service knows about.
type QuizLister interface {
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
}

// Catalog lists published quizzes and opens one by id.
type Catalog struct {
	lister  QuizLister
	quizzes QuizRepository
}

func NewCatalog(lister QuizLister, quizzes QuizRepository) *Catalog {
	return &Catalog{lister: lister, quizzes: quizzes}
}

// List returns published quizzes in service order.
func (c *Catalog) List(ctx context.Context) ([]domain.Quiz, error) {
	all, err := c.lister.ListQuizzes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	published := make([]domain.Quiz, 0, len(all))
	for _, q := range all {
		if q.Published {
			published = append(published, q)
		}
	}
	return published, nil
}

// ParseQuizID accepts a positive integer typed or clicked by the user.
func ParseQuizID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not a quiz id", domain.ErrQuizNotFound, raw)
	}
	return id, nil
}

// Open loads a quiz by the id the user entered.
func (c *Catalog) Open(ctx context.Context, raw string) (domain.Quiz, error) {
	id, err := ParseQuizID(raw)
	if err != nil {
		return domain.Quiz{}, err
	}
	return c.quizzes.GetQuiz(ctx, id)
}

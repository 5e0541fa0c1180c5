package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quiz-client/internal/app"
	"quiz-client/internal/domain"
)

// PublishJournal keeps publication progress for the lifetime of the process.
type PublishJournal struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]app.PublishRecord
}

func NewPublishJournal() *PublishJournal {
	return &PublishJournal{
		now:     time.Now,
		records: make(map[string]app.PublishRecord),
	}
}

// Begin stores the draft; an existing record keeps its progress. The body may
// change until the quiz is created, after which a different body is rejected.
func (j *PublishJournal) Begin(_ context.Context, draft app.Draft) (app.PublishRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.records[draft.ID]
	switch {
	case ok && rec.QuizID != 0 && !rec.Draft.SameContent(draft):
		return app.PublishRecord{}, fmt.Errorf("draft %s: %w", draft.ID, domain.ErrDraftChanged)
	case ok && rec.QuizID != 0:
		return rec, nil
	}
	rec = app.PublishRecord{Draft: draft, UpdatedAt: j.now()}
	j.records[draft.ID] = rec
	return rec, nil
}

func (j *PublishJournal) Get(_ context.Context, draftID string) (app.PublishRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.records[draftID]
	if !ok {
		return app.PublishRecord{}, domain.ErrDraftNotFound
	}
	return rec, nil
}

func (j *PublishJournal) SetQuiz(_ context.Context, draftID string, quizID int64) error {
	return j.update(draftID, func(rec *app.PublishRecord) { rec.QuizID = quizID })
}

func (j *PublishJournal) MarkQuestion(_ context.Context, draftID string, created int) error {
	return j.update(draftID, func(rec *app.PublishRecord) { rec.QuestionsCreated = created })
}

func (j *PublishJournal) Complete(_ context.Context, draftID string) error {
	return j.update(draftID, func(rec *app.PublishRecord) { rec.Completed = true })
}

// Pending lists unfinished publications, oldest first.
func (j *PublishJournal) Pending(_ context.Context) ([]app.PublishRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]app.PublishRecord, 0)
	for _, rec := range j.records {
		if !rec.Completed {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	return out, nil
}

func (j *PublishJournal) update(draftID string, fn func(*app.PublishRecord)) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.records[draftID]
	if !ok {
		return domain.ErrDraftNotFound
	}
	fn(&rec)
	rec.UpdatedAt = j.now()
	j.records[draftID] = rec
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-client/internal/app"
	"quiz-client/internal/domain"
)

// PublishJournal stores publication progress in the publish_journal table so a
// partially published quiz can be resumed from another process.
type PublishJournal struct {
	pool *pgxpool.Pool
}

func NewPublishJournal(pool *pgxpool.Pool) *PublishJournal {
	return &PublishJournal{pool: pool}
}

const selectRecord = `SELECT draft, COALESCE(quiz_id, 0), questions_created, completed, updated_at FROM publish_journal`

// Begin upserts the draft. The body is replaced only while no quiz exists for
// it; once the quiz is created a different body fails with ErrDraftChanged.
func (j *PublishJournal) Begin(ctx context.Context, draft app.Draft) (app.PublishRecord, error) {
	raw, err := json.Marshal(draft)
	if err != nil {
		return app.PublishRecord{}, fmt.Errorf("marshal draft: %w", err)
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO publish_journal (draft_id, draft) VALUES ($1, $2)
		 ON CONFLICT (draft_id) DO UPDATE SET draft = EXCLUDED.draft, updated_at = now()
		 WHERE publish_journal.quiz_id IS NULL`,
		draft.ID, raw)
	if err != nil {
		return app.PublishRecord{}, fmt.Errorf("insert draft: %w", err)
	}
	rec, err := j.Get(ctx, draft.ID)
	if err != nil {
		return app.PublishRecord{}, err
	}
	if rec.QuizID != 0 && !rec.Draft.SameContent(draft) {
		return app.PublishRecord{}, fmt.Errorf("draft %s: %w", draft.ID, domain.ErrDraftChanged)
	}
	return rec, nil
}

func (j *PublishJournal) Get(ctx context.Context, draftID string) (app.PublishRecord, error) {
	row := j.pool.QueryRow(ctx, selectRecord+` WHERE draft_id=$1`, draftID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return app.PublishRecord{}, domain.ErrDraftNotFound
	}
	if err != nil {
		return app.PublishRecord{}, fmt.Errorf("load draft: %w", err)
	}
	return rec, nil
}

func (j *PublishJournal) SetQuiz(ctx context.Context, draftID string, quizID int64) error {
	return j.exec(ctx, `UPDATE publish_journal SET quiz_id=$2, updated_at=now() WHERE draft_id=$1`, draftID, quizID)
}

func (j *PublishJournal) MarkQuestion(ctx context.Context, draftID string, created int) error {
	return j.exec(ctx, `UPDATE publish_journal SET questions_created=$2, updated_at=now() WHERE draft_id=$1`, draftID, created)
}

func (j *PublishJournal) Complete(ctx context.Context, draftID string) error {
	return j.exec(ctx, `UPDATE publish_journal SET completed=TRUE, updated_at=now() WHERE draft_id=$1`, draftID)
}

func (j *PublishJournal) Pending(ctx context.Context) ([]app.PublishRecord, error) {
	rows, err := j.pool.Query(ctx, selectRecord+` WHERE NOT completed ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending drafts: %w", err)
	}
	defer rows.Close()

	var out []app.PublishRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *PublishJournal) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := j.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDraftNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (app.PublishRecord, error) {
	var (
		raw []byte
		rec app.PublishRecord
	)
	if err := row.Scan(&raw, &rec.QuizID, &rec.QuestionsCreated, &rec.Completed, &rec.UpdatedAt); err != nil {
		return app.PublishRecord{}, err
	}
	if err := json.Unmarshal(raw, &rec.Draft); err != nil {
		return app.PublishRecord{}, fmt.Errorf("unmarshal draft: %w", err)
	}
	return rec, nil
}

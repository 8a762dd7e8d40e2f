package assist

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists pending questions.
//
// Assumed schema:
//
//	CREATE TABLE pending_questions (
//	  id          TEXT PRIMARY KEY,
//	  call_id     TEXT NOT NULL,
//	  question    TEXT NOT NULL,
//	  context     TEXT NOT NULL DEFAULT '',
//	  created_at  TIMESTAMPTZ NOT NULL,
//	  answered    BOOLEAN NOT NULL DEFAULT FALSE,
//	  answer      TEXT NOT NULL DEFAULT '',
//	  answered_at TIMESTAMPTZ,
//	  delivered   BOOLEAN NOT NULL DEFAULT FALSE
//	);
//	CREATE INDEX pending_questions_call_idx ON pending_questions (call_id, answered, delivered);
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const questionColumns = `id, call_id, question, context, created_at, answered, answer, answered_at, delivered`

func (r *PostgresRepo) Insert(ctx context.Context, q PendingQuestion) error {
	const stmt = `
INSERT INTO pending_questions (` + questionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err := r.db.ExecContext(ctx, stmt,
		q.ID,
		q.CallID,
		q.Question,
		q.Context,
		q.Timestamp,
		q.Answered,
		q.Answer,
		q.AnsweredAt,
		q.Delivered,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (PendingQuestion, error) {
	const stmt = `SELECT ` + questionColumns + ` FROM pending_questions WHERE id = $1`
	return scanQuestion(r.db.QueryRowContext(ctx, stmt, id))
}

func (r *PostgresRepo) ListOpen(ctx context.Context, callID string) ([]PendingQuestion, error) {
	stmt := `SELECT ` + questionColumns + ` FROM pending_questions WHERE answered = FALSE`
	args := []any{}
	if callID != "" {
		stmt += ` AND call_id = $1`
		args = append(args, callID)
	}
	stmt += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQuestions(rows)
}

func (r *PostgresRepo) MarkAnswered(ctx context.Context, id, answer string) (PendingQuestion, error) {
	const stmt = `
UPDATE pending_questions
SET answered = TRUE, answer = $2, answered_at = $3
WHERE id = $1 AND answered = FALSE
RETURNING ` + questionColumns
	q, err := scanQuestion(r.db.QueryRowContext(ctx, stmt, id, answer, r.clock()))
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return PendingQuestion{}, err
	}
	// Distinguish missing from already settled.
	if _, gerr := r.Get(ctx, id); gerr == nil {
		return PendingQuestion{}, ErrAlreadyAnswered
	}
	return PendingQuestion{}, ErrNotFound
}

func (r *PostgresRepo) TakeAnswered(ctx context.Context, callID string) ([]PendingQuestion, error) {
	// The UPDATE ... RETURNING makes take-and-mark atomic, so a retried
	// webhook cannot deliver the same answer twice.
	const stmt = `
UPDATE pending_questions
SET delivered = TRUE
WHERE call_id = $1 AND answered = TRUE AND delivered = FALSE
RETURNING ` + questionColumns
	rows, err := r.db.QueryContext(ctx, stmt, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQuestions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (PendingQuestion, error) {
	var q PendingQuestion
	err := row.Scan(
		&q.ID,
		&q.CallID,
		&q.Question,
		&q.Context,
		&q.Timestamp,
		&q.Answered,
		&q.Answer,
		&q.AnsweredAt,
		&q.Delivered,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingQuestion{}, ErrNotFound
		}
		return PendingQuestion{}, err
	}
	return q, nil
}

func collectQuestions(rows *sql.Rows) ([]PendingQuestion, error) {
	out := make([]PendingQuestion, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

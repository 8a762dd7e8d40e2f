package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callpilot/pkg/utils"
)

// PostgresRepo persists call records in a single `calls` table. Result is
// stored as JSONB so the outcome shape can evolve without migrations.
//
// Assumed schema:
//
//	CREATE TABLE calls (
//	  id                 TEXT PRIMARY KEY,
//	  recipient_name     TEXT NOT NULL,
//	  phone_number       TEXT NOT NULL,
//	  call_goal          TEXT NOT NULL,
//	  additional_context TEXT NOT NULL DEFAULT '',
//	  status             TEXT NOT NULL,
//	  provider_call_id   TEXT NOT NULL DEFAULT '',
//	  transcript         TEXT NOT NULL DEFAULT '',
//	  result             JSONB,
//	  created_at         TIMESTAMPTZ NOT NULL,
//	  completed_at       TIMESTAMPTZ,
//	  duration_seconds   INT NOT NULL DEFAULT 0,
//	  revision           BIGINT NOT NULL DEFAULT 0,
//	  updated_at         TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX calls_provider_call_id_idx ON calls (provider_call_id);
//	CREATE INDEX calls_status_created_idx ON calls (status, created_at);
type PostgresRepo struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const callColumns = `id, recipient_name, phone_number, call_goal, additional_context,
       status, provider_call_id, transcript, result, created_at, completed_at,
       duration_seconds, revision, updated_at`

func (r *PostgresRepo) Insert(ctx context.Context, rec CallRecord) error {
	resultJSON, err := marshalResult(rec.Result)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`
	_, err = r.db.ExecContext(ctx, q,
		rec.ID,
		rec.RecipientName,
		rec.PhoneNumber,
		rec.CallGoal,
		rec.AdditionalContext,
		rec.Status,
		rec.ProviderCallID,
		rec.Transcript,
		resultJSON,
		rec.CreatedAt,
		rec.CompletedAt,
		rec.DurationSeconds,
		rec.Revision,
		rec.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (CallRecord, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByProviderID(ctx context.Context, providerCallID string) (CallRecord, error) {
	if providerCallID == "" {
		return CallRecord{}, ErrNotFound
	}
	const q = `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1 LIMIT 1`
	return scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *PostgresRepo) Apply(ctx context.Context, id string, upd Update) (CallRecord, error) {
	var out CallRecord
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
		rec, err := scanCall(tx.QueryRowContext(ctx, sel, id))
		if err != nil {
			return err
		}
		if upd.OnlyIfNonTerminal && rec.Status.Terminal() {
			return ErrTerminal
		}

		applyUpdate(&rec, upd, r.clock())

		resultJSON, err := marshalResult(rec.Result)
		if err != nil {
			return err
		}
		const q = `
UPDATE calls
SET status = $2, provider_call_id = $3, result = $4, completed_at = $5,
    duration_seconds = $6, revision = $7, updated_at = $8
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, q,
			rec.ID,
			rec.Status,
			rec.ProviderCallID,
			resultJSON,
			rec.CompletedAt,
			rec.DurationSeconds,
			rec.Revision,
			rec.UpdatedAt,
		); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return CallRecord{}, err
	}
	return out, nil
}

func (r *PostgresRepo) AppendTranscript(ctx context.Context, id, chunk string) error {
	const q = `
UPDATE calls
SET transcript = transcript || $2, revision = revision + 1, updated_at = $3
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, chunk, r.clock())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListStale(ctx context.Context, before time.Time) ([]CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status IN ($1, $2) AND created_at < $3
ORDER BY created_at
`
	return r.list(ctx, q, StatusPreparing, StatusDialing, before)
}

func (r *PostgresRepo) ListActive(ctx context.Context) ([]CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status IN ($1, $2)
ORDER BY created_at
`
	return r.list(ctx, q, StatusDialing, StatusInProgress)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]CallRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// applyUpdate mutates rec in place and bumps the revision. Shared with the
// memory repository so both backends agree on update semantics.
func applyUpdate(rec *CallRecord, upd Update, now time.Time) {
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.ProviderCallID != nil {
		rec.ProviderCallID = *upd.ProviderCallID
	}
	if upd.Result != nil {
		rec.Result = upd.Result
	}
	if upd.CompletedAt != nil {
		rec.CompletedAt = upd.CompletedAt
	}
	if upd.DurationSeconds != nil {
		rec.DurationSeconds = *upd.DurationSeconds
	}
	rec.Revision++
	rec.UpdatedAt = now
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (CallRecord, error) {
	var (
		rec        CallRecord
		resultJSON sql.NullString
	)
	err := row.Scan(
		&rec.ID,
		&rec.RecipientName,
		&rec.PhoneNumber,
		&rec.CallGoal,
		&rec.AdditionalContext,
		&rec.Status,
		&rec.ProviderCallID,
		&rec.Transcript,
		&resultJSON,
		&rec.CreatedAt,
		&rec.CompletedAt,
		&rec.DurationSeconds,
		&rec.Revision,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var res CallResult
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return CallRecord{}, fmt.Errorf("decode call result: %w", err)
		}
		rec.Result = &res
	}
	return rec, nil
}

func marshalResult(res *CallResult) (any, error) {
	if res == nil {
		return nil, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode call result: %w", err)
	}
	return string(b), nil
}

package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store is the relay's view of the outbox table.
type Store interface {
	LockBatch(ctx context.Context, batchSize, maxAttempts int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// InsertTx enqueues an event inside the caller's transaction, so the event
// exists if and only if the surrounding state change commits.
func InsertTx(ctx context.Context, tx *sql.Tx, e Event) (int64, error) {
	const q = `
	INSERT INTO outbox (aggregate_id, type, payload, status)
	VALUES ($1, $2, $3, 'pending')
	RETURNING id;
	`

	var id int64
	if err := tx.QueryRowContext(ctx, q, e.AggregateID, e.Type, e.Payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert outbox event: %w", err)
	}
	return id, nil
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Store {
	return &repository{db: db}
}

// LockBatch leases up to batchSize deliverable events. Rows locked by another
// relay are skipped; the lease keeps them invisible until it expires.
func (r *repository) LockBatch(ctx context.Context, batchSize, maxAttempts int, lease time.Duration) ([]Event, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin outbox lock: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, type, payload, status, attempts, created_at
		FROM outbox
		WHERE (status = 'pending' OR (status = 'failed' AND attempts < $2))
		  AND (locked_until IS NULL OR locked_until < now())
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("select outbox batch: %w", err)
	}

	var events []Event
	for rows.Next() {
		var (
			e      Event
			status string
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.Type, &e.Payload, &status, &e.Attempts, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		e.Status = Status(status)
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE outbox SET locked_until = now() + $1::interval WHERE id = ANY($2)`,
		lease.String(), pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("lease outbox batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox lock: %w", err)
	}
	return events, nil
}

func (r *repository) MarkSent(ctx context.Context, ids []int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'sent', locked_until = NULL, sent_at = now() WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	return err
}

func (r *repository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'failed', attempts = attempts + 1, last_error = $2, locked_until = NULL WHERE id = $1`,
		id, errMsg,
	)
	return err
}

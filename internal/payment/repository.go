package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Repository keeps an append-only audit trail of gateway callbacks.
type Repository interface {
	SaveCallback(ctx context.Context, rec *CallbackRecord) (int64, error)
	ListCallbacks(ctx context.Context, tradeNo string) ([]CallbackRecord, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) SaveCallback(ctx context.Context, rec *CallbackRecord) (int64, error) {
	const q = `
	INSERT INTO payment_callbacks (
		gateway,
		kind,
		trade_no,
		payload,
		outcome
	)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id;
	`

	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	var id int64
	err := r.db.QueryRowContext(ctx, q,
		rec.Gateway,
		string(rec.Kind),
		rec.TradeNo,
		[]byte(payload),
		rec.Outcome,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save payment callback: %w", err)
	}

	rec.ID = id
	return id, nil
}

func (r *repository) ListCallbacks(ctx context.Context, tradeNo string) ([]CallbackRecord, error) {
	const q = `
	SELECT id, gateway, kind, trade_no, payload, outcome, created_at
	FROM payment_callbacks
	WHERE trade_no = $1
	ORDER BY id;
	`

	rows, err := r.db.QueryContext(ctx, q, tradeNo)
	if err != nil {
		return nil, fmt.Errorf("list payment callbacks: %w", err)
	}
	defer rows.Close()

	var out []CallbackRecord
	for rows.Next() {
		var (
			rec     CallbackRecord
			kind    string
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Gateway, &kind, &rec.TradeNo, &payload, &rec.Outcome, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Kind = CallbackKind(kind)
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

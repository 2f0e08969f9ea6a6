package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"payjs-be/internal/logger"
	"payjs-be/internal/outbox"
	"payjs-be/internal/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store owns the paylist records. Status only ever moves pending -> paid,
// and only through MarkPaidIfPending.
type Store interface {
	CreatePending(ctx context.Context, gateway string, userID uint, amount decimal.Decimal) (*Order, error)
	MarkPaidIfPending(ctx context.Context, tradeNo string) (*Transition, error)
	FindByTradeNo(ctx context.Context, tradeNo string) (*Order, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Store {
	return &repository{db: db}
}

const orderColumns = `id, userid, total, status, tradeno, gateway, created_at, paid_at`

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	if err := row.Scan(&o.ID, &o.UserID, &o.Total, &o.Status, &o.TradeNo, &o.Gateway, &o.CreatedAt, &o.PaidAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repository) CreatePending(ctx context.Context, gateway string, userID uint, amount decimal.Decimal) (*Order, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}

	tradeNo := utils.GenerateTradeNo()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO paylist (userid, total, status, tradeno, gateway)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+orderColumns,
		userID, amount.StringFixed(2), StatusPending, tradeNo, gateway,
	)

	o, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("create pending order: %w", err)
	}
	return o, nil
}

// MarkPaidIfPending flips a pending order to paid with a conditional UPDATE.
// Concurrent deliveries for the same trade number serialize on the row lock;
// only the one that matched status = pending enqueues the paid event.
func (r *repository) MarkPaidIfPending(ctx context.Context, tradeNo string) (*Transition, error) {
	log := logger.FromCtx(ctx).With(zap.String("trade_no", tradeNo))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE paylist
		SET status = $1, paid_at = now()
		WHERE tradeno = $2 AND status = $3
		RETURNING `+orderColumns,
		StatusPaid, tradeNo, StatusPending,
	)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM paylist WHERE tradeno = $1`, tradeNo))
		if errors.Is(findErr, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		if findErr != nil {
			return nil, fmt.Errorf("failed to load order: %w", findErr)
		}
		log.Info("order already paid")
		return &Transition{AlreadyPaid: true, Order: existing}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	payload, err := json.Marshal(NewPaidEvent(o))
	if err != nil {
		return nil, fmt.Errorf("failed to encode paid event: %w", err)
	}
	if _, err := outbox.InsertTx(ctx, tx, outbox.Event{
		AggregateID: o.TradeNo,
		Type:        EventPaid,
		Payload:     payload,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info("order marked as paid", zap.Uint("user_id", o.UserID), zap.String("total", o.Total.String()))
	return &Transition{AlreadyPaid: false, Order: o}, nil
}

func (r *repository) FindByTradeNo(ctx context.Context, tradeNo string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM paylist WHERE tradeno = $1`, tradeNo))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return o, nil
}

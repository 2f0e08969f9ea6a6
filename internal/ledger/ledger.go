package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"payjs-be/internal/logger"
	"payjs-be/internal/order"
	"payjs-be/internal/outbox"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrUserNotFound = errors.New("user not found")

// Ledger applies purchased credit to a user's balance.
type Ledger interface {
	Credit(ctx context.Context, userID uint, amount decimal.Decimal, memo string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Ledger {
	return &repository{db: db}
}

// Credit adds amount to the user's balance once per memo. A memo seen before
// is a no-op, so redelivered paid events never double-credit.
func (r *repository) Credit(ctx context.Context, userID uint, amount decimal.Decimal, memo string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var entryID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_money_log (user_id, amount, memo)
		VALUES ($1, $2, $3)
		ON CONFLICT (memo) DO NOTHING
		RETURNING id
	`, userID, amount.String(), memo).Scan(&entryID)
	if errors.Is(err, sql.ErrNoRows) {
		logger.FromCtx(ctx).Info("ledger entry already applied", zap.String("memo", memo))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET money = money + $1 WHERE id = $2`,
		amount.String(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.FromCtx(ctx).Info("balance credited",
		zap.Uint("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("memo", memo),
		zap.Int64("entry_id", entryID),
	)
	return nil
}

// Memo is the ledger reference for a paid order, e.g. "PAYJS <tradeno>".
func Memo(ev order.PaidEvent) string {
	return fmt.Sprintf("%s %s", strings.ToUpper(ev.Gateway), ev.TradeNo)
}

// CreditOnPaid subscribes a ledger to order.EventPaid.
func CreditOnPaid(l Ledger) outbox.Handler {
	return func(ctx context.Context, e outbox.Event) error {
		var ev order.PaidEvent
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return fmt.Errorf("decode paid event %d: %w", e.ID, err)
		}
		return l.Credit(ctx, ev.UserID, ev.Amount, Memo(ev))
	}
}

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"payjs-be/internal/order"
	"payjs-be/internal/outbox"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRepository_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewRepository(db)
	ctx := context.Background()
	amount := decimal.RequireFromString("19.99")

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO user_money_log .* ON CONFLICT \(memo\) DO NOTHING`).
			WithArgs(uint(7), "19.99", "PAYJS abc").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec(`UPDATE users SET money = money \+ \$1 WHERE id = \$2`).
			WithArgs("19.99", uint(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, l.Credit(ctx, 7, amount, "PAYJS abc"))
	})

	t.Run("ReplayedMemoIsNoop", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO user_money_log`).
			WithArgs(uint(7), "19.99", "PAYJS abc").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		assert.NoError(t, l.Credit(ctx, 7, amount, "PAYJS abc"))
	})

	t.Run("UnknownUser", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO user_money_log`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectExec(`UPDATE users`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := l.Credit(ctx, 99, amount, "PAYJS def")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("InsertError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO user_money_log`).WillReturnError(errors.New("db error"))
		mock.ExpectRollback()

		assert.ErrorContains(t, l.Credit(ctx, 7, amount, "PAYJS ghi"), "failed to insert ledger entry")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Credit(ctx context.Context, userID uint, amount decimal.Decimal, memo string) error {
	return m.Called(ctx, userID, amount.String(), memo).Error(0)
}

func TestCreditOnPaid(t *testing.T) {
	ctx := context.Background()

	t.Run("CreditsPayload", func(t *testing.T) {
		l := new(MockLedger)
		l.On("Credit", ctx, uint(7), "19.99", "PAYJS abc").Return(nil).Once()

		payload, err := json.Marshal(order.PaidEvent{
			TradeNo: "abc",
			UserID:  7,
			Amount:  decimal.RequireFromString("19.99"),
			Gateway: "payjs",
		})
		require.NoError(t, err)

		err = CreditOnPaid(l)(ctx, outbox.Event{ID: 1, Type: order.EventPaid, Payload: payload})
		assert.NoError(t, err)
		l.AssertExpectations(t)
	})

	t.Run("BadPayload", func(t *testing.T) {
		l := new(MockLedger)

		err := CreditOnPaid(l)(ctx, outbox.Event{ID: 2, Payload: []byte(`{`)})
		assert.ErrorContains(t, err, "decode paid event 2")
		l.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("LedgerError", func(t *testing.T) {
		l := new(MockLedger)
		l.On("Credit", ctx, uint(1), "5", "PAYJS x").Return(errors.New("db down"))

		payload, _ := json.Marshal(order.PaidEvent{TradeNo: "x", UserID: 1, Amount: decimal.NewFromInt(5), Gateway: "payjs"})
		assert.Error(t, CreditOnPaid(l)(ctx, outbox.Event{Payload: payload}))
	})
}

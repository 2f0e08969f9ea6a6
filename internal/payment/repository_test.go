package payment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_SaveCallback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		rec := &CallbackRecord{
			Gateway: "payjs",
			Kind:    CallbackNotify,
			TradeNo: "abc",
			Payload: json.RawMessage(`{"return_code":"1"}`),
			Outcome: AckSuccess,
		}
		mock.ExpectQuery(`INSERT INTO payment_callbacks`).
			WithArgs("payjs", "notify", "abc", []byte(`{"return_code":"1"}`), AckSuccess).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))

		id, err := repo.SaveCallback(ctx, rec)
		assert.NoError(t, err)
		assert.Equal(t, int64(10), id)
		assert.Equal(t, int64(10), rec.ID)
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payment_callbacks`).
			WithArgs("payjs", "return", "abc", []byte(`{}`), "false").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

		_, err := repo.SaveCallback(ctx, &CallbackRecord{Gateway: "payjs", Kind: CallbackReturn, TradeNo: "abc", Outcome: "false"})
		assert.NoError(t, err)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payment_callbacks`).
			WillReturnError(errors.New("db error"))

		_, err := repo.SaveCallback(ctx, &CallbackRecord{Gateway: "payjs"})
		assert.ErrorContains(t, err, "save payment callback")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListCallbacks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "gateway", "kind", "trade_no", "payload", "outcome", "created_at"}).
			AddRow(1, "payjs", "notify", "abc", []byte(`{}`), "SUCCESS", now).
			AddRow(2, "payjs", "notify", "abc", []byte(`{}`), "ERROR", now)
		mock.ExpectQuery(`SELECT .* FROM payment_callbacks WHERE trade_no = \$1`).
			WithArgs("abc").
			WillReturnRows(rows)

		recs, err := repo.ListCallbacks(context.Background(), "abc")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, CallbackNotify, recs[0].Kind)
		assert.Equal(t, "ERROR", recs[1].Outcome)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM payment_callbacks`).
			WillReturnError(errors.New("connection refused"))

		_, err := repo.ListCallbacks(context.Background(), "abc")
		assert.Error(t, err)
	})
}

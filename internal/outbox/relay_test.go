package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) LockBatch(ctx context.Context, batchSize, maxAttempts int, lease time.Duration) ([]Event, error) {
	args := m.Called(ctx, batchSize, maxAttempts, lease)
	events, _ := args.Get(0).([]Event)
	return events, args.Error(1)
}

func (m *MockStore) MarkSent(ctx context.Context, ids []int64) error {
	return m.Called(ctx, ids).Error(0)
}

func (m *MockStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return m.Called(ctx, id, errMsg).Error(0)
}

func TestRelay_Drain(t *testing.T) {
	ctx := context.Background()

	t.Run("DeliversToAllSubscribers", func(t *testing.T) {
		store := new(MockStore)
		relay := NewRelay(store, time.Millisecond, 10, 3)

		var first, second []string
		relay.Subscribe("payment.paid", func(_ context.Context, e Event) error {
			first = append(first, e.AggregateID)
			return nil
		})
		relay.Subscribe("payment.paid", func(_ context.Context, e Event) error {
			second = append(second, e.AggregateID)
			return nil
		})

		store.On("LockBatch", ctx, 10, 3, 30*time.Second).Return([]Event{
			{ID: 1, AggregateID: "t1", Type: "payment.paid"},
			{ID: 2, AggregateID: "t2", Type: "payment.paid"},
		}, nil).Once()
		store.On("MarkSent", ctx, []int64{1, 2}).Return(nil).Once()

		n, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"t1", "t2"}, first)
		assert.Equal(t, []string{"t1", "t2"}, second)
		store.AssertExpectations(t)
	})

	t.Run("FailedHandlerMarksFailed", func(t *testing.T) {
		store := new(MockStore)
		relay := NewRelay(store, time.Millisecond, 10, 3)
		relay.Subscribe("payment.paid", func(_ context.Context, e Event) error {
			if e.ID == 1 {
				return errors.New("ledger down")
			}
			return nil
		})

		store.On("LockBatch", ctx, 10, 3, 30*time.Second).Return([]Event{
			{ID: 1, Type: "payment.paid"},
			{ID: 2, Type: "payment.paid"},
		}, nil).Once()
		store.On("MarkFailed", ctx, int64(1), "ledger down").Return(nil).Once()
		store.On("MarkSent", ctx, []int64{2}).Return(nil).Once()

		n, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		store.AssertExpectations(t)
	})

	t.Run("NoSubscribersIsSent", func(t *testing.T) {
		store := new(MockStore)
		relay := NewRelay(store, time.Millisecond, 10, 3)

		store.On("LockBatch", ctx, 10, 3, 30*time.Second).Return([]Event{{ID: 9, Type: "unknown"}}, nil).Once()
		store.On("MarkSent", ctx, []int64{9}).Return(nil).Once()

		n, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Empty", func(t *testing.T) {
		store := new(MockStore)
		relay := NewRelay(store, time.Millisecond, 10, 3)
		store.On("LockBatch", ctx, 10, 3, 30*time.Second).Return(nil, nil).Once()

		n, err := relay.Drain(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		store.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything)
	})

	t.Run("LockError", func(t *testing.T) {
		store := new(MockStore)
		relay := NewRelay(store, time.Millisecond, 10, 3)
		store.On("LockBatch", ctx, 10, 3, 30*time.Second).Return(nil, errors.New("db down")).Once()

		_, err := relay.Drain(ctx)
		assert.ErrorContains(t, err, "lock batch")
	})
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := new(MockStore)
	store.On("LockBatch", mock.Anything, 50, 10, 30*time.Second).Return(nil, nil)

	relay := NewRelay(store, time.Millisecond, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

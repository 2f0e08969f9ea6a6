// Package ordertest provides an in-memory order.Store for tests.
package ordertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payjs-be/internal/order"
	"payjs-be/internal/utils"

	"github.com/shopspring/decimal"
)

var _ order.Store = (*MemoryStore)(nil)

// MemoryStore is an order.Store kept in process memory. The paid hook runs after
// the transition is visible, once per order.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[string]*order.Order
	onPaid func(ctx context.Context, ev order.PaidEvent)
	now    func() time.Time
}

func NewMemoryStore(onPaid func(ctx context.Context, ev order.PaidEvent)) *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*order.Order),
		onPaid: onPaid,
		now:    time.Now,
	}
}

func (m *MemoryStore) CreatePending(_ context.Context, gateway string, userID uint, amount decimal.Decimal) (*order.Order, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", order.ErrInvalidOrder)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	o := &order.Order{
		ID:        m.nextID,
		UserID:    userID,
		Total:     amount.Round(2),
		Status:    order.StatusPending,
		TradeNo:   utils.GenerateTradeNo(),
		Gateway:   gateway,
		CreatedAt: m.now(),
	}
	m.orders[o.TradeNo] = o

	cp := *o
	return &cp, nil
}

func (m *MemoryStore) MarkPaidIfPending(ctx context.Context, tradeNo string) (*order.Transition, error) {
	m.mu.Lock()
	o, ok := m.orders[tradeNo]
	if !ok {
		m.mu.Unlock()
		return nil, order.ErrOrderNotFound
	}
	if o.Status == order.StatusPaid {
		cp := *o
		m.mu.Unlock()
		return &order.Transition{AlreadyPaid: true, Order: &cp}, nil
	}

	paidAt := m.now()
	o.Status = order.StatusPaid
	o.PaidAt = &paidAt
	cp := *o
	m.mu.Unlock()

	if m.onPaid != nil {
		m.onPaid(ctx, order.NewPaidEvent(&cp))
	}
	return &order.Transition{AlreadyPaid: false, Order: &cp}, nil
}

func (m *MemoryStore) FindByTradeNo(_ context.Context, tradeNo string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[tradeNo]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status follows the gateway-facing encoding: 0 pending, 1 paid.
type Status int

const (
	StatusPending Status = 0
	StatusPaid    Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusPaid:
		return "PAID"
	default:
		return "UNKNOWN"
	}
}

// EventPaid is emitted once per order, when it moves from pending to paid.
const EventPaid = "payment.paid"

type Order struct {
	ID        int64
	UserID    uint
	Total     decimal.Decimal
	Status    Status
	TradeNo   string
	Gateway   string
	CreatedAt time.Time
	PaidAt    *time.Time
}

func (o *Order) IsPaid() bool {
	return o.Status == StatusPaid
}

// MinorUnits is the total in cents, the unit gateways bill in.
func (o *Order) MinorUnits() int64 {
	return ToMinorUnits(o.Total)
}

func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Transition reports the outcome of MarkPaidIfPending.
type Transition struct {
	AlreadyPaid bool
	Order       *Order
}

// PaidEvent is the outbox payload for EventPaid.
type PaidEvent struct {
	TradeNo string          `json:"trade_no"`
	UserID  uint            `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
	Gateway string          `json:"gateway"`
	PaidAt  time.Time       `json:"paid_at"`
}

func NewPaidEvent(o *Order) PaidEvent {
	ev := PaidEvent{
		TradeNo: o.TradeNo,
		UserID:  o.UserID,
		Amount:  o.Total,
		Gateway: o.Gateway,
	}
	if o.PaidAt != nil {
		ev.PaidAt = *o.PaidAt
	}
	return ev
}

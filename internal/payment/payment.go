// internal/payment/payment.go
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrGatewayNotFound = errors.New("payment gateway not found")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// Notification acknowledgements understood by the gateways. Anything other
// than AckSuccess makes the gateway redeliver the notification.
const (
	AckSuccess       = "SUCCESS"
	AckError         = "ERROR"
	AckNotSuccessful = "FAIL1"
	AckBadSignature  = "FAIL2"
)

// ReturnTradeNoParam carries the trade number on the payer's return URL.
// It is ours, not the gateway's, and is never part of a signed set.
const ReturnTradeNoParam = "merchantTradeNo"

// Fields is a flat set of request or callback parameters.
type Fields map[string]string

// Clone returns a copy that can be mutated without touching f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type PurchaseResult struct {
	RedirectURL string
	TradeNo     string
}

type ReturnResult struct {
	Amount  decimal.Decimal
	Success bool
}

type StatusResult struct {
	Found  bool
	Status int
}

// Gateway is one payment backend. Implementations own their wire contract;
// order bookkeeping goes through the order store.
type Gateway interface {
	Name() string
	Purchase(ctx context.Context, ownerID uint, amount decimal.Decimal) (*PurchaseResult, error)
	Query(ctx context.Context, tradeNo string) (*QueryResult, error)
	Refund(ctx context.Context, tradeNo string) ([]byte, error)
	HandleNotify(ctx context.Context, body Fields) string
	HandleReturn(ctx context.Context, tradeNo string, body Fields) (*ReturnResult, error)
	Status(ctx context.Context, tradeNo string) (*StatusResult, error)
}

// QueryResult is a gateway's view of an order.
type QueryResult struct {
	ReturnCode   int    `json:"return_code"`
	ReturnMsg    string `json:"return_msg,omitempty"`
	Status       int    `json:"status"`
	OutTradeNo   string `json:"out_trade_no,omitempty"`
	GatewayNo    string `json:"payjs_order_id,omitempty"`
	TotalFee     int64  `json:"total_fee,omitempty"`
	PaidTime     string `json:"paid_time,omitempty"`
	SignVerified bool   `json:"sign_verified"`
	Raw          []byte `json:"-"`
}

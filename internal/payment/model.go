package payment

import (
	"encoding/json"
	"time"
)

type CallbackKind string

const (
	CallbackNotify CallbackKind = "notify"
	CallbackReturn CallbackKind = "return"
)

// CallbackRecord is one inbound gateway callback as received.
type CallbackRecord struct {
	ID        int64
	Gateway   string
	Kind      CallbackKind
	TradeNo   string
	Payload   json.RawMessage
	Outcome   string
	CreatedAt time.Time
}

package outbox

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type Event struct {
	ID          int64
	AggregateID string
	Type        string
	Payload     []byte
	Status      Status
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
}

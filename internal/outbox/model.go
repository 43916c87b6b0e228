package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// MaxRetries is the number of failed dispatches after which an event stays
// failed instead of going back to pending.
const MaxRetries = 5

type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

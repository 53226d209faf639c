package webhook

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyProcessed means a receipt for this external event id
// exists. The insert that returns it is the idempotency gate: whoever
// inserts the receipt owns the event.
var ErrAlreadyProcessed = errors.New("webhook: event already processed")

// Receipt records that an event was consumed. Inserted inside the same
// transaction as the ledger writes it guards, so a rolled-back event
// can be retried.
type Receipt struct {
	ExternalEventID string    `db:"external_event_id" json:"external_event_id"`
	Type            string    `db:"type" json:"type"`
	ProcessedAt     time.Time `db:"processed_at" json:"processed_at"`
}

type ReceiptRepository interface {
	// Insert returns ErrAlreadyProcessed when the event id is taken.
	Insert(ctx context.Context, r *Receipt) error
	Get(ctx context.Context, externalEventID string) (*Receipt, error)
}

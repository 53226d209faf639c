package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicpay/clinicpay/internal/domain/invoice"
)

// EventType is the closed set of provider event types the engine
// understands. Anything else is acked and ignored so the provider
// stops redelivering.
type EventType string

const (
	TypePaymentSucceeded EventType = "payment_intent.succeeded"
	TypePaymentFailed    EventType = "payment_intent.payment_failed"
	TypeCustomerCreated  EventType = "customer.created"
	TypeMethodAttached   EventType = "payment_method.attached"
	TypeCyclePaid        EventType = "invoice.payment_succeeded"
	TypeCycleFailed      EventType = "invoice.payment_failed"
	TypeUnknown          EventType = ""
)

// ParseEventType maps the wire string to a known type, or TypeUnknown.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case TypePaymentSucceeded, TypePaymentFailed, TypeCustomerCreated,
		TypeMethodAttached, TypeCyclePaid, TypeCycleFailed:
		return EventType(s)
	}
	return TypeUnknown
}

// RequiresInvoice reports whether processing this type needs an
// invoice to write against.
func (t EventType) RequiresInvoice() bool {
	switch t {
	case TypePaymentSucceeded, TypePaymentFailed, TypeCyclePaid, TypeCycleFailed:
		return true
	}
	return false
}

// Kind translates a financial event type into its ledger meaning.
// Non-financial types have no kind.
func (t EventType) Kind() (invoice.EventKind, bool) {
	switch t {
	case TypePaymentSucceeded:
		return invoice.KindPaymentSucceeded, true
	case TypePaymentFailed:
		return invoice.KindPaymentFailed, true
	case TypeCyclePaid:
		return invoice.KindCyclePaid, true
	case TypeCycleFailed:
		return invoice.KindCycleFailed, true
	}
	return "", false
}

// Event is the decoded provider envelope.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`

	// parsedType caches ParseEventType(Type).
	parsedType EventType
}

type EventData struct {
	Object EventObject `json:"object"`
}

// EventObject is the provider-side payment or invoice object. Metadata
// carries our own identifiers, set when the charge was created.
type EventObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *PaymentError     `json:"last_payment_error,omitempty"`
}

type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseEvent decodes a verified body. Only structural problems fail;
// unknown types parse fine and are classified as TypeUnknown.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("webhook: decode event: %w", err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("webhook: event missing id")
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("webhook: event missing type")
	}
	ev.parsedType = ParseEventType(ev.Type)
	return &ev, nil
}

// EventType returns the classified type.
func (e *Event) EventType() EventType {
	return e.parsedType
}

// InvoiceID extracts and validates the invoice reference from
// metadata. Missing or malformed ids make the event unattributable.
func (e *Event) InvoiceID() (uuid.UUID, error) {
	raw, ok := e.Data.Object.Metadata["invoice_id"]
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("webhook: event %s has no invoice_id metadata", e.ID)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("webhook: event %s invoice_id %q: %w", e.ID, raw, err)
	}
	return id, nil
}

// LedgerEvent normalizes the event for the state machine. Valid only
// for financial types.
func (e *Event) LedgerEvent() (invoice.LedgerEvent, error) {
	kind, ok := e.EventType().Kind()
	if !ok {
		return invoice.LedgerEvent{}, fmt.Errorf("webhook: %s is not a ledger event", e.Type)
	}
	// An empty object id would collide every such event on the unique
	// payment index and fake convergence.
	if e.Data.Object.ID == "" {
		return invoice.LedgerEvent{}, fmt.Errorf("webhook: event %s has no payment object id", e.ID)
	}

	le := invoice.LedgerEvent{
		Kind:              kind,
		ExternalPaymentID: e.Data.Object.ID,
		Amount:            e.Data.Object.Amount,
		Currency:          e.Data.Object.Currency,
	}
	if pe := e.Data.Object.LastPaymentError; pe != nil {
		le.FailureReason = pe.Code
		if le.FailureReason == "" {
			le.FailureReason = pe.Message
		}
	}
	return le, nil
}

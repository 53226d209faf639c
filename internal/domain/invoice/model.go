package invoice

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the invoice lifecycle state. Terminal states never change
// again, no matter what the payment provider sends afterwards.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusOpen          Status = "open"
	StatusPaid          Status = "paid"
	StatusPaymentFailed Status = "payment_failed"
	StatusVoid          Status = "void"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusDraft, StatusOpen, StatusPaid, StatusPaymentFailed, StatusVoid:
		return Status(s), nil
	}
	return "", fmt.Errorf("invoice: unknown status %q", s)
}

// IsTerminal reports whether the invoice can still accept ledger
// writes. paid and void are final.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusVoid
}

// Invoice is the billing record for one patient encounter. All amounts
// are minor units (cents) of Currency. amount_due is always
// total_amount - amount_paid; the database enforces the same identity.
type Invoice struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Number        string     `db:"number" json:"number"`
	PatientID     string     `db:"patient_id" json:"patient_id"`
	PatientRef    string     `db:"patient_ref" json:"patient_ref,omitempty"`
	Status        Status     `db:"status" json:"status"`
	Currency      string     `db:"currency" json:"currency"`
	TotalAmount   int64      `db:"total_amount" json:"total_amount"`
	AmountPaid    int64      `db:"amount_paid" json:"amount_paid"`
	CorrelationID *string    `db:"correlation_id" json:"correlation_id,omitempty"`
	DueDate       *time.Time `db:"due_date" json:"due_date,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// AmountDue is what the payer still owes.
func (i *Invoice) AmountDue() int64 {
	return i.TotalAmount - i.AmountPaid
}

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one provider payment attempt against an invoice.
// ExternalPaymentID is the provider's id and is unique per attempt; a
// replayed webhook carries the same id and must not create a second
// row.
type Payment struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	InvoiceID         uuid.UUID     `db:"invoice_id" json:"invoice_id"`
	ExternalPaymentID string        `db:"external_payment_id" json:"external_payment_id"`
	Amount            int64         `db:"amount" json:"amount"`
	Currency          string        `db:"currency" json:"currency"`
	Status            PaymentStatus `db:"status" json:"status"`
	FailureReason     *string       `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
}

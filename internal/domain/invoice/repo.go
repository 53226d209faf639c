package invoice

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("invoice: not found")
	// ErrDuplicatePayment is returned when a payment row with the same
	// external id already exists. The reconciler relies on this to
	// detect replays inside a transaction.
	ErrDuplicatePayment = errors.New("invoice: duplicate external payment id")
	// ErrDuplicateNumber is returned by Create when the invoice number
	// is already taken.
	ErrDuplicateNumber = errors.New("invoice: duplicate number")
)

// Repository is the invoice store. ApplyWrites is the only mutation
// the reconciler performs; Create exists for seeding and admin use.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*Invoice, error)
	// GetForUpdate locks the row for the remainder of the surrounding
	// transaction. Callers must be inside one.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// ApplyWrites moves the invoice to status and adds paidDelta to
	// amount_paid. amount_due is derived, never written directly.
	ApplyWrites(ctx context.Context, id uuid.UUID, status Status, paidDelta int64) error
	List(ctx context.Context, status Status, limit, offset int) ([]*Invoice, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Invoice, int, error)
}

// PaymentRepository stores provider payment attempts.
type PaymentRepository interface {
	// Insert returns ErrDuplicatePayment when the external id is
	// already recorded.
	Insert(ctx context.Context, p *Payment) error
	GetByExternalID(ctx context.Context, externalID string) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}

package invoice

import (
	"context"

	"github.com/google/uuid"
)

// Service is the read side of the ledger. Mutations happen only
// through webhook reconciliation; staff query, they do not edit.
type Service struct {
	repo     Repository
	payments PaymentRepository
}

func NewService(repo Repository, payments PaymentRepository) *Service {
	return &Service{repo: repo, payments: payments}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return s.repo.GetByNumber(ctx, number)
}

// GetByCorrelationID resolves an invoice through the external billing
// system's reference, used by the dunning process.
func (s *Service) GetByCorrelationID(ctx context.Context, correlationID string) (*Invoice, error) {
	return s.repo.GetByCorrelationID(ctx, correlationID)
}

// List returns invoices, optionally filtered to one status. A zero
// status means no filter.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Payments returns the attempt history for an invoice, oldest first.
func (s *Service) Payments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := s.repo.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.payments.ListByInvoice(ctx, invoiceID)
}

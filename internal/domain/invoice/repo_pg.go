package invoice

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicpay/clinicpay/internal/platform/db"
	"github.com/clinicpay/clinicpay/internal/platform/phi"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct {
	pool *pgxpool.Pool
	enc  phi.Encryptor
}

// NewRepoPG creates the invoice repository. enc protects patient_ref
// at rest; pass phi.Passthrough{} when encryption is not configured.
func NewRepoPG(pool *pgxpool.Pool, enc phi.Encryptor) Repository {
	return &repoPG{pool: pool, enc: enc}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invCols = `id, number, patient_id, patient_ref, status, currency,
	total_amount, amount_paid, correlation_id, due_date, created_at, updated_at`

func (r *repoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.PatientID, &inv.PatientRef, &inv.Status, &inv.Currency,
		&inv.TotalAmount, &inv.AmountPaid, &inv.CorrelationID, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if inv.PatientRef != "" {
		plain, err := r.enc.Decrypt(inv.PatientRef)
		if err != nil {
			return nil, fmt.Errorf("invoice %s: decrypt patient_ref: %w", inv.ID, err)
		}
		inv.PatientRef = plain
	}
	return &inv, nil
}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.Status == "" {
		inv.Status = StatusOpen
	}

	ref := inv.PatientRef
	if ref != "" {
		var err error
		ref, err = r.enc.Encrypt(ref)
		if err != nil {
			return fmt.Errorf("invoice create: encrypt patient_ref: %w", err)
		}
	}

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoices (id, number, patient_id, patient_ref, status, currency,
			total_amount, amount_paid, correlation_id, due_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		inv.ID, inv.Number, inv.PatientID, ref, inv.Status, inv.Currency,
		inv.TotalAmount, inv.AmountPaid, inv.CorrelationID, inv.DueDate)
	if db.IsUniqueViolation(err, "invoices_number_key") {
		return ErrDuplicateNumber
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+` FROM invoices WHERE id = $1`, id))
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+` FROM invoices WHERE number = $1`, number))
}

func (r *repoPG) GetByCorrelationID(ctx context.Context, correlationID string) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+` FROM invoices WHERE correlation_id = $1`, correlationID))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) ApplyWrites(ctx context.Context, id uuid.UUID, status Status, paidDelta int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices
		SET status = $2, amount_paid = amount_paid + $3, updated_at = NOW()
		WHERE id = $1`,
		id, status, paidDelta)
	if err != nil {
		return fmt.Errorf("invoice apply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, status Status, limit, offset int) ([]*Invoice, int, error) {
	where, args := "", []any{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		invCols, where, len(args)-1, len(args))
	return r.listQuery(ctx, query, args, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM invoices WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + invCols + ` FROM invoices WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.listQuery(ctx, query, []any{patientID, limit, offset}, total)
}

func (r *repoPG) listQuery(ctx context.Context, query string, args []any, total int) ([]*Invoice, int, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *paymentRepoPG) Insert(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	// DO NOTHING keeps a duplicate external id from aborting the
	// reconciliation transaction mid-flight.
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, invoice_id, external_payment_id, amount, currency, status, failure_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (external_payment_id) DO NOTHING`,
		p.ID, p.InvoiceID, p.ExternalPaymentID, p.Amount, p.Currency, p.Status, p.FailureReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicatePayment
	}
	return nil
}

func (r *paymentRepoPG) GetByExternalID(ctx context.Context, externalID string) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, invoice_id, external_payment_id, amount, currency, status, failure_reason, created_at
		FROM payments WHERE external_payment_id = $1`, externalID)

	var p Payment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.ExternalPaymentID, &p.Amount, &p.Currency, &p.Status, &p.FailureReason, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, external_payment_id, amount, currency, status, failure_reason, created_at
		FROM payments WHERE invoice_id = $1 ORDER BY created_at ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.ExternalPaymentID, &p.Amount, &p.Currency, &p.Status, &p.FailureReason, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

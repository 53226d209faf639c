package webhook

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicpay/clinicpay/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type receiptRepoPG struct{ pool *pgxpool.Pool }

func NewReceiptRepoPG(pool *pgxpool.Pool) ReceiptRepository {
	return &receiptRepoPG{pool: pool}
}

func (r *receiptRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *receiptRepoPG) Insert(ctx context.Context, rec *Receipt) error {
	// DO NOTHING instead of raising 23505: a duplicate delivery must
	// not abort the surrounding transaction, which still has to read
	// the invoice and converge.
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO webhook_events (external_event_id, type)
		VALUES ($1, $2)
		ON CONFLICT (external_event_id) DO NOTHING`,
		rec.ExternalEventID, rec.Type)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func (r *receiptRepoPG) Get(ctx context.Context, externalEventID string) (*Receipt, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT external_event_id, type, processed_at
		FROM webhook_events WHERE external_event_id = $1`, externalEventID)

	var rec Receipt
	err := row.Scan(&rec.ExternalEventID, &rec.Type, &rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

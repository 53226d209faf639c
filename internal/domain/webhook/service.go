package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/clinicpay/clinicpay/internal/domain/invoice"
	"github.com/clinicpay/clinicpay/internal/platform/audit"
	"github.com/clinicpay/clinicpay/internal/platform/db"
)

// Outcome classifies what Process did with an event. Every outcome is
// acked to the provider; only infrastructure failures are not.
type Outcome string

const (
	// OutcomeApplied means ledger writes were committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeConverged means a replay found the ledger already
	// reflecting the event.
	OutcomeConverged Outcome = "converged"
	// OutcomeNoop means the event was valid but required no writes.
	OutcomeNoop Outcome = "noop"
	// OutcomeUnattributed means no invoice could be resolved; nothing
	// was committed so a corrected redelivery can still land.
	OutcomeUnattributed Outcome = "unattributed"
	// OutcomeIgnored means the event type is outside the closed set.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeConflict means the event contradicts the ledger; the
	// receipt was kept, the writes were refused.
	OutcomeConflict Outcome = "conflict"
)

// errUnattributed aborts the transaction so the receipt rolls back
// along with everything else.
var errUnattributed = errors.New("webhook: event unattributable")

// Reconciler turns verified provider events into ledger writes. All
// writes for one event happen in a single transaction; the receipt
// insert inside that transaction is what makes redelivery and
// concurrent duplicates safe.
type Reconciler struct {
	runner   db.Runner
	receipts ReceiptRepository
	invoices invoice.Repository
	payments invoice.PaymentRepository
	audit    *audit.Logger
	logger   zerolog.Logger
}

func NewReconciler(
	runner db.Runner,
	receipts ReceiptRepository,
	invoices invoice.Repository,
	payments invoice.PaymentRepository,
	auditLog *audit.Logger,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		runner:   runner,
		receipts: receipts,
		invoices: invoices,
		payments: payments,
		audit:    auditLog,
		logger:   logger,
	}
}

// Process reconciles one verified event. A nil error means the event
// is settled and must be acked; a non-nil error means nothing was
// committed and the caller decides whether to ack anyway.
func (r *Reconciler) Process(ctx context.Context, ev *Event) (Outcome, error) {
	t := ev.EventType()

	if t == TypeUnknown {
		r.logger.Info().Str("event_id", ev.ID).Str("type", ev.Type).Msg("ignoring unknown event type")
		r.audit.Record(&audit.Entry{
			ActorID:      "webhook",
			Action:       audit.ActionEventIgnored,
			ResourceType: "webhook_event",
			ResourceID:   ev.ID,
			Details:      map[string]string{"type": ev.Type},
		})
		return OutcomeIgnored, nil
	}

	if !t.RequiresInvoice() {
		return r.recordOnly(ctx, ev)
	}
	return r.reconcile(ctx, ev)
}

// recordOnly handles known non-financial events: a receipt and nothing
// else, so a replay is detected but no ledger is touched.
func (r *Reconciler) recordOnly(ctx context.Context, ev *Event) (Outcome, error) {
	outcome := OutcomeApplied
	err := r.runner.RunInTx(ctx, func(ctx context.Context) error {
		err := r.receipts.Insert(ctx, &Receipt{ExternalEventID: ev.ID, Type: ev.Type})
		if errors.Is(err, ErrAlreadyProcessed) {
			outcome = OutcomeNoop
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("webhook: record event %s: %w", ev.ID, err)
	}

	r.logger.Info().Str("event_id", ev.ID).Str("type", ev.Type).Str("outcome", string(outcome)).Msg("event recorded")
	return outcome, nil
}

// reconcile handles financial events end to end.
func (r *Reconciler) reconcile(ctx context.Context, ev *Event) (Outcome, error) {
	le, err := ev.LedgerEvent()
	if err != nil {
		r.unattributed(ev, err.Error())
		return OutcomeUnattributed, nil
	}

	invoiceID, err := ev.InvoiceID()
	if err != nil {
		r.unattributed(ev, err.Error())
		return OutcomeUnattributed, nil
	}

	var (
		outcome Outcome
		reason  string
	)
	txErr := r.runner.RunInTx(ctx, func(ctx context.Context) error {
		// The receipt insert is the mutual exclusion point: of two
		// concurrent deliveries of the same event, exactly one gets
		// past it without ErrAlreadyProcessed.
		insErr := r.receipts.Insert(ctx, &Receipt{ExternalEventID: ev.ID, Type: ev.Type})
		replay := errors.Is(insErr, ErrAlreadyProcessed)
		if insErr != nil && !replay {
			return insErr
		}

		inv, err := r.invoices.GetForUpdate(ctx, invoiceID)
		if errors.Is(err, invoice.ErrNotFound) {
			return errUnattributed
		}
		if err != nil {
			return err
		}

		d := invoice.Decide(inv, le)
		switch d.Action {
		case invoice.ActionReject:
			outcome, reason = OutcomeConflict, d.Reason
			return nil
		case invoice.ActionNoop:
			outcome, reason = OutcomeNoop, d.Reason
			if replay {
				outcome = OutcomeConverged
			}
			return nil
		}

		o, rsn, err := r.apply(ctx, inv, d, replay)
		if err != nil {
			return err
		}
		outcome, reason = o, rsn
		return nil
	})

	switch {
	case errors.Is(txErr, errUnattributed):
		r.unattributed(ev, fmt.Sprintf("invoice %s not found", invoiceID))
		return OutcomeUnattributed, nil
	case txErr != nil:
		return "", fmt.Errorf("webhook: reconcile event %s: %w", ev.ID, txErr)
	}

	r.logger.Info().
		Str("event_id", ev.ID).
		Str("type", ev.Type).
		Str("invoice_id", invoiceID.String()).
		Str("outcome", string(outcome)).
		Msg("event reconciled")

	r.auditOutcome(ev, invoiceID.String(), le, outcome, reason)
	return outcome, nil
}

// apply commits the decision's writes. replay deliveries must never
// add the same money twice: when the payment row already exists it is
// re-read and has to match before the status may be nudged.
func (r *Reconciler) apply(ctx context.Context, inv *invoice.Invoice, d invoice.Decision, replay bool) (Outcome, string, error) {
	if d.Payment != nil {
		p := &invoice.Payment{
			InvoiceID:         inv.ID,
			ExternalPaymentID: d.Payment.ExternalPaymentID,
			Amount:            d.Payment.Amount,
			Currency:          d.Payment.Currency,
			Status:            d.Payment.Status,
		}
		if d.Payment.FailureReason != "" {
			reason := d.Payment.FailureReason
			p.FailureReason = &reason
		}

		err := r.payments.Insert(ctx, p)
		if errors.Is(err, invoice.ErrDuplicatePayment) {
			return r.converge(ctx, inv, d, p)
		}
		if err != nil {
			return "", "", err
		}
	}

	outcome := OutcomeApplied
	if replay {
		outcome = OutcomeConverged
	}
	return outcome, "", r.invoices.ApplyWrites(ctx, inv.ID, d.NewStatus, d.PaidDelta)
}

// converge runs when a row already exists under the event's external
// payment id. The row must describe the same settled money: a failed
// attempt recorded under the same id contradicts a success event, and
// converging on it would move the status without the amount.
func (r *Reconciler) converge(ctx context.Context, inv *invoice.Invoice, d invoice.Decision, p *invoice.Payment) (Outcome, string, error) {
	existing, err := r.payments.GetByExternalID(ctx, p.ExternalPaymentID)
	if err != nil {
		return "", "", err
	}
	if existing.Status != p.Status || existing.Amount != p.Amount {
		reason := fmt.Sprintf("payment %s already recorded as %s amount %d",
			p.ExternalPaymentID, existing.Status, existing.Amount)
		return OutcomeConflict, reason, nil
	}

	if inv.Status != d.NewStatus {
		if err := r.invoices.ApplyWrites(ctx, inv.ID, d.NewStatus, 0); err != nil {
			return "", "", err
		}
	}
	return OutcomeConverged, "", nil
}

func (r *Reconciler) unattributed(ev *Event, reason string) {
	r.logger.Warn().Str("event_id", ev.ID).Str("type", ev.Type).Str("reason", reason).Msg("unattributable event")
	r.audit.Record(&audit.Entry{
		ActorID:      "webhook",
		Action:       audit.ActionEventUnattributed,
		ResourceType: "webhook_event",
		ResourceID:   ev.ID,
		Details:      map[string]string{"type": ev.Type, "reason": reason},
	})
}

func (r *Reconciler) auditOutcome(ev *Event, invoiceID string, le invoice.LedgerEvent, outcome Outcome, reason string) {
	details := map[string]string{
		"event_id": ev.ID,
		"type":     ev.Type,
		"amount":   strconv.FormatInt(le.Amount, 10),
		"outcome":  string(outcome),
	}
	if reason != "" {
		details["reason"] = reason
	}

	action := ""
	switch outcome {
	case OutcomeApplied:
		action = audit.ActionPaymentApplied
		if le.Kind == invoice.KindPaymentFailed || le.Kind == invoice.KindCycleFailed {
			action = audit.ActionPaymentFailed
		}
	case OutcomeConverged, OutcomeNoop:
		action = audit.ActionEventDuplicate
	case OutcomeConflict:
		action = audit.ActionEventConflict
	}
	if action == "" {
		return
	}

	r.audit.Record(&audit.Entry{
		ActorID:      "webhook",
		Action:       action,
		ResourceType: "invoice",
		ResourceID:   invoiceID,
		Details:      details,
	})
}

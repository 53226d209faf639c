package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/clinicpay/clinicpay/internal/domain/invoice"
	"github.com/clinicpay/clinicpay/internal/domain/webhook"
)

func TestReconciler_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx)
	inv := f.seedInvoice(t, ctx, 22900)

	ev := paymentEvent(t, "evt_1", "payment_intent.succeeded", inv.ID, "pi_123", 22900)

	outcome, err := f.reconciler.Process(ctx, ev)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if outcome != webhook.OutcomeApplied {
		t.Errorf("outcome = %s, want applied", outcome)
	}

	// Redeliveries of a consumed event must converge, not error. The
	// receipt row already exists, so the insert inside the open
	// transaction takes the conflict path and the transaction stays
	// usable for the reads that follow.
	for i := 0; i < 4; i++ {
		outcome, err := f.reconciler.Process(ctx, ev)
		if err != nil {
			t.Fatalf("redelivery %d: %v", i+1, err)
		}
		if outcome != webhook.OutcomeConverged && outcome != webhook.OutcomeNoop {
			t.Errorf("redelivery %d outcome = %s, want converged or noop", i+1, outcome)
		}
	}

	got, err := f.invoices.GetByID(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != invoice.StatusPaid || got.AmountPaid != 22900 {
		t.Errorf("invoice = %s/%d, want paid/22900", got.Status, got.AmountPaid)
	}
	if n := countRows(t, ctx, "payments"); n != 1 {
		t.Errorf("payment rows = %d, want 1", n)
	}
	if n := countRows(t, ctx, "webhook_events"); n != 1 {
		t.Errorf("receipt rows = %d, want 1", n)
	}
}

func TestReconciler_ConcurrentDeliverySingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx)
	inv := f.seedInvoice(t, ctx, 5000)

	ev := paymentEvent(t, "evt_c1", "payment_intent.succeeded", inv.ID, "pi_c1", 5000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.reconciler.Process(ctx, ev); err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := f.invoices.GetByID(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AmountPaid != 5000 {
		t.Errorf("amount_paid = %d after concurrent deliveries, want 5000", got.AmountPaid)
	}
	if n := countRows(t, ctx, "payments"); n != 1 {
		t.Errorf("payment rows = %d, want 1", n)
	}
}

func TestReconciler_TwoEventsSamePaymentID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx)
	inv := f.seedInvoice(t, ctx, 5000)

	ev1 := paymentEvent(t, "evt_a", "payment_intent.succeeded", inv.ID, "pi_1", 2000)
	if _, err := f.reconciler.Process(ctx, ev1); err != nil {
		t.Fatal(err)
	}

	ev2 := paymentEvent(t, "evt_b", "payment_intent.succeeded", inv.ID, "pi_1", 2000)
	outcome, err := f.reconciler.Process(ctx, ev2)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != webhook.OutcomeConverged {
		t.Errorf("outcome = %s, want converged", outcome)
	}

	got, err := f.invoices.GetByID(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AmountPaid != 2000 {
		t.Errorf("amount_paid = %d, want 2000", got.AmountPaid)
	}
	if n := countRows(t, ctx, "payments"); n != 1 {
		t.Errorf("payment rows = %d, want 1", n)
	}
}

func TestReconciler_SuccessAfterRecordedFailureIsConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx)
	inv := f.seedInvoice(t, ctx, 5000)

	ev1 := paymentEvent(t, "evt_f", "payment_intent.payment_failed", inv.ID, "pi_1", 5000)
	if _, err := f.reconciler.Process(ctx, ev1); err != nil {
		t.Fatal(err)
	}

	ev2 := paymentEvent(t, "evt_s", "payment_intent.succeeded", inv.ID, "pi_1", 5000)
	outcome, err := f.reconciler.Process(ctx, ev2)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != webhook.OutcomeConflict {
		t.Errorf("outcome = %s, want conflict", outcome)
	}

	got, err := f.invoices.GetByID(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != invoice.StatusPaymentFailed || got.AmountPaid != 0 {
		t.Errorf("invoice = %s/%d, want payment_failed/0", got.Status, got.AmountPaid)
	}

	p, err := f.payments.GetByExternalID(ctx, "pi_1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != invoice.PaymentFailed {
		t.Errorf("payment status = %s, the failed row must stand", p.Status)
	}
}

package invoice

import (
	"testing"
)

func openInvoice(total, paid int64) *Invoice {
	return &Invoice{
		Status:      StatusOpen,
		Currency:    "usd",
		TotalAmount: total,
		AmountPaid:  paid,
	}
}

func succeeded(amount int64) LedgerEvent {
	return LedgerEvent{
		Kind:              KindPaymentSucceeded,
		ExternalPaymentID: "pi_123",
		Amount:            amount,
		Currency:          "usd",
	}
}

func TestDecide_FullPayment(t *testing.T) {
	d := Decide(openInvoice(5000, 0), succeeded(5000))
	if d.Action != ActionApply {
		t.Fatalf("action = %v, want apply (%s)", d.Action, d.Reason)
	}
	if d.NewStatus != StatusPaid {
		t.Errorf("status = %s, want paid", d.NewStatus)
	}
	if d.PaidDelta != 5000 {
		t.Errorf("delta = %d, want 5000", d.PaidDelta)
	}
	if d.Payment == nil || d.Payment.Status != PaymentSucceeded {
		t.Errorf("expected succeeded payment row, got %+v", d.Payment)
	}
}

func TestDecide_PartialPayment(t *testing.T) {
	d := Decide(openInvoice(5000, 0), succeeded(2000))
	if d.Action != ActionApply {
		t.Fatalf("action = %v, want apply", d.Action)
	}
	if d.NewStatus != StatusOpen {
		t.Errorf("status = %s, partial payment should keep the invoice open", d.NewStatus)
	}
	if d.PaidDelta != 2000 {
		t.Errorf("delta = %d, want 2000", d.PaidDelta)
	}
}

func TestDecide_PartialThenRemainder(t *testing.T) {
	// The remainder after an earlier partial payment settles the invoice.
	d := Decide(openInvoice(5000, 2000), succeeded(3000))
	if d.Action != ActionApply || d.NewStatus != StatusPaid {
		t.Errorf("got action=%v status=%s, want apply/paid", d.Action, d.NewStatus)
	}
}

func TestDecide_Overpayment(t *testing.T) {
	d := Decide(openInvoice(5000, 0), succeeded(6000))
	if d.Action != ActionReject {
		t.Errorf("overpayment should reject, got %v", d.Action)
	}
}

func TestDecide_CurrencyMismatch(t *testing.T) {
	ev := succeeded(5000)
	ev.Currency = "eur"
	d := Decide(openInvoice(5000, 0), ev)
	if d.Action != ActionReject {
		t.Errorf("currency mismatch should reject, got %v", d.Action)
	}
}

func TestDecide_NonPositiveAmount(t *testing.T) {
	for _, amount := range []int64{0, -100} {
		d := Decide(openInvoice(5000, 0), succeeded(amount))
		if d.Action != ActionReject {
			t.Errorf("amount %d should reject, got %v", amount, d.Action)
		}
	}
}

func TestDecide_SuccessOnPaidIsNoop(t *testing.T) {
	inv := openInvoice(5000, 5000)
	inv.Status = StatusPaid
	d := Decide(inv, succeeded(5000))
	if d.Action != ActionNoop {
		t.Errorf("duplicate success on paid invoice should be a noop, got %v", d.Action)
	}
}

func TestDecide_FailureOnPaidIsRejected(t *testing.T) {
	inv := openInvoice(5000, 5000)
	inv.Status = StatusPaid

	for _, kind := range []EventKind{KindPaymentFailed, KindCycleFailed} {
		d := Decide(inv, LedgerEvent{Kind: kind, ExternalPaymentID: "pi_x"})
		if d.Action != ActionReject {
			t.Errorf("%s on paid invoice should reject, got %v", kind, d.Action)
		}
	}
}

func TestDecide_VoidRejectsEverything(t *testing.T) {
	inv := openInvoice(5000, 0)
	inv.Status = StatusVoid

	kinds := []EventKind{KindPaymentSucceeded, KindPaymentFailed, KindCyclePaid, KindCycleFailed}
	for _, kind := range kinds {
		d := Decide(inv, LedgerEvent{Kind: kind, Amount: 5000, Currency: "usd"})
		if d.Action != ActionReject {
			t.Errorf("%s on void invoice should reject, got %v", kind, d.Action)
		}
	}
}

func TestDecide_PaymentFailed(t *testing.T) {
	ev := LedgerEvent{
		Kind:              KindPaymentFailed,
		ExternalPaymentID: "pi_456",
		Amount:            5000,
		Currency:          "usd",
		FailureReason:     "card_declined",
	}
	d := Decide(openInvoice(5000, 0), ev)
	if d.Action != ActionApply {
		t.Fatalf("action = %v, want apply", d.Action)
	}
	if d.NewStatus != StatusPaymentFailed {
		t.Errorf("status = %s, want payment_failed", d.NewStatus)
	}
	if d.PaidDelta != 0 {
		t.Errorf("failed payment must not change amount_paid, delta = %d", d.PaidDelta)
	}
	if d.Payment == nil || d.Payment.Status != PaymentFailed || d.Payment.FailureReason != "card_declined" {
		t.Errorf("expected failed payment row with reason, got %+v", d.Payment)
	}
}

func TestDecide_FailedThenRetrySucceeds(t *testing.T) {
	inv := openInvoice(5000, 0)
	inv.Status = StatusPaymentFailed
	d := Decide(inv, succeeded(5000))
	if d.Action != ActionApply || d.NewStatus != StatusPaid {
		t.Errorf("retry after failure: got action=%v status=%s, want apply/paid", d.Action, d.NewStatus)
	}
}

func TestDecide_CyclePaid(t *testing.T) {
	d := Decide(openInvoice(5000, 1500), LedgerEvent{Kind: KindCyclePaid})
	if d.Action != ActionApply || d.NewStatus != StatusPaid {
		t.Fatalf("got action=%v status=%s, want apply/paid", d.Action, d.NewStatus)
	}
	if d.PaidDelta != 3500 {
		t.Errorf("delta = %d, want the remaining 3500", d.PaidDelta)
	}
	if d.Payment != nil {
		t.Error("cycle events must not create payment rows")
	}
}

func TestDecide_CyclePaidOnPaidIsNoop(t *testing.T) {
	inv := openInvoice(5000, 5000)
	inv.Status = StatusPaid
	if d := Decide(inv, LedgerEvent{Kind: KindCyclePaid}); d.Action != ActionNoop {
		t.Errorf("got %v, want noop", d.Action)
	}
}

func TestDecide_CycleFailed(t *testing.T) {
	d := Decide(openInvoice(5000, 0), LedgerEvent{Kind: KindCycleFailed})
	if d.Action != ActionApply || d.NewStatus != StatusPaymentFailed {
		t.Errorf("got action=%v status=%s, want apply/payment_failed", d.Action, d.NewStatus)
	}
	if d.Payment != nil {
		t.Error("cycle events must not create payment rows")
	}

	inv := openInvoice(5000, 0)
	inv.Status = StatusPaymentFailed
	if d := Decide(inv, LedgerEvent{Kind: KindCycleFailed}); d.Action != ActionNoop {
		t.Errorf("repeat cycle failure should be a noop, got %v", d.Action)
	}
}

func TestDecide_DraftBehavesLikeOpen(t *testing.T) {
	inv := openInvoice(5000, 0)
	inv.Status = StatusDraft
	d := Decide(inv, succeeded(5000))
	if d.Action != ActionApply || d.NewStatus != StatusPaid {
		t.Errorf("payment against draft: got action=%v status=%s, want apply/paid", d.Action, d.NewStatus)
	}
}

func TestDecide_UnknownKind(t *testing.T) {
	d := Decide(openInvoice(5000, 0), LedgerEvent{Kind: "mystery"})
	if d.Action != ActionReject {
		t.Errorf("unknown kind should reject, got %v", d.Action)
	}
}

// Applying a decision must preserve amount_paid + amount_due = total.
func TestDecide_ConservationAcrossSequence(t *testing.T) {
	inv := openInvoice(10000, 0)
	amounts := []int64{3000, 3000, 4000}

	for i, amt := range amounts {
		d := Decide(inv, succeeded(amt))
		if d.Action != ActionApply {
			t.Fatalf("step %d: action = %v (%s)", i, d.Action, d.Reason)
		}
		inv.Status = d.NewStatus
		inv.AmountPaid += d.PaidDelta

		if inv.AmountPaid+inv.AmountDue() != inv.TotalAmount {
			t.Fatalf("step %d: conservation violated: paid=%d due=%d total=%d",
				i, inv.AmountPaid, inv.AmountDue(), inv.TotalAmount)
		}
	}

	if inv.Status != StatusPaid || inv.AmountPaid != 10000 {
		t.Errorf("final state = %s/%d, want paid/10000", inv.Status, inv.AmountPaid)
	}
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"draft", "open", "paid", "payment_failed", "void"} {
		if _, err := ParseStatus(valid); err != nil {
			t.Errorf("ParseStatus(%q): %v", valid, err)
		}
	}
	if _, err := ParseStatus("pending"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	if !StatusPaid.IsTerminal() || !StatusVoid.IsTerminal() {
		t.Error("paid and void are terminal")
	}
	if StatusOpen.IsTerminal() || StatusDraft.IsTerminal() || StatusPaymentFailed.IsTerminal() {
		t.Error("open, draft and payment_failed are not terminal")
	}
}

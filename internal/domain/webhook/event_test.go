package webhook

import (
	"testing"

	"github.com/google/uuid"

	"github.com/clinicpay/clinicpay/internal/domain/invoice"
)

func TestParseEvent(t *testing.T) {
	body := `{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_1", "amount": 5000, "currency": "usd",
			"metadata": {"invoice_id": "9e0f7ce1-6f59-4e61-9c05-2a4c1d3e5f6a"}
		}}
	}`
	ev, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.EventType() != TypePaymentSucceeded {
		t.Errorf("type = %s, want payment_intent.succeeded", ev.EventType())
	}
	if ev.Data.Object.Amount != 5000 {
		t.Errorf("amount = %d, want 5000", ev.Data.Object.Amount)
	}

	id, err := ev.InvoiceID()
	if err != nil {
		t.Fatalf("invoice id: %v", err)
	}
	if id != uuid.MustParse("9e0f7ce1-6f59-4e61-9c05-2a4c1d3e5f6a") {
		t.Errorf("invoice id = %s", id)
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type": "payment_intent.succeeded"}`, // no id
		`{"id": "evt_1"}`,                      // no type
	}
	for _, body := range cases {
		if _, err := ParseEvent([]byte(body)); err == nil {
			t.Errorf("expected error for %q", body)
		}
	}
}

func TestParseEvent_UnknownTypeStillParses(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id": "evt_1", "type": "charge.refunded", "data": {"object": {}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.EventType() != TypeUnknown {
		t.Errorf("type = %q, want unknown", ev.EventType())
	}
}

func TestEvent_InvoiceIDErrors(t *testing.T) {
	missing, _ := ParseEvent([]byte(`{"id": "e1", "type": "payment_intent.succeeded", "data": {"object": {"metadata": {}}}}`))
	if _, err := missing.InvoiceID(); err == nil {
		t.Error("expected error for missing invoice_id")
	}

	bad, _ := ParseEvent([]byte(`{"id": "e2", "type": "payment_intent.succeeded", "data": {"object": {"metadata": {"invoice_id": "nope"}}}}`))
	if _, err := bad.InvoiceID(); err == nil {
		t.Error("expected error for malformed invoice_id")
	}
}

func TestEventType_Classification(t *testing.T) {
	financial := map[EventType]invoice.EventKind{
		TypePaymentSucceeded: invoice.KindPaymentSucceeded,
		TypePaymentFailed:    invoice.KindPaymentFailed,
		TypeCyclePaid:        invoice.KindCyclePaid,
		TypeCycleFailed:      invoice.KindCycleFailed,
	}
	for typ, wantKind := range financial {
		if !typ.RequiresInvoice() {
			t.Errorf("%s should require an invoice", typ)
		}
		kind, ok := typ.Kind()
		if !ok || kind != wantKind {
			t.Errorf("%s kind = %s/%v, want %s", typ, kind, ok, wantKind)
		}
	}

	for _, typ := range []EventType{TypeCustomerCreated, TypeMethodAttached} {
		if typ.RequiresInvoice() {
			t.Errorf("%s should not require an invoice", typ)
		}
		if _, ok := typ.Kind(); ok {
			t.Errorf("%s should have no ledger kind", typ)
		}
	}
}

func TestEvent_LedgerEventFailureReason(t *testing.T) {
	body := `{
		"id": "evt_1",
		"type": "payment_intent.payment_failed",
		"data": {"object": {
			"id": "pi_1", "amount": 5000, "currency": "usd",
			"last_payment_error": {"code": "", "message": "Processor unavailable"}
		}}
	}`
	ev, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	le, err := ev.LedgerEvent()
	if err != nil {
		t.Fatal(err)
	}
	if le.FailureReason != "Processor unavailable" {
		t.Errorf("reason = %q, want message fallback when code empty", le.FailureReason)
	}
}

func TestEvent_LedgerEventMissingObjectID(t *testing.T) {
	body := `{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {"amount": 5000, "currency": "usd"}}
	}`
	ev, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ev.LedgerEvent(); err == nil {
		t.Fatal("expected error for financial event without object id")
	}
}

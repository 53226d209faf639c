package invoice

import "fmt"

// EventKind classifies a provider event by what it means for the
// ledger. One-off payments carry an amount and produce a payment row;
// subscription cycle events only assert the resulting invoice state.
type EventKind string

const (
	// One-off payment attempts.
	KindPaymentSucceeded EventKind = "payment_succeeded"
	KindPaymentFailed    EventKind = "payment_failed"

	// Subscription cycle outcomes, no per-attempt amount on the wire.
	KindCyclePaid   EventKind = "cycle_paid"
	KindCycleFailed EventKind = "cycle_failed"
)

// LedgerEvent is the normalized payment fact extracted from a verified
// webhook, stripped of everything transport-specific.
type LedgerEvent struct {
	Kind              EventKind
	ExternalPaymentID string
	Amount            int64 // minor units; meaningful for one-off kinds only
	Currency          string
	FailureReason     string
}

// Action says what the reconciler should do with a decision.
type Action int

const (
	// ActionApply writes the decision's status, delta and payment row.
	ActionApply Action = iota
	// ActionNoop means the invoice already reflects the event.
	ActionNoop
	// ActionReject means the event contradicts the ledger and must not
	// be applied. Reason says why.
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionApply:
		return "apply"
	case ActionNoop:
		return "noop"
	case ActionReject:
		return "reject"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// PaymentWrite is the payment row a decision asks to insert.
type PaymentWrite struct {
	ExternalPaymentID string
	Amount            int64
	Currency          string
	Status            PaymentStatus
	FailureReason     string
}

// Decision is the pure output of Decide. PaidDelta is added to
// amount_paid; amount_due follows from the invariant.
type Decision struct {
	Action    Action
	Reason    string
	NewStatus Status
	PaidDelta int64
	Payment   *PaymentWrite
}

func reject(reason string) Decision {
	return Decision{Action: ActionReject, Reason: reason}
}

func noop(reason string) Decision {
	return Decision{Action: ActionNoop, Reason: reason}
}

// Decide maps (invoice state, event) to a ledger write. It touches no
// storage and no clock, so every transition is testable as a plain
// function.
//
// draft invoices are treated like open ones: the provider can collect
// before the front desk finalizes, and losing that money would be
// worse than recording it early.
func Decide(inv *Invoice, ev LedgerEvent) Decision {
	if inv.Status == StatusVoid {
		return reject("invoice is void")
	}

	switch ev.Kind {
	case KindPaymentSucceeded:
		if inv.Status == StatusPaid {
			// Replay or a second notification for the same charge.
			return noop("invoice already paid")
		}
		if ev.Amount <= 0 {
			return reject("non-positive payment amount")
		}
		if ev.Currency != inv.Currency {
			return reject(fmt.Sprintf("currency mismatch: event %s, invoice %s", ev.Currency, inv.Currency))
		}
		due := inv.AmountDue()
		if ev.Amount > due {
			return reject(fmt.Sprintf("overpayment: %d due, %d received", due, ev.Amount))
		}

		status := StatusOpen
		if ev.Amount == due {
			status = StatusPaid
		}
		return Decision{
			Action:    ActionApply,
			NewStatus: status,
			PaidDelta: ev.Amount,
			Payment: &PaymentWrite{
				ExternalPaymentID: ev.ExternalPaymentID,
				Amount:            ev.Amount,
				Currency:          ev.Currency,
				Status:            PaymentSucceeded,
			},
		}

	case KindPaymentFailed:
		if inv.Status == StatusPaid {
			// A failure arriving after full payment contradicts the
			// ledger; record the attempt nowhere and flag it.
			return reject("failure event for paid invoice")
		}
		return Decision{
			Action:    ActionApply,
			NewStatus: StatusPaymentFailed,
			Payment: &PaymentWrite{
				ExternalPaymentID: ev.ExternalPaymentID,
				Amount:            ev.Amount,
				Currency:          ev.Currency,
				Status:            PaymentFailed,
				FailureReason:     ev.FailureReason,
			},
		}

	case KindCyclePaid:
		if inv.Status == StatusPaid {
			return noop("invoice already paid")
		}
		// The provider asserts the invoice is settled; bring
		// amount_paid up to total without a per-attempt row.
		return Decision{
			Action:    ActionApply,
			NewStatus: StatusPaid,
			PaidDelta: inv.AmountDue(),
		}

	case KindCycleFailed:
		if inv.Status == StatusPaid {
			return reject("failure event for paid invoice")
		}
		if inv.Status == StatusPaymentFailed {
			return noop("invoice already marked failed")
		}
		return Decision{
			Action:    ActionApply,
			NewStatus: StatusPaymentFailed,
		}
	}

	return reject(fmt.Sprintf("unknown event kind %q", ev.Kind))
}

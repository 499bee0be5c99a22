package types

import "time"

// Phase names a protocol state transition. Presentation layers subscribe to
// these instead of scraping log output.
type Phase string

const (
	// client side
	PhaseRequestSent       Phase = "request_sent"
	PhasePaymentRequired   Phase = "payment_required"
	PhaseProofPrepared     Phase = "proof_prepared"
	PhaseRetrySent         Phase = "retry_sent"
	PhaseSucceeded         Phase = "succeeded"
	PhaseFailed            Phase = "failed"
	PhasePurchaseStarted   Phase = "purchase_started"
	PhasePurchaseCompleted Phase = "purchase_completed"

	// server side
	PhaseRequiresPayment Phase = "requires_payment"
	PhaseProofReceived   Phase = "proof_received"
	PhaseSettled         Phase = "settled"
	PhaseRejected        Phase = "rejected"
)

// Event is emitted synchronously by the client and engine state machines
type Event struct {
	Phase      Phase
	Time       time.Time
	ResourceID string
	URL        string
	StatusCode int
	Scheme     string
	Network    string
	Asset      string
	Amount     string
	Payer      string
	Reference  string
	Err        error
}

// Observer receives events. It runs on the caller's goroutine so it must not block.
type Observer func(Event)

// Emit is a nil-safe helper for components holding an optional observer
func (o Observer) Emit(e Event) {
	if o == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	o(e)
}

// Observers fans one event out to several observers
func Observers(list ...Observer) Observer {
	return func(e Event) {
		for _, o := range list {
			o.Emit(e)
		}
	}
}

package models

import "time"

type IntentState string

const (
	IntentInitiated        IntentState = "initiated"
	IntentAwaitingCallback IntentState = "awaiting_callback"
	IntentSettled          IntentState = "settled"
	IntentFailed           IntentState = "failed"
	IntentExpired          IntentState = "expired"
)

// PaymentIntent tracks one initiated gateway payment until settlement or
// expiry. CheckoutRef is the idempotency key: every transition is a
// conditional write keyed on it, so duplicate callbacks and the sweeper
// serialize per intent without cross-intent locking.
type PaymentIntent struct {
	CheckoutRef       string      `json:"checkout_ref"`
	MerchantRequestID string      `json:"merchant_request_id"`
	ContributionID    string      `json:"contribution_id"`
	Amount            int64       `json:"amount"`
	Phone             string      `json:"phone"`
	State             IntentState `json:"state"`
	CreatedAt         time.Time   `json:"created_at"`
	Deadline          time.Time   `json:"deadline"`
}

// Terminal reports whether no further transition may occur.
func (s IntentState) Terminal() bool {
	return s == IntentSettled || s == IntentFailed || s == IntentExpired
}

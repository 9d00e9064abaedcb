package payment

import (
	"errors"
	"time"
)

// Result is the verification state of an intent
type Result string

const (
	Unverified Result = "unverified"
	Verified   Result = "verified"
	Rejected   Result = "rejected"
)

var (
	ErrIntentNotFound   = errors.New("payment intent not found")
	ErrIntentClosed     = errors.New("payment intent is closed")
	ErrSubmitInFlight   = errors.New("a receipt for this intent is already being verified")
	ErrSettleInFlight   = errors.New("a credit for this intent is already being applied")
	ErrInvalidReceipt   = errors.New("receipt image is empty")
	ErrInvalidOperation = errors.New("invalid result transition")
)

// Receipt is the user-uploaded proof of payment
type Receipt struct {
	Data     []byte
	MIMEType string
}

// Intent is one purchase attempt of a pack by a user
type Intent struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Pack      string    `json:"pack"`
	Amount    Amount    `json:"amount"`
	Points    int       `json:"points"`
	Payload   string    `json:"payload"`
	Result    Result    `json:"result"`
	Reason    string    `json:"reason,omitempty"`
	Attempts  int       `json:"attempts"`
	Credited  bool      `json:"credited"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	receipt    *Receipt
	submitting bool
	settling   bool
}

// HasReceipt reports whether a receipt was uploaded
func (i *Intent) HasReceipt() bool {
	return i.receipt != nil
}

// Closed reports whether the intent reached a terminal state
func (i *Intent) Closed() bool {
	return i.Result == Rejected || (i.Result == Verified && i.Credited)
}

// transition moves the result forward. Only unverified -> verified and
// unverified -> rejected are legal.
func (i *Intent) transition(to Result) error {
	if i.Result != Unverified || to == Unverified {
		return ErrInvalidOperation
	}
	i.Result = to
	i.UpdatedAt = time.Now()
	return nil
}

// snapshot returns a copy safe to hand outside the flow lock
func (i *Intent) snapshot() Intent {
	c := *i
	c.submitting = false
	c.settling = false
	return c
}

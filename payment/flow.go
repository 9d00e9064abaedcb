package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/studytutor/failure"
)

// Verdict is the oracle's answer for one receipt. It is advisory: the model can be wrong.
type Verdict struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// Verifier adjudicates a receipt against the expected amount and recipient
type Verifier interface {
	VerifyReceipt(ctx context.Context, receipt Receipt, expected Amount) (Verdict, error)
}

// Crediter applies a points credit to a user's balance
type Crediter interface {
	Credit(ctx context.Context, email string, points int, reason string) (int, error)
}

// Outcome is what a submission produced
type Outcome struct {
	Intent  Intent  `json:"intent"`
	Verdict Verdict `json:"verdict"`
	Balance int     `json:"balance,omitempty"`
}

// Flow runs the pick pack -> pay -> upload receipt -> verify -> credit sequence
type Flow struct {
	recipient Recipient
	catalog   *Catalog
	verifier  Verifier
	ledger    Crediter
	guard     CreditGuard

	mu      sync.Mutex
	intents map[string]*Intent
}

// NewFlow wires a flow. A nil guard defaults to an in-memory one.
func NewFlow(recipient Recipient, catalog *Catalog, verifier Verifier, ledger Crediter, guard CreditGuard) *Flow {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	return &Flow{
		recipient: recipient,
		catalog:   catalog,
		verifier:  verifier,
		ledger:    ledger,
		guard:     guard,
		intents:   make(map[string]*Intent),
	}
}

// Catalog returns the packs on sale
func (f *Flow) Catalog() *Catalog {
	return f.catalog
}

// Begin creates an intent for packID with its payload fixed at selection time
func (f *Flow) Begin(email, packID string) (Intent, error) {
	pack, ok := f.catalog.Pack(packID)
	if !ok {
		return Intent{}, fmt.Errorf("unknown pack %q", packID)
	}

	now := time.Now()
	in := &Intent{
		ID:        uuid.New().String(),
		Email:     email,
		Pack:      pack.ID,
		Amount:    pack.Price,
		Points:    pack.Points,
		Payload:   GeneratePayload(f.recipient, pack.Price),
		Result:    Unverified,
		CreatedAt: now,
		UpdatedAt: now,
	}

	f.mu.Lock()
	f.intents[in.ID] = in
	f.mu.Unlock()

	log.Printf("💳 [%s] Intent created: %s (%d IP for %s)", short(in.ID), pack.ID, pack.Points, pack.Price.Reais())
	return in.snapshot(), nil
}

// Get returns a copy of an intent
func (f *Flow) Get(id string) (Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return Intent{}, ErrIntentNotFound
	}
	return in.snapshot(), nil
}

// Submit attaches a receipt and asks the verifier about it.
//
// An explicit false verdict leaves the intent unverified and returns a
// VerificationRejected failure with the oracle's reason so the user can try
// another image. A failed call returns TransientService. A true verdict
// verifies the intent and credits it once.
func (f *Flow) Submit(ctx context.Context, id string, receipt Receipt) (Outcome, error) {
	if len(receipt.Data) == 0 {
		return Outcome{}, ErrInvalidReceipt
	}

	f.mu.Lock()
	in, ok := f.intents[id]
	if !ok {
		f.mu.Unlock()
		return Outcome{}, ErrIntentNotFound
	}
	switch {
	case in.Result == Rejected:
		f.mu.Unlock()
		return Outcome{}, ErrIntentClosed
	case in.Result == Verified:
		// Verified earlier but the credit may have failed; settle again
		f.mu.Unlock()
		return f.Settle(ctx, id)
	case in.submitting:
		f.mu.Unlock()
		return Outcome{}, ErrSubmitInFlight
	}
	in.submitting = true
	in.receipt = &receipt
	in.Attempts++
	expected := in.Amount
	f.mu.Unlock()

	verdict, err := f.verifier.VerifyReceipt(ctx, receipt, expected)

	f.mu.Lock()
	in.submitting = false
	in.UpdatedAt = time.Now()
	if err != nil {
		snap := in.snapshot()
		f.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{Intent: snap}, fmt.Errorf("verify receipt: %w", ctxErr)
		}
		if failure.KindOf(err) == failure.Authentication {
			return Outcome{Intent: snap}, err
		}
		log.Printf("❌ [%s] Receipt verification failed: %v", short(id), err)
		return Outcome{Intent: snap}, failure.New(failure.TransientService, "payment.verify", err)
	}
	if !verdict.Verified {
		in.Reason = verdict.Reason
		snap := in.snapshot()
		f.mu.Unlock()
		log.Printf("⚠️ [%s] Receipt rejected: %s", short(id), verdict.Reason)
		return Outcome{Intent: snap, Verdict: verdict}, failure.Rejected("payment.verify", verdict.Reason)
	}
	if err := in.transition(Verified); err != nil {
		f.mu.Unlock()
		return Outcome{}, err
	}
	in.Reason = verdict.Reason
	in.settling = true
	f.mu.Unlock()

	log.Printf("✅ [%s] Receipt verified", short(id))
	out, err := f.settle(ctx, in)
	out.Verdict = verdict
	return out, err
}

// Settle credits a verified intent. Repeated calls credit at most once;
// a call made while another credit is in flight returns ErrSettleInFlight.
func (f *Flow) Settle(ctx context.Context, id string) (Outcome, error) {
	f.mu.Lock()
	in, ok := f.intents[id]
	if !ok {
		f.mu.Unlock()
		return Outcome{}, ErrIntentNotFound
	}
	if in.Result != Verified {
		snap := in.snapshot()
		f.mu.Unlock()
		return Outcome{Intent: snap}, fmt.Errorf("settle %s intent: %w", snap.Result, ErrInvalidOperation)
	}
	if in.Credited {
		snap := in.snapshot()
		f.mu.Unlock()
		return Outcome{Intent: snap, Verdict: Verdict{Verified: true, Reason: snap.Reason}}, nil
	}
	if in.settling {
		snap := in.snapshot()
		f.mu.Unlock()
		return Outcome{Intent: snap}, ErrSettleInFlight
	}
	in.settling = true
	f.mu.Unlock()

	return f.settle(ctx, in)
}

// settle applies the credit for an intent whose settling flag the caller set.
// Only a successful ledger credit marks the intent credited.
func (f *Flow) settle(ctx context.Context, in *Intent) (Outcome, error) {
	f.mu.Lock()
	id, email, points := in.ID, in.Email, in.Points
	f.mu.Unlock()

	fail := func(err error) (Outcome, error) {
		f.mu.Lock()
		in.settling = false
		in.UpdatedAt = time.Now()
		snap := in.snapshot()
		f.mu.Unlock()
		return Outcome{Intent: snap}, err
	}

	claimed, err := f.guard.Claim(ctx, id)
	if err != nil {
		return fail(failure.New(failure.TransientService, "payment.settle", err))
	}
	if !claimed {
		log.Printf("⚠️ [%s] Credit claim held elsewhere, not crediting", short(id))
		return fail(failure.New(failure.TransientService, "payment.settle", ErrSettleInFlight))
	}

	balance, err := f.ledger.Credit(ctx, email, points, "pix:"+id)
	if err != nil {
		if relErr := f.guard.Release(context.WithoutCancel(ctx), id); relErr != nil {
			log.Printf("⚠️ [%s] Failed to release credit claim: %v", short(id), relErr)
		}
		return fail(failure.New(failure.TransientService, "payment.credit", err))
	}
	log.Printf("💰 [%s] Credited %d IP to %s (balance %d)", short(id), points, email, balance)

	f.mu.Lock()
	in.settling = false
	in.Credited = true
	in.UpdatedAt = time.Now()
	snap := in.snapshot()
	f.mu.Unlock()

	return Outcome{Intent: snap, Verdict: Verdict{Verified: true, Reason: snap.Reason}, Balance: balance}, nil
}

// Cancel abandons an unverified intent
func (f *Flow) Cancel(id string) (Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	in, ok := f.intents[id]
	if !ok {
		return Intent{}, ErrIntentNotFound
	}
	if in.submitting {
		return in.snapshot(), ErrSubmitInFlight
	}
	if err := in.transition(Rejected); err != nil {
		return in.snapshot(), fmt.Errorf("cancel %s intent: %w", in.Result, err)
	}
	if in.Reason == "" {
		in.Reason = "cancelled by user"
	}
	log.Printf("🛑 [%s] Intent cancelled", short(id))
	return in.snapshot(), nil
}

// Purge drops idle intents not touched within maxAge and returns how many were removed
func (f *Flow) Purge(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	n := 0
	for id, in := range f.intents {
		if in.UpdatedAt.Before(cutoff) && !in.submitting && !in.settling {
			delete(f.intents, id)
			n++
		}
	}
	return n
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// IsRejected reports whether err is an explicit oracle rejection
func IsRejected(err error) bool {
	return errors.Is(err, failure.ErrVerificationRejected)
}

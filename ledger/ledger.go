// Package ledger applies points mutations against the account store.
//
// Every mutation fetches the latest balance from the store, applies the delta
// and writes the result back; balances are never cached between calls.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/room4-2/studytutor/store"
)

var (
	ErrBanned             = errors.New("account is banned")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrUnknownCode        = errors.New("unknown promo code")
	ErrCodeAlreadyUsed    = errors.New("promo code already redeemed")
	ErrInvalidDelta       = errors.New("points delta must be positive")
)

// Policy carries the admin and banned email sets
type Policy struct {
	Admins []string
	Banned []string
}

func contains(list []string, email string) bool {
	for _, e := range list {
		if strings.EqualFold(strings.TrimSpace(e), email) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether email is an administrator
func (p Policy) IsAdmin(email string) bool {
	return contains(p.Admins, email)
}

// IsBanned reports whether email is barred from the service
func (p Policy) IsBanned(email string) bool {
	return contains(p.Banned, email)
}

// Ledger mutates point balances
type Ledger struct {
	accounts    store.AccountStore
	policy      Policy
	promoCodes  map[string]int
	signupBonus int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	redeemedMu sync.Mutex
	redeemed   map[string]struct{}
}

// New creates a ledger. promoCodes maps a code to the points it grants.
func New(accounts store.AccountStore, policy Policy, promoCodes map[string]int, signupBonus int) *Ledger {
	codes := make(map[string]int, len(promoCodes))
	for code, pts := range promoCodes {
		codes[strings.ToUpper(code)] = pts
	}
	return &Ledger{
		accounts:    accounts,
		policy:      policy,
		promoCodes:  codes,
		signupBonus: signupBonus,
		locks:       make(map[string]*sync.Mutex),
		redeemed:    make(map[string]struct{}),
	}
}

// Policy returns the injected policy
func (l *Ledger) Policy() Policy {
	return l.policy
}

func (l *Ledger) lock(email string) func() {
	l.locksMu.Lock()
	m, ok := l.locks[email]
	if !ok {
		m = &sync.Mutex{}
		l.locks[email] = m
	}
	l.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

// mutate runs fetch latest -> fn -> write back for one account
func (l *Ledger) mutate(ctx context.Context, email string, fn func(current int) (int, error)) (int, error) {
	if l.policy.IsBanned(email) {
		return 0, ErrBanned
	}
	unlock := l.lock(email)
	defer unlock()

	acct, err := l.accounts.Get(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	next, err := fn(acct.Points)
	if err != nil {
		return acct.Points, err
	}
	if err := l.accounts.Patch(ctx, email, store.AccountPatch{Points: &next}); err != nil {
		return acct.Points, fmt.Errorf("write balance: %w", err)
	}
	return next, nil
}

// Balance returns the stored balance
func (l *Ledger) Balance(ctx context.Context, email string) (int, error) {
	acct, err := l.accounts.Get(ctx, email)
	if err != nil {
		return 0, err
	}
	return acct.Points, nil
}

// Credit adds points and returns the new balance
func (l *Ledger) Credit(ctx context.Context, email string, points int, reason string) (int, error) {
	if points <= 0 {
		return 0, ErrInvalidDelta
	}
	balance, err := l.mutate(ctx, email, func(cur int) (int, error) {
		return cur + points, nil
	})
	if err != nil {
		return balance, err
	}
	log.Printf("💰 +%d IP for %s (%s), balance %d", points, email, reason, balance)
	return balance, nil
}

// Debit charges cost points. Admins are never charged.
func (l *Ledger) Debit(ctx context.Context, email string, cost int, reason string) (int, error) {
	if cost <= 0 {
		return 0, ErrInvalidDelta
	}
	if l.policy.IsAdmin(email) {
		return l.Balance(ctx, email)
	}
	balance, err := l.mutate(ctx, email, func(cur int) (int, error) {
		if cur < cost {
			return cur, ErrInsufficientPoints
		}
		return cur - cost, nil
	})
	if err != nil {
		return balance, err
	}
	log.Printf("💸 -%d IP for %s (%s), balance %d", cost, email, reason, balance)
	return balance, nil
}

// Refund returns points taken by a Debit whose work failed
func (l *Ledger) Refund(ctx context.Context, email string, cost int, reason string) (int, error) {
	if l.policy.IsAdmin(email) {
		return l.Balance(ctx, email)
	}
	return l.Credit(ctx, email, cost, "refund: "+reason)
}

// Adjust applies an admin delta, clamping the balance at zero
func (l *Ledger) Adjust(ctx context.Context, email string, delta int) (int, error) {
	return l.mutate(ctx, email, func(cur int) (int, error) {
		next := cur + delta
		if next < 0 {
			next = 0
		}
		return next, nil
	})
}

// Redeem credits a promo code once per user
func (l *Ledger) Redeem(ctx context.Context, email, code string) (int, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	points, ok := l.promoCodes[code]
	if !ok {
		return 0, ErrUnknownCode
	}

	key := email + "|" + code
	l.redeemedMu.Lock()
	if _, used := l.redeemed[key]; used {
		l.redeemedMu.Unlock()
		return 0, ErrCodeAlreadyUsed
	}
	l.redeemed[key] = struct{}{}
	l.redeemedMu.Unlock()

	balance, err := l.Credit(ctx, email, points, "code "+code)
	if err != nil {
		l.redeemedMu.Lock()
		delete(l.redeemed, key)
		l.redeemedMu.Unlock()
		return balance, err
	}
	return balance, nil
}

// Signup creates an account with the signup bonus, or returns the existing one
func (l *Ledger) Signup(ctx context.Context, email, name string) (store.Account, error) {
	if l.policy.IsBanned(email) {
		return store.Account{}, ErrBanned
	}
	unlock := l.lock(email)
	defer unlock()

	acct, err := l.accounts.Get(ctx, email)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Account{}, err
	}

	acct = store.Account{Email: email, Name: name, Points: l.signupBonus}
	if err := l.accounts.Upsert(ctx, acct); err != nil {
		return store.Account{}, err
	}
	log.Printf("👤 New account %s with %d IP", email, l.signupBonus)
	return acct, nil
}

// Package store persists accounts and study history.
//
// Postgres is the remote backend, SQLite the local one; Fallback combines
// them and keeps serving from SQLite while Postgres is unreachable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// MaxHistoryPerUser bounds the locally kept history of one user
const MaxHistoryPerUser = 50

var ErrNotFound = errors.New("not found")

// Account is a user and their points balance
type Account struct {
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Points      int       `json:"points"`
	Preferences string    `json:"preferences,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AccountPatch updates only the non-nil fields
type AccountPatch struct {
	Name        *string `json:"name,omitempty"`
	Points      *int    `json:"points,omitempty"`
	Preferences *string `json:"preferences,omitempty"`
}

// HistoryEntry is one analyzed study session
type HistoryEntry struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	Date        time.Time       `json:"date"`
	Topic       string          `json:"topic"`
	Description string          `json:"description"`
	Text        string          `json:"text,omitempty"`
	Files       []string        `json:"files,omitempty"`
	Analysis    json.RawMessage `json:"analysis,omitempty"`
}

// AccountStore is the account/points collaborator
type AccountStore interface {
	GetAll(ctx context.Context) ([]Account, error)
	Get(ctx context.Context, email string) (Account, error)
	Upsert(ctx context.Context, a Account) error
	Patch(ctx context.Context, email string, p AccountPatch) error
	Delete(ctx context.Context, email string) error
}

// HistoryStore is the study history collaborator.
// SaveLatest receives the user's entries newest first and persists the newest one.
type HistoryStore interface {
	GetByUser(ctx context.Context, email string) ([]HistoryEntry, error)
	SaveLatest(ctx context.Context, email string, entries []HistoryEntry) error
}

// Backend is a store that can serve both collaborators
type Backend interface {
	AccountStore
	HistoryStore
	Ping(ctx context.Context) error
	Close() error
}

func applyPatch(a *Account, p AccountPatch) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Points != nil {
		a.Points = *p.Points
	}
	if p.Preferences != nil {
		a.Preferences = *p.Preferences
	}
}

package store

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Fallback serves from the remote backend while it answers and from the local
// SQLite cache otherwise. Every write lands locally; remote writes are best effort.
type Fallback struct {
	remote Backend // nil means local only
	local  *SQLite
	retry  time.Duration

	mu        sync.Mutex
	available bool
	downSince time.Time
}

// NewFallback combines remote and local. A failed remote is retried after retry.
func NewFallback(remote Backend, local *SQLite, retry time.Duration) *Fallback {
	return &Fallback{
		remote:    remote,
		local:     local,
		retry:     retry,
		available: remote != nil,
	}
}

// Probe pings the remote and records the result
func (f *Fallback) Probe(ctx context.Context) bool {
	if f.remote == nil {
		return false
	}
	if err := f.remote.Ping(ctx); err != nil {
		f.markDown(err)
		return false
	}
	f.markUp()
	return true
}

// IsRemoteAvailable reports whether the remote answered the last call
func (f *Fallback) IsRemoteAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote != nil && f.available
}

func (f *Fallback) useRemote() bool {
	if f.remote == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available || time.Since(f.downSince) >= f.retry
}

func (f *Fallback) markDown(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.available {
		log.Printf("⚠️ Remote store unreachable, using local cache: %v", err)
	}
	f.available = false
	f.downSince = time.Now()
}

func (f *Fallback) markUp() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		log.Println("✅ Remote store reachable again")
	}
	f.available = true
}

// remoteFailed classifies a remote error; ErrNotFound is an answer, not an outage
func (f *Fallback) remoteFailed(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		f.markUp()
		return false
	}
	f.markDown(err)
	return true
}

func (f *Fallback) Ping(ctx context.Context) error {
	return f.local.Ping(ctx)
}

func (f *Fallback) Close() error {
	var err error
	if f.remote != nil {
		err = f.remote.Close()
	}
	return errors.Join(err, f.local.Close())
}

func (f *Fallback) GetAll(ctx context.Context) ([]Account, error) {
	if f.useRemote() {
		accounts, err := f.remote.GetAll(ctx)
		if !f.remoteFailed(err) {
			for _, a := range accounts {
				_ = f.local.Upsert(ctx, a)
			}
			return accounts, nil
		}
	}
	return f.local.GetAll(ctx)
}

func (f *Fallback) Get(ctx context.Context, email string) (Account, error) {
	if f.useRemote() {
		a, err := f.remote.Get(ctx, email)
		if !f.remoteFailed(err) {
			if err == nil {
				_ = f.local.Upsert(ctx, a)
			}
			return a, err
		}
	}
	return f.local.Get(ctx, email)
}

func (f *Fallback) Upsert(ctx context.Context, a Account) error {
	if err := f.local.Upsert(ctx, a); err != nil {
		return err
	}
	if f.useRemote() {
		f.remoteFailed(f.remote.Upsert(ctx, a))
	}
	return nil
}

func (f *Fallback) Patch(ctx context.Context, email string, p AccountPatch) error {
	if f.useRemote() {
		err := f.remote.Patch(ctx, email, p)
		if !f.remoteFailed(err) {
			if err != nil {
				return err
			}
			if a, gerr := f.remote.Get(ctx, email); gerr == nil {
				_ = f.local.Upsert(ctx, a)
			}
			return nil
		}
	}
	return f.local.Patch(ctx, email, p)
}

func (f *Fallback) Delete(ctx context.Context, email string) error {
	if err := f.local.Delete(ctx, email); err != nil {
		return err
	}
	if f.useRemote() {
		f.remoteFailed(f.remote.Delete(ctx, email))
	}
	return nil
}

func (f *Fallback) GetByUser(ctx context.Context, email string) ([]HistoryEntry, error) {
	if f.useRemote() {
		entries, err := f.remote.GetByUser(ctx, email)
		if !f.remoteFailed(err) {
			return entries, nil
		}
	}
	return f.local.GetByUser(ctx, email)
}

func (f *Fallback) SaveLatest(ctx context.Context, email string, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	entries = append([]HistoryEntry(nil), entries...)
	if entries[0].ID == "" {
		entries[0].ID = ulid.Make().String()
	}
	if entries[0].Date.IsZero() {
		entries[0].Date = time.Now()
	}

	if err := f.local.SaveLatest(ctx, email, entries); err != nil {
		return err
	}
	if f.useRemote() {
		f.remoteFailed(f.remote.SaveLatest(ctx, email, entries))
	}
	return nil
}

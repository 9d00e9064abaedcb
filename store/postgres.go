package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	email       TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	points      INTEGER NOT NULL DEFAULT 0,
	preferences TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS history (
	id          TEXT PRIMARY KEY,
	email       TEXT NOT NULL,
	date        TIMESTAMPTZ NOT NULL,
	topic       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL DEFAULT '',
	files       JSONB,
	analysis    JSONB
);
CREATE INDEX IF NOT EXISTS idx_history_email_date ON history (email, date DESC);
`

// Postgres is the remote store. The pool connects lazily, so a Postgres value
// can be created while the server is down; the schema is applied on first Ping.
type Postgres struct {
	pool *pgxpool.Pool

	schemaMu sync.Mutex
	migrated bool
}

// NewPostgres creates a pool for dsn without contacting the server
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Ping checks connectivity and applies the schema once
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}

	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()
	if p.migrated {
		return nil
	}
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	p.migrated = true
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) GetAll(ctx context.Context) ([]Account, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT email, name, points, preferences, created_at, updated_at FROM accounts ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Email, &a.Name, &a.Points, &a.Preferences, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, email string) (Account, error) {
	var a Account
	err := p.pool.QueryRow(ctx,
		`SELECT email, name, points, preferences, created_at, updated_at FROM accounts WHERE email = $1`, email).
		Scan(&a.Email, &a.Name, &a.Points, &a.Preferences, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (p *Postgres) Upsert(ctx context.Context, a Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO accounts (email, name, points, preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			points = EXCLUDED.points,
			preferences = EXCLUDED.preferences,
			updated_at = now()`,
		a.Email, a.Name, a.Points, a.Preferences, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// Patch reads the row under FOR UPDATE so concurrent patches of one account serialize
func (p *Postgres) Patch(ctx context.Context, email string, patch AccountPatch) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var a Account
	err = tx.QueryRow(ctx,
		`SELECT email, name, points, preferences, created_at, updated_at FROM accounts WHERE email = $1 FOR UPDATE`, email).
		Scan(&a.Email, &a.Name, &a.Points, &a.Preferences, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("patch account: %w", err)
	}

	applyPatch(&a, patch)
	_, err = tx.Exec(ctx,
		`UPDATE accounts SET name = $1, points = $2, preferences = $3, updated_at = now() WHERE email = $4`,
		a.Name, a.Points, a.Preferences, email)
	if err != nil {
		return fmt.Errorf("patch account: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Delete(ctx context.Context, email string) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM history WHERE email = $1`, email)
	batch.Queue(`DELETE FROM accounts WHERE email = $1`, email)
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func (p *Postgres) GetByUser(ctx context.Context, email string) ([]HistoryEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, email, date, topic, description, text, files, analysis
		FROM history WHERE email = $1 ORDER BY date DESC LIMIT $2`, email, MaxHistoryPerUser)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var files, analysis []byte
		if err := rows.Scan(&e.ID, &e.Email, &e.Date, &e.Topic, &e.Description, &e.Text, &files, &analysis); err != nil {
			return nil, err
		}
		if len(files) > 0 {
			_ = json.Unmarshal(files, &e.Files)
		}
		if len(analysis) > 0 {
			e.Analysis = json.RawMessage(analysis)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveLatest upserts only the newest entry, older ones are already stored
func (p *Postgres) SaveLatest(ctx context.Context, email string, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	e := entries[0]
	if e.ID == "" {
		return fmt.Errorf("save history: entry has no id")
	}
	files, _ := json.Marshal(e.Files)
	var analysis []byte
	if len(e.Analysis) > 0 {
		analysis = e.Analysis
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO history (id, email, date, topic, description, text, files, analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date,
			topic = EXCLUDED.topic,
			description = EXCLUDED.description,
			text = EXCLUDED.text,
			files = EXCLUDED.files,
			analysis = EXCLUDED.analysis`,
		e.ID, email, e.Date, e.Topic, e.Description, e.Text, files, analysis)
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

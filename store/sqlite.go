package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLite is the local store, used alone or as the Fallback cache
type SQLite struct {
	db *sql.DB

	entropyMu sync.Mutex
	entropy   *rand.Rand
}

// NewSQLite opens or creates a SQLite database at the given path
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Single connection so the read-modify-write transactions below never interleave
	db.SetMaxOpenConns(1)

	s := &SQLite{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		email       TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		points      INTEGER NOT NULL DEFAULT 0,
		preferences TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		id          TEXT PRIMARY KEY,
		email       TEXT NOT NULL,
		date        TEXT NOT NULL,
		topic       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		text        TEXT NOT NULL DEFAULT '',
		files       TEXT,
		analysis    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_history_email_date ON history(email, date DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database handle
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Fixed width so lexical order matches time order in ORDER BY
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func (s *SQLite) GetAll(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, name, points, preferences, created_at, updated_at FROM accounts ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (Account, error) {
	var a Account
	var created, updated string
	if err := r.Scan(&a.Email, &a.Name, &a.Points, &a.Preferences, &created, &updated); err != nil {
		return Account{}, err
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

func (s *SQLite) Get(ctx context.Context, email string) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email, name, points, preferences, created_at, updated_at FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *SQLite) Upsert(ctx context.Context, a Account) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (email, name, points, preferences, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			points = excluded.points,
			preferences = excluded.preferences,
			updated_at = excluded.updated_at`,
		a.Email, a.Name, a.Points, a.Preferences, formatTime(a.CreatedAt), formatTime(now))
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *SQLite) Patch(ctx context.Context, email string, p AccountPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT email, name, points, preferences, created_at, updated_at FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("patch account: %w", err)
	}

	applyPatch(&a, p)
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET name = ?, points = ?, preferences = ?, updated_at = ? WHERE email = ?`,
		a.Name, a.Points, a.Preferences, formatTime(time.Now()), email)
	if err != nil {
		return fmt.Errorf("patch account: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, email string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE email = ?`, email); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE email = ?`, email); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (s *SQLite) GetByUser(ctx context.Context, email string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, date, topic, description, text, files, analysis
		FROM history WHERE email = ? ORDER BY date DESC LIMIT ?`, email, MaxHistoryPerUser)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var date string
		var files, analysis sql.NullString
		if err := rows.Scan(&e.ID, &e.Email, &date, &e.Topic, &e.Description, &e.Text, &files, &analysis); err != nil {
			return nil, err
		}
		e.Date = parseTime(date)
		if files.Valid && files.String != "" {
			_ = json.Unmarshal([]byte(files.String), &e.Files)
		}
		if analysis.Valid && analysis.String != "" {
			e.Analysis = json.RawMessage(analysis.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveLatest upserts the newest entry and trims the user's history to MaxHistoryPerUser
func (s *SQLite) SaveLatest(ctx context.Context, email string, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	e := entries[0]
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.Date.IsZero() {
		e.Date = time.Now()
	}
	files, _ := json.Marshal(e.Files)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (id, email, date, topic, description, text, files, analysis)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			topic = excluded.topic,
			description = excluded.description,
			text = excluded.text,
			files = excluded.files,
			analysis = excluded.analysis`,
		e.ID, email, formatTime(e.Date), e.Topic, e.Description, e.Text, string(files), string(e.Analysis))
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM history WHERE email = ? AND id NOT IN (
			SELECT id FROM history WHERE email = ? ORDER BY date DESC LIMIT ?
		)`, email, email, MaxHistoryPerUser)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return tx.Commit()
}

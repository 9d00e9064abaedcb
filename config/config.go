package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/room4-2/studytutor/payment"
)

// Config holds all server configuration
type Config struct {
	Port            int
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	GeminiAPIKey    string
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	MaxBufferSize   int // Maximum buffered microphone bytes per session

	// Models
	LiveModel    string
	ContentModel string
	VoiceName    string
	MicTimeout   time.Duration

	// Storage
	DatabaseURL string // Postgres; empty runs on SQLite only
	SQLitePath  string
	StoreRetry  time.Duration

	// Accounts and points
	AdminEmails  []string
	BannedEmails []string
	SignupBonus  int
	StudyCost    int
	StudyReward  int

	// Payments
	Recipient      payment.Recipient
	ReceiptAliases []string // extra names a receipt may be addressed to
	CatalogPath    string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:            8080,
		RedisURL:        "localhost:6379",
		RedisPassword:   "",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		MaxBufferSize:   5 * 1024 * 1024, // 5MB default
		MicTimeout:      10 * time.Second,
		SQLitePath:      "studytutor.db",
		StoreRetry:      30 * time.Second,
		SignupBonus:     50,
		StudyCost:       1,
		StudyReward:     1,
		Recipient: payment.Recipient{
			Name: "STUDY TUTOR",
			City: "SAO PAULO",
			TxID: "***",
		},
	}

	// Optional: GEMINI_API_KEY. Calls that need it fail with an authentication error.
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: MAX_BUFFER_SIZE (in bytes)
	if bufferSize := os.Getenv("MAX_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_BUFFER_SIZE: %w", err)
		}
		config.MaxBufferSize = b
	}

	// Optional: LIVE_MODEL, CONTENT_MODEL, VOICE_NAME
	config.LiveModel = os.Getenv("LIVE_MODEL")
	config.ContentModel = os.Getenv("CONTENT_MODEL")
	config.VoiceName = os.Getenv("VOICE_NAME")

	// Optional: MIC_TIMEOUT (in seconds)
	if micTimeout := os.Getenv("MIC_TIMEOUT"); micTimeout != "" {
		m, err := strconv.Atoi(micTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid MIC_TIMEOUT: %w", err)
		}
		if m <= 0 {
			return nil, fmt.Errorf("invalid MIC_TIMEOUT: must be positive")
		}
		config.MicTimeout = time.Duration(m) * time.Second
	}

	// Optional: DATABASE_URL (Postgres), SQLITE_PATH
	config.DatabaseURL = os.Getenv("DATABASE_URL")
	if sqlitePath := os.Getenv("SQLITE_PATH"); sqlitePath != "" {
		config.SQLitePath = sqlitePath
	}

	// Optional: STORE_RETRY (in seconds)
	if retry := os.Getenv("STORE_RETRY"); retry != "" {
		r, err := strconv.Atoi(retry)
		if err != nil {
			return nil, fmt.Errorf("invalid STORE_RETRY: %w", err)
		}
		config.StoreRetry = time.Duration(r) * time.Second
	}

	// Optional: ADMIN_EMAILS, BANNED_EMAILS (comma-separated)
	if admins := os.Getenv("ADMIN_EMAILS"); admins != "" {
		config.AdminEmails = splitList(admins)
	}
	if banned := os.Getenv("BANNED_EMAILS"); banned != "" {
		config.BannedEmails = splitList(banned)
	}

	// Optional: SIGNUP_BONUS, STUDY_COST, STUDY_REWARD (points)
	for _, opt := range []struct {
		name string
		dst  *int
	}{
		{"SIGNUP_BONUS", &config.SignupBonus},
		{"STUDY_COST", &config.StudyCost},
		{"STUDY_REWARD", &config.StudyReward},
	} {
		v := os.Getenv(opt.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", opt.name, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", opt.name)
		}
		*opt.dst = n
	}

	// Optional: PIX_KEY, PIX_NAME, PIX_CITY, PIX_TXID
	if key := os.Getenv("PIX_KEY"); key != "" {
		config.Recipient.Key = key
	}
	if name := os.Getenv("PIX_NAME"); name != "" {
		config.Recipient.Name = name
	}
	if city := os.Getenv("PIX_CITY"); city != "" {
		config.Recipient.City = city
	}
	if txid := os.Getenv("PIX_TXID"); txid != "" {
		config.Recipient.TxID = txid
	}

	// Optional: RECEIPT_ALIASES (comma-separated)
	if aliases := os.Getenv("RECEIPT_ALIASES"); aliases != "" {
		config.ReceiptAliases = splitList(aliases)
	}

	// Optional: CATALOG_PATH (YAML packs and promo codes)
	config.CatalogPath = os.Getenv("CATALOG_PATH")

	return config, nil
}

// Recipients lists the names a payment receipt may be addressed to
func (c *Config) Recipients() []string {
	out := make([]string, 0, 2+len(c.ReceiptAliases))
	if c.Recipient.Name != "" {
		out = append(out, c.Recipient.Name)
	}
	if c.Recipient.Key != "" {
		out = append(out, c.Recipient.Key)
	}
	return append(out, c.ReceiptAliases...)
}

// LoadCatalog returns the configured catalog, or the default one
func (c *Config) LoadCatalog() (*payment.Catalog, error) {
	if c.CatalogPath == "" {
		return payment.DefaultCatalog(), nil
	}
	return payment.LoadCatalog(c.CatalogPath)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

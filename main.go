package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/room4-2/studytutor/config"
	"github.com/room4-2/studytutor/gemini"
	"github.com/room4-2/studytutor/ledger"
	"github.com/room4-2/studytutor/metrics"
	"github.com/room4-2/studytutor/payment"
	"github.com/room4-2/studytutor/server"
	"github.com/room4-2/studytutor/session"
	"github.com/room4-2/studytutor/store"
	"github.com/room4-2/studytutor/study"
	"github.com/room4-2/studytutor/tutor"
)

const (
	intentMaxAge   = 24 * time.Hour
	quizMaxAge     = 24 * time.Hour
	creditClaimTTL = 7 * 24 * time.Hour
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	catalog, err := cfg.LoadCatalog()
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accounts, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer accounts.Close()

	if cfg.GeminiAPIKey == "" {
		log.Println("⚠️ GEMINI_API_KEY not set: voice, study and receipt calls will fail until it is configured")
	}
	client := gemini.NewClient(gemini.ClientConfig{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.ContentModel,
		Recipients: cfg.Recipients(),
	})

	m := metrics.NewMetrics("")
	l := ledger.New(accounts, ledger.Policy{Admins: cfg.AdminEmails, Banned: cfg.BannedEmails},
		catalog.PromoCodes, cfg.SignupBonus)

	// Create session manager
	sessionManager := session.NewManager(cfg, session.Options{
		Dialer:        tutor.LiveDialer{APIKey: cfg.GeminiAPIKey, Model: cfg.LiveModel, Voice: cfg.VoiceName},
		Chatter:       tutor.GeminiChatter{Client: client},
		HasCredential: client.HasCredential,
		Metrics:       m,
	})

	var guard payment.CreditGuard = payment.NewMemoryGuard()
	if rdb := sessionManager.Redis(); rdb != nil {
		guard = payment.NewRedisGuard(rdb, creditClaimTTL)
	}
	flow := payment.NewFlow(cfg.Recipient, catalog, client, l, guard)

	studies := study.NewService(client, l, accounts, cfg.StudyCost, cfg.StudyReward)
	api := &server.API{
		Ledger:   l,
		Accounts: accounts,
		Study:    studies,
		Payments: flow,
		Metrics:  m,
	}

	srv := server.NewServer(cfg, sessionManager, api, m)
	srv.SetStoreStatus(accounts.IsRemoteAvailable)

	// Start background routines
	go sessionManager.StartCleanupRoutine(ctx)
	go purgeStale(ctx, flow, studies)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("\nReceived shutdown signal...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

// openStore opens the SQLite cache and, when configured, Postgres in front of it
func openStore(ctx context.Context, cfg *config.Config) (*store.Fallback, error) {
	local, err := store.NewSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	var remote store.Backend
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("⚠️ Postgres unavailable, serving from %s: %v", cfg.SQLitePath, err)
		} else {
			remote = pg
		}
	}

	f := store.NewFallback(remote, local, cfg.StoreRetry)
	if remote != nil && f.Probe(ctx) {
		log.Println("🗄️ Using Postgres with local SQLite cache")
	} else {
		log.Printf("🗄️ Using local SQLite store at %s", cfg.SQLitePath)
	}
	return f, nil
}

// purgeStale drops abandoned payment intents and unfinished quizzes every hour
func purgeStale(ctx context.Context, flow *payment.Flow, studies *study.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := flow.Purge(intentMaxAge); n > 0 {
				log.Printf("🧹 Purged %d stale payment intents", n)
			}
			if n := studies.Purge(quizMaxAge); n > 0 {
				log.Printf("🧹 Purged %d stale quizzes", n)
			}
		}
	}
}

package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/studytutor/config"
	"github.com/room4-2/studytutor/messages"
	"github.com/room4-2/studytutor/metrics"
	"github.com/room4-2/studytutor/session"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	metrics        *metrics.Metrics
	storeStatus    func() bool
}

// NewServer serves the tutor websocket, the REST API, health and metrics.
// api may be nil to serve only the tutor.
func NewServer(cfg *config.Config, sessionManager *session.Manager, api *API, m *metrics.Metrics) *Server {
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		metrics:        m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024, // 64KB for audio chunks
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/tutor", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	if api != nil {
		api.Register(mux)
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
		// study generation and receipt checks wait on the model
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	return s
}

// SetStoreStatus reports remote store availability on /health
func (s *Server) SetStoreStatus(remoteAvailable func() bool) {
	s.storeStatus = remoteAvailable
}

// Handler exposes the routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Printf("🚀 Server starting on port %d", s.config.Port)
	log.Printf("📡 Tutor endpoint: ws://localhost:%d/ws/tutor", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lesson, err := session.LessonFrom(q.Get("topic"), q.Get("context"), q.Get("language"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Create session
	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn, lesson)
	if err != nil {
		log.Printf("Failed to create session: %v", err)
		// Send error and close
		if data, encErr := messages.Encode(messages.NewErrorMessage("", messages.ErrCodeSessionFailed, err.Error())); encErr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.Close()
		return
	}

	log.Printf("✅ New session created: %s (%s)", clientSession.ID, lesson.Topic)

	// Start session (handles messages in goroutines)
	clientSession.Start()

	// Wait for session to close
	<-clientSession.CloseChan

	// Clean up
	_ = s.sessionManager.RemoveSession(context.Background(), clientSession.ID)
	log.Printf("🔌 Session closed: %s", clientSession.ID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	remote := "unknown"
	if s.storeStatus != nil {
		remote = "local"
		if s.storeStatus() {
			remote = "remote"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessionManager.GetActiveSessionCount(),
		"store":    remote,
	})
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/room4-2/studytutor/config"
	"github.com/room4-2/studytutor/study"
	"github.com/room4-2/studytutor/tutor"
)

var ErrTooManySessions = errors.New("maximum sessions reached")

// LessonFrom builds a lesson from client supplied fields
func LessonFrom(topic, lessonContext, language string) (tutor.LessonConfig, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return tutor.LessonConfig{}, fmt.Errorf("lesson topic is required")
	}
	return tutor.LessonConfig{
		Topic:    topic,
		Context:  strings.TrimSpace(lessonContext),
		Language: study.ParseLanguage(language),
	}, nil
}

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	opts     Options
}

// NewManager creates a session manager. Sessions are mirrored to Redis when
// it is reachable; the manager runs without it otherwise.
func NewManager(cfg *config.Config, opts Options) *Manager {
	if opts.MaxBufferSize == 0 {
		opts.MaxBufferSize = cfg.MaxBufferSize
	}
	if opts.MicTimeout == 0 {
		opts.MicTimeout = cfg.MicTimeout
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = cfg.KeepAlivePeriod
	}

	sm := &Manager{
		sessions: make(map[string]*ClientSession),
		config:   cfg,
	}

	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("⚠️ Redis unavailable, sessions are not mirrored: %v", err)
			redisClient.Close()
		} else {
			sm.redis = redisClient
		}
	}

	onState := opts.OnState
	opts.OnState = func(id string, change tutor.StateChange) {
		sm.mirrorState(id, change.To)
		if onState != nil {
			onState(id, change)
		}
	}
	sm.opts = opts
	return sm
}

// Redis returns the mirror client, nil when Redis is unavailable
func (sm *Manager) Redis() *redis.Client {
	return sm.redis
}

// CreateSession creates a new client session
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn, lesson tutor.LessonConfig) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, ErrTooManySessions
	}

	sessionID := uuid.New().String()
	session := NewClientSession(sessionID, clientConn, lesson, sm.opts)

	sm.storeSession(ctx, sessionID, session)
	sm.opts.Metrics.TutorConnected()
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		sm.redis.HSet(ctx, "session:"+sessionID, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity.Format(time.RFC3339),
			"status":        "active",
			"state":         string(tutor.StatePre),
			"topic":         session.Lesson().Topic,
		})
		sm.redis.SAdd(ctx, "active_sessions", sessionID)
		sm.redis.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
	}
}

func (sm *Manager) mirrorState(sessionID string, state tutor.State) {
	if sm.redis == nil || state == tutor.StateClosed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sm.redis.HSet(ctx, "session:"+sessionID, map[string]interface{}{
		"state":         string(state),
		"last_activity": time.Now().Format(time.RFC3339),
	})
	sm.redis.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	sm.dropLocked(ctx, sessionID, session)
	return nil
}

// dropLocked must be called with mu held
func (sm *Manager) dropLocked(ctx context.Context, sessionID string, session *ClientSession) {
	session.Close()
	delete(sm.sessions, sessionID)
	sm.opts.Metrics.TutorDisconnected()

	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, "active_sessions", sessionID)
	}
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		if session.Idle() > sm.config.SessionTimeout {
			log.Printf("🧹 [%s] Closing inactive session", session.short())
			sm.dropLocked(ctx, id, session)
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for id, session := range sm.sessions {
		sm.dropLocked(ctx, id, session)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}

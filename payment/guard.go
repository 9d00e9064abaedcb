package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CreditGuard records which intents already produced a ledger credit.
// Claim returns true only for the first caller of a given intent id.
type CreditGuard interface {
	Claim(ctx context.Context, intentID string) (bool, error)
	Release(ctx context.Context, intentID string) error
}

// MemoryGuard is a process-local CreditGuard
type MemoryGuard struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claimed: make(map[string]struct{})}
}

func (g *MemoryGuard) Claim(_ context.Context, intentID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.claimed[intentID]; ok {
		return false, nil
	}
	g.claimed[intentID] = struct{}{}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, intentID)
	return nil
}

// RedisGuard shares credit claims across server instances with SETNX
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard claims keys under "payment:credited:<id>" for ttl
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) key(intentID string) string {
	return "payment:credited:" + intentID
}

func (g *RedisGuard) Claim(ctx context.Context, intentID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(intentID), time.Now().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim credit: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, intentID string) error {
	if err := g.client.Del(ctx, g.key(intentID)).Err(); err != nil {
		return fmt.Errorf("release credit: %w", err)
	}
	return nil
}

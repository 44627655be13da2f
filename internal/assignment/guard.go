package assignment

import (
	"context"
	"time"

	"crm-platform/pkg/logger"
	"crm-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Guard admits at most one fetch per agent at a time before any
// transaction opens. It is an early, cheap rejection; the agent-day row
// lock in the store remains the correctness mechanism.
type Guard interface {
	Do(ctx context.Context, agentID string, fn func(ctx context.Context) error) error
}

type noGuard struct{}

func (noGuard) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// RedisGuard implements Guard with a redis concurrency cap of one per agent.
// If redis is unreachable the fetch proceeds unguarded.
type RedisGuard struct {
	rdb redis.Scripter
	ttl time.Duration
}

func NewRedisGuard(rdb redis.Scripter, ttl time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) Do(ctx context.Context, agentID string, fn func(ctx context.Context) error) error {
	key := "leads:fetch:" + agentID
	ok, err := utils.AcquireConcurrencyCap(ctx, g.rdb, key, 1, g.ttl)
	if err != nil {
		logger.From(ctx).Warn("fetch guard unavailable", "agent_id", agentID, "err", err)
		return fn(ctx)
	}
	if !ok {
		return ErrFetchInProgress
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := utils.ReleaseConcurrencyCap(relCtx, g.rdb, key); err != nil {
			logger.From(ctx).Warn("fetch guard release failed", "agent_id", agentID, "err", err)
		}
	}()
	return fn(ctx)
}

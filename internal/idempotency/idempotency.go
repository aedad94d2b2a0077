// Package idempotency keeps short-lived redis markers that stop the same
// request or event from being worked on twice at the same time. The
// database constraints stay the final word; these markers only spare it the
// contention.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
	"github.com/nimasrn/loyalty-engine/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("already processed")
	ErrLockHeld           = errors.New("lock is held by another worker")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

type Config struct {
	LockTTL            time.Duration
	ProcessedTTL       time.Duration
	MaxRetries         int
	LockKeyPrefix      string
	ProcessedKeyPrefix string
	RetryKeyPrefix     string
}

func DefaultConfig() Config {
	return Config{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         3,
		LockKeyPrefix:      "idem:lock:",
		ProcessedKeyPrefix: "idem:done:",
		RetryKeyPrefix:     "idem:retry:",
	}
}

type Guard struct {
	redis  redis.RedisAdapter
	config Config
}

func NewGuard(adapter redis.RedisAdapter, config Config) *Guard {
	return &Guard{
		redis:  adapter,
		config: config,
	}
}

// Acquire takes the in-flight lock for key. The returned release only
// deletes the lock if it still carries this holder's token, so a lock that
// expired and was taken over is left alone.
func (g *Guard) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := g.config.LockKeyPrefix + key
	token := uuid.NewString()

	acquired, err := g.redis.SetNX(lockKey, []byte(token), g.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	return func() {
		if _, err := g.redis.DelIfEqual(lockKey, []byte(token)); err != nil {
			logger.Warn("failed to release idempotency lock", "key", key, "error", err)
		}
	}, nil
}

// Attempt tracks one try at handling an event.
type Attempt struct {
	ID         string
	RetryCount int
	release    func()
}

func (a *Attempt) IsRetry() bool {
	return a.RetryCount > 0
}

// Begin starts handling the event id unless it was already handled, ran out
// of retries or is being handled elsewhere.
func (g *Guard) Begin(ctx context.Context, id string) (*Attempt, error) {
	done, err := g.IsProcessed(ctx, id)
	if err != nil {
		// a duplicate run is cheaper than a stuck event; the handler is idempotent
		logger.Warn("failed to check processed marker", "id", id, "error", err)
	} else if done {
		return nil, ErrAlreadyProcessed
	}

	retries, err := g.RetryCount(ctx, id)
	if err != nil {
		logger.Warn("failed to read retry counter", "id", id, "error", err)
	}
	if retries >= g.config.MaxRetries {
		return nil, fmt.Errorf("%w: id=%s retries=%d", ErrMaxRetriesExceeded, id, retries)
	}

	release, err := g.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Attempt{ID: id, RetryCount: retries, release: release}, nil
}

func (g *Guard) MarkSuccess(ctx context.Context, a *Attempt) error {
	defer a.release()
	if err := g.redis.Set(g.config.ProcessedKeyPrefix+a.ID, []byte("1"), g.config.ProcessedTTL); err != nil {
		return fmt.Errorf("mark %s processed: %w", a.ID, err)
	}
	if err := g.redis.Del(g.config.RetryKeyPrefix + a.ID); err != nil {
		logger.Warn("failed to clear retry counter", "id", a.ID, "error", err)
	}
	return nil
}

func (g *Guard) MarkFailure(ctx context.Context, a *Attempt, reason error) {
	defer a.release()
	next := a.RetryCount + 1
	if err := g.redis.Set(g.config.RetryKeyPrefix+a.ID, []byte(strconv.Itoa(next)), g.config.ProcessedTTL); err != nil {
		logger.Error("failed to bump retry counter", "id", a.ID, "error", err)
	}
	logger.Warn("attempt failed", "id", a.ID, "retry_count", next, "max_retries", g.config.MaxRetries, "reason", reason)
}

func (g *Guard) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := g.redis.Exist(g.config.ProcessedKeyPrefix + id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *Guard) RetryCount(ctx context.Context, id string) (int, error) {
	raw, err := g.redis.Get(g.config.RetryKeyPrefix + id)
	if errors.Is(err, redis.NilError) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("corrupt retry counter for %s: %w", id, err)
	}
	return n, nil
}

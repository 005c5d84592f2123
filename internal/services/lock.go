package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const turnLockPrefix = "dungeon:lock:"

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock taken over by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TurnLock is a Redis mutex that keeps two API replicas from running turns
// for the same session at once.
type TurnLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewTurnLock creates a lock. ttl bounds how long a crashed holder can block
// a session and should exceed the longest expected turn.
func NewTurnLock(client *redis.Client, ttl time.Duration, logger *slog.Logger) *TurnLock {
	return &TurnLock{client: client, ttl: ttl, logger: logger}
}

// TryLock attempts to take the lock without waiting.
func (l *TurnLock) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	lockKey := turnLockPrefix + key
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		l.logger.Debug("Turn lock held elsewhere", "key", key)
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if n == 0 {
			l.logger.Warn("Turn lock expired before release", "key", key)
		}
		return nil
	}
	return unlock, true, nil
}

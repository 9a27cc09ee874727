package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLock guards a notification pass across processes.
type RunLock interface {
	// TryAcquire returns acquired=false without blocking when another holder
	// owns the lock. release must be called once the pass finishes.
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}

// Deletes the key only if it still holds our token, so a lock that expired and
// was taken over by another replica is left alone.
var releaseRunLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLock implements RunLock with SET NX PX on a single key.
type RedisRunLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisRunLock creates a lock stored under "<prefix>:notification_pass".
// ttl bounds how long a crashed holder can block other replicas.
func NewRedisRunLock(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRunLock {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "renewal:run_lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl < time.Second {
		ttl = time.Second
	}

	return &RedisRunLock{
		client: client,
		key:    trimmedPrefix + ":notification_pass",
		ttl:    ttl,
	}
}

func (l *RedisRunLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The pass context may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseRunLockScript.Run(releaseCtx, l.client, []string{l.key}, token).Err()
	}
	return release, true, nil
}

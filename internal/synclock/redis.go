package synclock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vitalsync:sync_lock:"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared across processes (SET NX PX)
type Redis struct {
	client redis.UniversalClient
}

// NewRedis creates a Redis backed locker
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

var _ Locker = (*Redis)(nil)

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("synclock: setnx: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLease{client: r.client, key: keyPrefix + key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("synclock: release: %w", err)
	}
	return nil
}

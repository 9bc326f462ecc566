package statestore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vitalsync:oauth_state:"

// Redis is a Store shared by every API instance. GETDEL makes the take
// atomic so a state can only ever be redeemed once.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis creates a Redis backed store
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

var _ Store = (*Redis)(nil)

func (r *Redis) Put(ctx context.Context, id string, e Entry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("statestore: encode entry: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+id, data, ttl).Err(); err != nil {
		return fmt.Errorf("statestore: set: %w", err)
	}
	return nil
}

func (r *Redis) Take(ctx context.Context, id string) (*Entry, error) {
	data, err := r.client.GetDel(ctx, keyPrefix+id).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: getdel: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("statestore: decode entry: %w", err)
	}
	return &e, nil
}

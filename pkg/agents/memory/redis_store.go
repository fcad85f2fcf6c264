package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scottdavis/mathagent/pkg/errors"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "mathagent:turns:"

// RedisTurnStore implements TurnStore with one Redis list per session.
type RedisTurnStore struct {
	client *redis.Client
	prefix string
}

var _ TurnStore = (*RedisTurnStore)(nil)

// NewRedisTurnStore creates a new Redis-backed turn store.
func NewRedisTurnStore(addr, password string, db int) (*RedisTurnStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to connect to Redis"),
			errors.Fields{"addr": addr},
		)
	}

	return NewRedisTurnStoreFromClient(client, DefaultRedisPrefix), nil
}

// NewRedisTurnStoreFromClient wraps an existing client.
func NewRedisTurnStoreFromClient(client *redis.Client, prefix string) *RedisTurnStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisTurnStore{client: client, prefix: prefix}
}

func (r *RedisTurnStore) key(sessionID string) string {
	return r.prefix + sessionID
}

// Append implements TurnStore.
func (r *RedisTurnStore) Append(ctx context.Context, sessionID string, turn Turn, window int, opts ...StoreOption) error {
	options := &StoreOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if turn.Time.IsZero() {
		turn.Time = time.Now()
	}
	valueBytes, err := json.Marshal(turn)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to marshal turn to JSON"),
			errors.Fields{"session_id": sessionID},
		)
	}

	key := r.key(sessionID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, valueBytes)
		if window > 0 {
			pipe.LTrim(ctx, key, int64(-window), -1)
		}
		if options.TTL > 0 {
			pipe.Expire(ctx, key, options.TTL)
		} else {
			// RPUSH keeps an earlier expiry; drop it like the other stores do.
			pipe.Persist(ctx, key)
		}
		return nil
	})
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to push turn to Redis"),
			errors.Fields{"session_id": sessionID, "ttl": options.TTL},
		)
	}
	return nil
}

// Load implements TurnStore.
func (r *RedisTurnStore) Load(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	values, err := r.client.LRange(ctx, r.key(sessionID), start, -1).Result()
	if err == redis.Nil {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to get turns from Redis"),
			errors.Fields{"session_id": sessionID},
		)
	}

	turns := make([]Turn, 0, len(values))
	for i, raw := range values {
		var turn Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.InvalidResponse, "failed to unmarshal turn from JSON"),
				errors.Fields{"session_id": sessionID, "index": i},
			)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Clear implements TurnStore.
func (r *RedisTurnStore) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to clear session in Redis"),
			errors.Fields{"session_id": sessionID},
		)
	}
	return nil
}

// CleanExpired is a no-op because Redis expires keys itself.
func (r *RedisTurnStore) CleanExpired(context.Context) (int64, error) {
	return 0, nil
}

// Close closes the client.
func (r *RedisTurnStore) Close() error {
	return r.client.Close()
}

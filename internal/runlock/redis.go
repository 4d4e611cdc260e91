package runlock

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default Redis lock settings.
const (
	DefaultLockTTL      = 5 * time.Minute
	DefaultPollInterval = 200 * time.Millisecond
	defaultKeyPrefix    = "cfs:runlock:"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared across processes.
// Each lock is a key set with NX and a TTL, so a crashed holder cannot block forever.
type Redis struct {
	client       *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
	prefix       string
	logger       *log.Logger
}

// RedisOptions configures a Redis locker.
type RedisOptions struct {
	TTL          time.Duration
	PollInterval time.Duration
	KeyPrefix    string
	Logger       *log.Logger
}

// NewRedis creates a Redis locker on an existing client.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	r := &Redis{
		client:       client,
		ttl:          opts.TTL,
		pollInterval: opts.PollInterval,
		prefix:       opts.KeyPrefix,
		logger:       opts.Logger,
	}
	if r.ttl <= 0 {
		r.ttl = DefaultLockTTL
	}
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.prefix == "" {
		r.prefix = defaultKeyPrefix
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	return r
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

var _ Locker = (*Redis)(nil)

// Acquire polls SET NX until the lock is taken or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// Release must work even if the caller's context was cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		n, err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Int()
		if err != nil {
			r.logger.Printf("release lock %s: %v", key, err)
			return
		}
		if n == 0 {
			r.logger.Printf("release lock %s: %v (expired after %v)", key, ErrNotHeld, r.ttl)
		}
	}, nil
}

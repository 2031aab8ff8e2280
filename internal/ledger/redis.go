package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig for a Redis-backed Store. Defaults can be loaded via
// envdecode.
type RedisConfig struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all ledger keys. ENV: LEDGER_KEY_PREFIX
	KeyPrefix string `env:"LEDGER_KEY_PREFIX,default=llm:ledger:"`
}

// RedisStore is a Redis-backed Store. Balance rows are hashes; the audit
// trail is an append-only list per identity. Both the create-on-first-sight
// and the conditional decrement run as Lua scripts, so they are atomic even
// across server instances.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// peekScript creates the entry with the initial allowance if it does not
// exist, then returns the remaining balance.
var peekScript = redis.NewScript(`
local remaining = redis.call('HGET', KEYS[1], 'remaining')
if remaining == false then
  redis.call('HSET', KEYS[1], 'remaining', ARGV[1], 'last_updated', ARGV[2])
  return tonumber(ARGV[1])
end
return tonumber(remaining)
`)

// debitScript decrements the balance by cost only while it is positive,
// clamping at zero, and appends the audit record in the same atomic step.
// Returns -1 when the balance was already exhausted.
var debitScript = redis.NewScript(`
local remaining = redis.call('HGET', KEYS[1], 'remaining')
if remaining == false then
  remaining = tonumber(ARGV[2])
else
  remaining = tonumber(remaining)
end
if remaining <= 0 then
  return -1
end
remaining = remaining - tonumber(ARGV[1])
if remaining < 0 then
  remaining = 0
end
redis.call('HSET', KEYS[1], 'remaining', remaining, 'last_updated', ARGV[3])
redis.call('RPUSH', KEYS[2], ARGV[4])
return remaining
`)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", ErrUnavailable, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "llm:ledger:"
	}
	return &RedisStore{client: client, keyPrefix: prefix}, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) entryKey(clientIdentity string) string {
	return s.keyPrefix + "credits:" + clientIdentity
}

func (s *RedisStore) opsKey(clientIdentity string) string {
	return s.keyPrefix + "ops:" + clientIdentity
}

// Peek implements Store.
func (s *RedisStore) Peek(ctx context.Context, clientIdentity string) (int, error) {
	remaining, err := peekScript.Run(ctx, s.client,
		[]string{s.entryKey(clientIdentity)},
		InitialCredits, time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return remaining, nil
}

// Debit implements Store.
func (s *RedisStore) Debit(ctx context.Context, clientIdentity string, cost int) (int, error) {
	now := time.Now().UTC()
	record, err := json.Marshal(OperationRecord{
		ID:             uuid.NewString(),
		ClientIdentity: clientIdentity,
		CreditsUsed:    cost,
		Timestamp:      now,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	remaining, err := debitScript.Run(ctx, s.client,
		[]string{s.entryKey(clientIdentity), s.opsKey(clientIdentity)},
		cost, InitialCredits, now.Format(time.RFC3339Nano), record,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if remaining < 0 {
		return 0, ErrInsufficientCredits
	}
	return remaining, nil
}

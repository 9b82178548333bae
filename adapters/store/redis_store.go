package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-labs/cerberus/core"
	"github.com/meridian-labs/cerberus/ports"
)

// Single-script operations keep each mutation atomic on the Redis side;
// the auth core never performs a read-then-write pair across two calls.
var (
	casScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	local ttl = redis.call('PTTL', KEYS[1])
	redis.call('SET', KEYS[1], ARGV[2])
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
	end
	return 1
end
return 0`)

	cadScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)

	incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count`)

	allowScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
	return {0, redis.call('PTTL', KEYS[1])}
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, redis.call('PTTL', KEYS[1])}`)
)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "cerberus:",
	}
}

var _ ports.Store = (*RedisStore)(nil)

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", storeErr("get", err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return storeErr("set", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return storeErr("delete", err)
	}
	return nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key, prev, next string) (bool, error) {
	swapped, err := casScript.Run(ctx, s.client, []string{s.prefix + key}, prev, next).Int()
	if err != nil {
		return false, storeErr("compare-and-swap", err)
	}
	return swapped == 1, nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, prev string) (bool, error) {
	deleted, err := cadScript.Run(ctx, s.client, []string{s.prefix + key}, prev).Int()
	if err != nil {
		return false, storeErr("compare-and-delete", err)
	}
	return deleted == 1, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := incrScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, storeErr("incr", err)
	}
	return count, nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, time.Duration, error) {
	result, err := allowScript.Run(ctx, s.client, []string{s.prefix + key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil || len(result) != 2 {
		return false, 0, storeErr("allow", err)
	}
	return result[0] == 1, time.Duration(result[1]) * time.Millisecond, nil
}

func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, storeErr("scan", err)
	}
	return keys, nil
}

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("redis %s: %v: %w", op, err, core.ErrStorageUnavailable)
}

package accounts

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-labs/cerberus/core"
	"github.com/meridian-labs/cerberus/ports"
)

// reapScript deletes an account hash only while it is still unverified and
// older than the cutoff, so a sweep cannot race a concurrent verification.
var reapScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'verified') == '0'
	and tonumber(redis.call('HGET', KEYS[1], 'created_at')) < tonumber(ARGV[1]) then
	return redis.call('DEL', KEYS[1])
end
return 0`)

// RedisRepository is a Redis implementation of the AccountRepository
// interface. Each account is a hash under account:<address>.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a new Redis account repository
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
		prefix: "cerberus:account:",
	}
}

var _ ports.AccountRepository = (*RedisRepository)(nil)

func (r *RedisRepository) FindOrCreate(ctx context.Context, address string) (*core.Account, error) {
	key := r.prefix + address

	// HSETNX makes creation race-safe between instances.
	pipe := r.client.TxPipeline()
	pipe.HSetNX(ctx, key, "created_at", time.Now().Unix())
	pipe.HSetNX(ctx, key, "verified", "0")
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, repoErr("find-or-create", err)
	}

	return r.Find(ctx, address)
}

func (r *RedisRepository) Find(ctx context.Context, address string) (*core.Account, error) {
	fields, err := r.client.HGetAll(ctx, r.prefix+address).Result()
	if err != nil {
		return nil, repoErr("find", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrNotFound
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, repoErr("find", fmt.Errorf("bad created_at %q", fields["created_at"]))
	}

	return &core.Account{
		Address:   address,
		Verified:  fields["verified"] == "1",
		CreatedAt: time.Unix(createdAt, 0),
	}, nil
}

func (r *RedisRepository) MarkVerified(ctx context.Context, address string) error {
	if err := r.client.HSet(ctx, r.prefix+address, "verified", "1").Err(); err != nil {
		return repoErr("mark-verified", err)
	}
	return nil
}

func (r *RedisRepository) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := reapScript.Run(ctx, r.client, []string{iter.Val()}, cutoff.Unix()).Int()
		if err != nil {
			return deleted, repoErr("reap", err)
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, repoErr("scan", err)
	}
	return deleted, nil
}

func repoErr(op string, err error) error {
	return fmt.Errorf("account %s: %v: %w", op, err, core.ErrStorageUnavailable)
}

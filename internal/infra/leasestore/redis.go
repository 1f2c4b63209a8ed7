// Package leasestore backs the Scheduler's single-leader protocol (spec §4.8)
// with a Redis SetNX lock, generalizing the teacher's cache.Once idiom from a
// fire-and-forget dedup guard into an explicit acquire/release lease.
package leasestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"digestbot/internal/domain"
)

// Redis implements domain.LeaseStore on top of a Redis SETNX/compare-and-del
// pair, so only one replica wins a given schedule slot.
type Redis struct {
	client *redis.Client
	prefix string
}

// New creates a lease store. prefix namespaces lease keys in a shared Redis
// instance (e.g. "digestbot:lease:").
func New(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "lease:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

// Acquire takes the named lease for holderInstance if unheld or expired.
func (r *Redis) Acquire(ctx context.Context, name, holderInstance string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(name), holderInstance, ttl).Result()
	if err != nil {
		return false, domain.Wrap(domain.KindStoreUnreachable, "leasestore.Acquire", err)
	}
	return ok, nil
}

// Release gives the lease back, but only if holderInstance still holds it;
// a lease that expired and was re-acquired by another replica is left alone.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

func (r *Redis) Release(ctx context.Context, name, holderInstance string) error {
	err := r.client.Eval(ctx, releaseScript, []string{r.key(name)}, holderInstance).Err()
	if err != nil && err != redis.Nil {
		return domain.Wrap(domain.KindStoreUnreachable, "leasestore.Release", err)
	}
	return nil
}

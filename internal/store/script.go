package store

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// acquireOptimScript performs the atomic multi-key update first_available_optim
// needs on a successful lock acquisition (spec.md §4.3.5): acquire the
// per-provider lock, then record last_host, add the host to the model's
// known-hosts set, and bump the host's occupancy count for this model — all
// in one round trip so a partial update (lock acquired but bookkeeping lost)
// can never happen.
//
// KEYS[1] = lock key            ARGV[1] = lock value
// KEYS[2] = model:last_host key ARGV[2] = lock ttl (seconds)
// KEYS[3] = model:hosts set key ARGV[3] = host
// KEYS[4] = host occupancy hash ARGV[4] = model name
var acquireOptimScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
	redis.call('SET', KEYS[2], ARGV[3])
	redis.call('SADD', KEYS[3], ARGV[3])
	redis.call('HINCRBY', KEYS[4], ARGV[4], 1)
	return 1
else
	return 0
end
`)

// releaseOptimScript undoes the occupancy bookkeeping on release: decrement
// the host's count for this model, dropping the field entirely once it
// reaches zero, and release the lock.
//
// KEYS[1] = lock key            ARGV[1] = model name
// KEYS[2] = host occupancy hash
var releaseOptimScript = redis.NewScript(`
local count = redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
if count <= 0 then
	redis.call('HDEL', KEYS[2], ARGV[1])
end
redis.call('DEL', KEYS[1])
return count
`)

// AcquireOptimLock attempts the scripted acquire-and-bookkeep update used by
// first_available_optim. It returns whether the lock was acquired.
func (s *Store) AcquireOptimLock(ctx context.Context, lockKey, lockValue string, ttlSeconds int64, lastHostKey, hostsSetKey, host string, hostOccupancyKey, model string) (bool, error) {
	res, err := acquireOptimScript.Run(ctx, s.client,
		[]string{lockKey, lastHostKey, hostsSetKey, hostOccupancyKey},
		lockValue, ttlSeconds, host, model,
	).Int()
	if err != nil {
		return false, s.wrapErr(err, "acquire_optim_lock")
	}
	return res == 1, nil
}

// ReleaseOptimLock undoes the bookkeeping performed by AcquireOptimLock.
func (s *Store) ReleaseOptimLock(ctx context.Context, lockKey string, hostOccupancyKey, model string) error {
	if _, err := releaseOptimScript.Run(ctx, s.client, []string{lockKey, hostOccupancyKey}, model).Result(); err != nil {
		return s.wrapErr(err, "release_optim_lock")
	}
	return nil
}

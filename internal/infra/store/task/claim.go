package taskstore

import (
	"context"
	"fmt"
	"time"

	"github.com/you-humble/mediascribe/internal/domain"

	"github.com/redis/go-redis/v9"
)

// The result_ref field doubles as the claim sentinel, so acquiring a task
// has to be a server-side conditional update: set the sentinel only if
// the field is empty (or holds an expired claim when a lease is set).
// Plain pipelined writes cannot express that, hence the scripts.

var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local ref = redis.call('HGET', KEYS[1], 'result_ref')
if ref and ref ~= '' then
	local ts = string.match(ref, '^processing://.*/(%d+)$')
	if not ts then
		return 0
	end
	local lease = tonumber(ARGV[3])
	if lease <= 0 then
		return 0
	end
	if tonumber(ARGV[2]) - tonumber(ts) < lease then
		return 0
	end
end
redis.call('HSET', KEYS[1],
	'result_ref', ARGV[1],
	'processing_correlation_id', ARGV[4],
	'updated_at', ARGV[2])
return 1
`)

var releaseScript = redis.NewScript(`
local ref = redis.call('HGET', KEYS[1], 'result_ref')
if not ref or string.sub(ref, 1, 13) ~= 'processing://' then
	return 0
end
redis.call('HSET', KEYS[1],
	'result_ref', '',
	'status', ARGV[1],
	'error', ARGV[2],
	'updated_at', ARGV[3])
return 1
`)

// TryClaim attempts to acquire exclusive processing rights for the task.
// Exactly one of any number of concurrent callers succeeds. A non-zero
// lease lets a claim whose sentinel timestamp is older than the lease be
// taken over.
func (s *redisTaskStore) TryClaim(ctx context.Context, id, sentinel, processingID string, lease time.Duration) (bool, error) {
	res, err := claimScript.Run(ctx, s.rdb,
		[]string{taskKey(id)},
		sentinel,
		time.Now().UnixNano(),
		lease.Nanoseconds(),
		processingID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis claim script: %w", err)
	}

	switch res {
	case 1:
		return true, nil
	case -1:
		return false, domain.ErrTaskNotFound
	default:
		return false, nil
	}
}

// Release clears the claim sentinel and records the outcome status so a
// future poll cycle may retry the task. A published result reference is
// never overwritten.
func (s *redisTaskStore) Release(ctx context.Context, id string, status domain.TaskStatus, reason string) error {
	err := releaseScript.Run(ctx, s.rdb,
		[]string{taskKey(id)},
		string(status),
		reason,
		time.Now().UnixNano(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis release script: %w", err)
	}
	return nil
}

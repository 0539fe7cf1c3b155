package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sampleflow/internal/constants"
)

const appliedMark = "applied"

// Scripts keep claim and release atomic: a GET followed by a SET from Go
// would let two workers claim the same identity between the two commands.
var claimScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then
  redis.call("SET", KEYS[1], "pending:" .. ARGV[1], "PX", ARGV[2])
  return "claimed"
end
if v == "applied" then
  return "applied"
end
return "in_flight"
`)

var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == "pending:" .. ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// RedisLedger is the shared implementation used when multiple worker
// processes consume the same group. Lease expiry rides on the key TTL, so a
// crashed worker's claim disappears without any reaper.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) TryClaim(ctx context.Context, sampleID, owner string, lease time.Duration) (ClaimStatus, error) {
	key := constants.LedgerKeyPrefix + sampleID
	res, err := claimScript.Run(ctx, l.client, []string{key}, owner, lease.Milliseconds()).Text()
	if err != nil {
		return StatusInFlight, fmt.Errorf("redis claim failed: %w", err)
	}

	switch res {
	case "claimed":
		return StatusClaimed, nil
	case "applied":
		return StatusAlreadyApplied, nil
	default:
		return StatusInFlight, nil
	}
}

func (l *RedisLedger) Commit(ctx context.Context, sampleID string, retention time.Duration) error {
	key := constants.LedgerKeyPrefix + sampleID
	// Unconditional: the store write is already durable, so the applied
	// mark must land even if the lease expired mid-write.
	if err := l.client.Set(ctx, key, appliedMark, retention).Err(); err != nil {
		return fmt.Errorf("redis commit failed: %w", err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, sampleID, owner string) error {
	key := constants.LedgerKeyPrefix + sampleID
	if err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err(); err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

func (l *RedisLedger) Size(ctx context.Context) (int, error) {
	iter := l.client.Scan(ctx, 0, constants.LedgerKeyPrefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

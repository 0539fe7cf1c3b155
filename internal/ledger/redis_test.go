package ledger

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedisLedger(t *testing.T) *RedisLedger {
	t.Helper()

	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := redismodule.Run(ctx, "redis:8.4.0-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis uri: %v", err)
	}

	opt, err := redisclient.ParseURL(uri)
	if err != nil {
		t.Fatalf("failed to parse redis URL: %v", err)
	}

	client := redisclient.NewClient(opt)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Ping(ctxWithTimeout).Err(); err != nil {
		client.Close()
		t.Fatalf("failed to ping redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
	})

	return NewRedisLedger(client)
}

func TestRedisLedger_TryClaim_FirstClaimWins(t *testing.T) {
	l := setupRedisLedger(t)
	ctx := context.Background()

	status, err := l.TryClaim(ctx, "s-1", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, status)

	status, err = l.TryClaim(ctx, "s-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusInFlight, status)
}

func TestRedisLedger_TryClaim_ConcurrentSingleWinner(t *testing.T) {
	l := setupRedisLedger(t)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	statuses := make([]ClaimStatus, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], errs[i] = l.TryClaim(ctx, "s-contested", "worker", time.Minute)
		}(i)
	}
	wg.Wait()

	claimed := 0
	for i := 0; i < workers; i++ {
		assert.NoError(t, errs[i])
		if statuses[i] == StatusClaimed {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestRedisLedger_Commit_MarksApplied(t *testing.T) {
	l := setupRedisLedger(t)
	ctx := context.Background()

	_, err := l.TryClaim(ctx, "s-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, "s-1", time.Hour))

	status, err := l.TryClaim(ctx, "s-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyApplied, status)
}

func TestRedisLedger_Commit_LandsAfterLeaseExpiry(t *testing.T) {
	l := setupRedisLedger(t)
	ctx := context.Background()

	_, err := l.TryClaim(ctx, "s-1", "worker-a", 200*time.Millisecond)
	require.NoError(t, err)

	// The store write already happened, so the applied mark must land
	// even though the lease ran out while the worker was writing.
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, l.Commit(ctx, "s-1", time.Hour))

	status, err := l.TryClaim(ctx, "s-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyApplied, status)
}

func TestRedisLedger_Release_ReopensClaim(t *testing.T) {
	l := setupRedisLedger(t)
	ctx := context.Background()

	_, err := l.TryClaim(ctx, "s-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, "s-1", "worker-a"))

	status, err := l.TryClaim(ctx, "s-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, status)
}

func TestRedisLedger_Release_IgnoresWrongOwner(t *testing.T) {
	l := setupRedisLedger(t)
	ctx := context.Background()

	_, err := l.TryClaim(ctx, "s-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, "s-1", "worker-b"))

	status, err := l.TryClaim(ctx, "s-1", "worker-c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusInFlight, status)
}

func TestRedisLedger_Release_DoesNotDropAppliedMark(t *testing.T) {
	l := setupRedisLedger(t)
	ctx := context.Background()

	_, err := l.TryClaim(ctx, "s-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, "s-1", time.Hour))
	require.NoError(t, l.Release(ctx, "s-1", "worker-a"))

	status, err := l.TryClaim(ctx, "s-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyApplied, status)
}

func TestRedisLedger_LeaseExpiry_ReclaimsIdentity(t *testing.T) {
	l := setupRedisLedger(t)
	ctx := context.Background()

	status, err := l.TryClaim(ctx, "s-1", "worker-a", 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, status)

	// Wait for the lease TTL to expire
	time.Sleep(500 * time.Millisecond)

	status, err = l.TryClaim(ctx, "s-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, status)
}

func TestRedisLedger_Size_CountsLedgerKeys(t *testing.T) {
	l := setupRedisLedger(t)
	ctx := context.Background()

	for _, id := range []string{"s-1", "s-2", "s-3"} {
		_, err := l.TryClaim(ctx, id, "worker-a", time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, l.Commit(ctx, "s-2", time.Hour))

	size, err := l.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

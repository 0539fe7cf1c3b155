package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sampleflow/internal/config"
	"sampleflow/internal/logger"
	"sampleflow/pkg/errors"
)

func testLedgerConfig() config.LedgerConfig {
	return config.LedgerConfig{
		Backend:          "memory",
		LeaseTTL:         time.Minute,
		Retention:        time.Hour,
		InFlightRecheck:  5 * time.Millisecond,
		InFlightAttempts: 3,
	}
}

func TestLedgerService_AwaitClaim_Claims(t *testing.T) {
	svc := NewService(NewMemoryLedger(), testLedgerConfig(), logger.NopLogger())
	defer svc.Close()

	status, err := svc.AwaitClaim(context.Background(), "s-1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, status)
}

func TestLedgerService_AwaitClaim_AlreadyApplied(t *testing.T) {
	l := NewMemoryLedger()
	svc := NewService(l, testLedgerConfig(), logger.NopLogger())
	defer svc.Close()

	ctx := context.Background()
	_, err := svc.AwaitClaim(ctx, "s-1", "worker-a")
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, "s-1"))

	status, err := svc.AwaitClaim(ctx, "s-1", "worker-b")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyApplied, status)
}

func TestLedgerService_AwaitClaim_InFlightEventuallyClaims(t *testing.T) {
	l := NewMemoryLedger()
	svc := NewService(l, testLedgerConfig(), logger.NopLogger())
	defer svc.Close()

	ctx := context.Background()
	_, err := svc.AwaitClaim(ctx, "s-1", "worker-a")
	require.NoError(t, err)

	// Holder releases while the second claimer is between rechecks.
	go func() {
		time.Sleep(7 * time.Millisecond)
		_ = svc.Release(ctx, "s-1", "worker-a")
	}()

	status, err := svc.AwaitClaim(ctx, "s-1", "worker-b")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, status)
}

func TestLedgerService_AwaitClaim_InFlightBudgetExhausted(t *testing.T) {
	l := NewMemoryLedger()
	svc := NewService(l, testLedgerConfig(), logger.NopLogger())
	defer svc.Close()

	ctx := context.Background()
	_, err := svc.AwaitClaim(ctx, "s-1", "worker-a")
	require.NoError(t, err)

	status, err := svc.AwaitClaim(ctx, "s-1", "worker-b")
	require.Error(t, err)
	assert.Equal(t, StatusInFlight, status)
	assert.False(t, errors.IsPermanent(err))
}

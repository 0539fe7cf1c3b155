package ledger

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	applied bool
	owner   string
	expiry  time.Time
}

// MemoryLedger implements the same claim/commit/release contract in-process.
// It backs single-instance deployments and the test suite; it is not shared
// across processes, which is the only way it differs from the Redis ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (l *MemoryLedger) TryClaim(_ context.Context, sampleID, owner string, lease time.Duration) (ClaimStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[sampleID]
	if ok {
		if entry.applied {
			if l.now().Before(entry.expiry) {
				return StatusAlreadyApplied, nil
			}
			// Retention window passed; forget the identity.
		} else if l.now().Before(entry.expiry) {
			return StatusInFlight, nil
		}
	}

	l.entries[sampleID] = memoryEntry{
		owner:  owner,
		expiry: l.now().Add(lease),
	}
	return StatusClaimed, nil
}

func (l *MemoryLedger) Commit(_ context.Context, sampleID string, retention time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[sampleID] = memoryEntry{
		applied: true,
		expiry:  l.now().Add(retention),
	}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, sampleID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[sampleID]
	if ok && !entry.applied && entry.owner == owner {
		delete(l.entries, sampleID)
	}
	return nil
}

func (l *MemoryLedger) Size(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	now := l.now()
	for _, entry := range l.entries {
		if now.Before(entry.expiry) {
			count++
		}
	}
	return count, nil
}

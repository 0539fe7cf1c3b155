package ledger

import (
	"context"
	"time"
)

// ClaimStatus is the outcome of a claim attempt on a sample identity.
type ClaimStatus int

const (
	// StatusClaimed means this worker now holds the lease and must either
	// Commit or Release it.
	StatusClaimed ClaimStatus = iota
	// StatusAlreadyApplied means the identity was durably written before;
	// the caller short-circuits to success without touching the store.
	StatusAlreadyApplied
	// StatusInFlight means another worker holds a live lease; the caller
	// backs off and rechecks.
	StatusInFlight
)

func (s ClaimStatus) String() string {
	switch s {
	case StatusClaimed:
		return "claimed"
	case StatusAlreadyApplied:
		return "applied"
	case StatusInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Ledger tracks which sample identities have been durably applied. It is the
// only state shared between workers, so every implementation must be safe
// under concurrent claim/commit/release from multiple processes.
//
// Crash safety comes from the lease: a claim that is never committed or
// released expires on its own, and the identity becomes claimable again.
type Ledger interface {
	// TryClaim attempts to take the lease on sampleID for owner.
	TryClaim(ctx context.Context, sampleID, owner string, lease time.Duration) (ClaimStatus, error)

	// Commit marks sampleID as durably applied, kept for the retention
	// window. Safe to call even if the lease was lost; the store write
	// already happened.
	Commit(ctx context.Context, sampleID string, retention time.Duration) error

	// Release drops the lease so a later attempt is not blocked. Only the
	// owner's own lease is removed; an applied mark is never cleared.
	Release(ctx context.Context, sampleID, owner string) error

	// Size reports the approximate number of live entries, for metrics.
	Size(ctx context.Context) (int, error)
}

package deadletter

import (
	"context"

	"sampleflow/pkg/models"
)

// Sink is the durable, append-only destination for dead-lettered messages.
// Append must be idempotent on the record id: the router may replay a write
// when the original delivery comes back before its offset was committed.
type Sink interface {
	Append(ctx context.Context, rec models.DeadLetterRecord) error
	Close(ctx context.Context) error
}

package outbox

import (
	"context"
	"time"

	"github.com/sapliy/txrelay/internal/transaction"
)

// DefaultBatchSize is used by FindUnprocessed when limit is not positive.
const DefaultBatchSize = 10

// Repository persists outbox events. Save and DeleteProcessed join tx when it
// is non-nil and otherwise commit on their own.
type Repository interface {
	// Save upserts e by id.
	Save(ctx context.Context, e Event, tx *transaction.Context) error
	// FindUnprocessed returns up to limit unprocessed events, oldest CreatedAt first.
	FindUnprocessed(ctx context.Context, limit int) ([]Event, error)
	// DeleteProcessed removes every processed event with ProcessedAt before olderThan.
	DeleteProcessed(ctx context.Context, olderThan time.Time, tx *transaction.Context) error
	// FindByID returns ErrEventNotFound when id is unknown.
	FindByID(ctx context.Context, id string) (Event, error)
	Clear(ctx context.Context, tx *transaction.Context) error
}

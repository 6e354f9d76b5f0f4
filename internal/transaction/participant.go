package transaction

import "context"

// Participant drives one storage backend through a single transaction.
// Begin is called once, at registration. Exactly one of Commit or Rollback
// is called afterwards by the coordinator, and the participant is never
// reused.
type Participant interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Factory builds a participant for a resource key that is not registered yet.
type Factory func() (Participant, error)

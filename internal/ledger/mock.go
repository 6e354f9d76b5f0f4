package ledger

import (
	"context"
	"time"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/transaction"
)

type MockAccountRepository struct {
	SaveFunc     func(ctx context.Context, acc Account, tx *transaction.Context) error
	FindByIDFunc func(ctx context.Context, id string) (Account, error)
	RemoveFunc   func(ctx context.Context, id string, tx *transaction.Context) error
	ExistsFunc   func(ctx context.Context, id string) (bool, error)
	ClearFunc    func(ctx context.Context, tx *transaction.Context) error
}

func (m *MockAccountRepository) Save(ctx context.Context, acc Account, tx *transaction.Context) error {
	return m.SaveFunc(ctx, acc, tx)
}

func (m *MockAccountRepository) FindByID(ctx context.Context, id string) (Account, error) {
	return m.FindByIDFunc(ctx, id)
}

func (m *MockAccountRepository) Remove(ctx context.Context, id string, tx *transaction.Context) error {
	return m.RemoveFunc(ctx, id, tx)
}

func (m *MockAccountRepository) Exists(ctx context.Context, id string) (bool, error) {
	return m.ExistsFunc(ctx, id)
}

func (m *MockAccountRepository) Clear(ctx context.Context, tx *transaction.Context) error {
	return m.ClearFunc(ctx, tx)
}

type MockOutboxRepository struct {
	SaveFunc            func(ctx context.Context, e outbox.Event, tx *transaction.Context) error
	FindUnprocessedFunc func(ctx context.Context, limit int) ([]outbox.Event, error)
	DeleteProcessedFunc func(ctx context.Context, olderThan time.Time, tx *transaction.Context) error
	FindByIDFunc        func(ctx context.Context, id string) (outbox.Event, error)
	ClearFunc           func(ctx context.Context, tx *transaction.Context) error
}

func (m *MockOutboxRepository) Save(ctx context.Context, e outbox.Event, tx *transaction.Context) error {
	return m.SaveFunc(ctx, e, tx)
}

func (m *MockOutboxRepository) FindUnprocessed(ctx context.Context, limit int) ([]outbox.Event, error) {
	return m.FindUnprocessedFunc(ctx, limit)
}

func (m *MockOutboxRepository) DeleteProcessed(ctx context.Context, olderThan time.Time, tx *transaction.Context) error {
	return m.DeleteProcessedFunc(ctx, olderThan, tx)
}

func (m *MockOutboxRepository) FindByID(ctx context.Context, id string) (outbox.Event, error) {
	return m.FindByIDFunc(ctx, id)
}

func (m *MockOutboxRepository) Clear(ctx context.Context, tx *transaction.Context) error {
	return m.ClearFunc(ctx, tx)
}

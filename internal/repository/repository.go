// Package repository defines the persistence contract shared by every storage
// backend. Writes accept an optional transaction Context: nil writes straight
// through the backend's default client, non-nil enlists the backend's
// participant and writes through its handle.
package repository

import (
	"context"
	"errors"

	"github.com/sapliy/txrelay/internal/transaction"
)

var ErrNotFound = errors.New("entity not found")

// Entity is anything stored under a stable string id.
type Entity interface {
	EntityID() string
}

type Repository[T Entity] interface {
	Save(ctx context.Context, entity T, tx *transaction.Context) error
	FindByID(ctx context.Context, id string) (T, error)
	Remove(ctx context.Context, id string, tx *transaction.Context) error
	Exists(ctx context.Context, id string) (bool, error)
	Clear(ctx context.Context, tx *transaction.Context) error
}

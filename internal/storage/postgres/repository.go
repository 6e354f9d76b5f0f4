package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/sapliy/txrelay/internal/repository"
	"github.com/sapliy/txrelay/internal/transaction"
)

// Repository stores entities as JSONB documents in a two-column table
// (id TEXT PRIMARY KEY, body JSONB).
type Repository[T repository.Entity] struct {
	db    DB
	table string
	cfg   config
}

var _ repository.Repository[repository.Entity] = (*Repository[repository.Entity])(nil)

func NewRepository[T repository.Entity](db DB, table string, opts ...Option) *Repository[T] {
	return &Repository[T]{db: db, table: pq.QuoteIdentifier(table), cfg: newConfig(opts)}
}

// EnsureTable creates the document table when it is missing.
func (r *Repository[T]) EnsureTable(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + r.table + ` (id TEXT PRIMARY KEY, body JSONB NOT NULL)`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", r.table, err)
	}
	return nil
}

func (r *Repository[T]) Save(ctx context.Context, entity T, tx *transaction.Context) error {
	body, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", entity.EntityID(), err)
	}

	q, err := conn(ctx, tx, r.cfg, r.db)
	if err != nil {
		return err
	}

	query := `INSERT INTO ` + r.table + ` (id, body) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body`
	if _, err := q.ExecContext(ctx, query, entity.EntityID(), body); err != nil {
		return fmt.Errorf("save %s/%s: %w", r.table, entity.EntityID(), err)
	}
	return nil
}

func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, error) {
	var (
		entity T
		body   []byte
	)

	err := r.db.QueryRowContext(ctx, `SELECT body FROM `+r.table+` WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return entity, repository.ErrNotFound
	}
	if err != nil {
		return entity, fmt.Errorf("find %s/%s: %w", r.table, id, err)
	}

	if err := json.Unmarshal(body, &entity); err != nil {
		return entity, fmt.Errorf("unmarshal %s/%s: %w", r.table, id, err)
	}
	return entity, nil
}

func (r *Repository[T]) Remove(ctx context.Context, id string, tx *transaction.Context) error {
	q, err := conn(ctx, tx, r.cfg, r.db)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE id = $1`, id); err != nil {
		return fmt.Errorf("remove %s/%s: %w", r.table, id, err)
	}
	return nil
}

func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+r.table+` WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", r.table, id, err)
	}
	return ok, nil
}

func (r *Repository[T]) Clear(ctx context.Context, tx *transaction.Context) error {
	q, err := conn(ctx, tx, r.cfg, r.db)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM `+r.table); err != nil {
		return fmt.Errorf("clear %s: %w", r.table, err)
	}
	return nil
}

// Package postgres is the SQL storage backend, built on database/sql with
// the lib/pq driver. Inside a transaction every write goes through one
// *sql.Tx per database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/sapliy/txrelay/internal/transaction"
)

// ResourceKey is the default transaction resource key for Postgres.
const ResourceKey = "postgres"

// TxBeginner is the part of *sql.DB the participant needs.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Participant struct {
	db     TxBeginner
	txOpts *sql.TxOptions

	mu   sync.Mutex
	tx   *sql.Tx
	done bool
}

func NewParticipant(db TxBeginner, txOpts *sql.TxOptions) *Participant {
	return &Participant{db: db, txOpts: txOpts}
}

func (p *Participant) Begin(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.beginLocked(ctx)
}

func (p *Participant) beginLocked(ctx context.Context) error {
	if p.done {
		return transaction.ErrParticipantClosed
	}
	if p.tx != nil {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, p.txOpts)
	if err != nil {
		return fmt.Errorf("begin postgres transaction: %w", err)
	}
	p.tx = tx
	return nil
}

// Tx returns the open transaction, beginning on first use.
func (p *Participant) Tx(ctx context.Context) (*sql.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.beginLocked(ctx); err != nil {
		return nil, err
	}
	return p.tx, nil
}

func (p *Participant) Commit(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return transaction.ErrParticipantClosed
	}
	p.done = true

	if p.tx == nil {
		return nil
	}
	if err := p.tx.Commit(); err != nil {
		return fmt.Errorf("commit postgres transaction: %w", err)
	}
	return nil
}

func (p *Participant) Rollback(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return nil
	}
	p.done = true

	if p.tx == nil {
		return nil
	}
	if err := p.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback postgres transaction: %w", err)
	}
	return nil
}

type config struct {
	resourceKey string
	txOpts      *sql.TxOptions
}

// Option configures a Postgres repository.
type Option func(*config)

func WithResourceKey(key string) Option {
	return func(c *config) {
		if key != "" {
			c.resourceKey = key
		}
	}
}

// WithTxOptions sets the isolation level for transactions this repository starts.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(c *config) {
		c.txOpts = opts
	}
}

func newConfig(opts []Option) config {
	c := config{resourceKey: ResourceKey}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// DB is what repositories are built on; *sql.DB satisfies it.
type DB interface {
	TxBeginner
	querier
}

// conn returns db for non-transactional calls and the enlisted *sql.Tx otherwise.
func conn(ctx context.Context, tx *transaction.Context, cfg config, db DB) (querier, error) {
	if tx == nil {
		return db, nil
	}

	p, err := transaction.Enlist(ctx, tx, cfg.resourceKey, func() (*Participant, error) {
		return NewParticipant(db, cfg.txOpts), nil
	})
	if err != nil {
		return nil, err
	}
	return p.Tx(ctx)
}

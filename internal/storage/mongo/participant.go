// Package mongo is the document-store backend. Inside a transaction every
// write runs in the session context of one multi-document transaction per
// client; reads outside the transaction do not see uncommitted writes.
package mongo

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sapliy/txrelay/internal/transaction"
)

// ResourceKey is the default transaction resource key for MongoDB.
const ResourceKey = "mongo"

// SessionStarter is the part of *mongo.Client the participant needs.
type SessionStarter interface {
	StartSession(opts ...*options.SessionOptions) (mongo.Session, error)
}

// Participant owns one session with an open transaction.
type Participant struct {
	starter SessionStarter
	txOpts  *options.TransactionOptions

	mu      sync.Mutex
	session mongo.Session
	done    bool
}

func NewParticipant(starter SessionStarter, txOpts *options.TransactionOptions) *Participant {
	return &Participant{starter: starter, txOpts: txOpts}
}

// Begin starts a session and a transaction on it.
func (p *Participant) Begin(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.beginLocked(ctx)
}

func (p *Participant) beginLocked(ctx context.Context) error {
	if p.done {
		return transaction.ErrParticipantClosed
	}
	if p.session != nil {
		return nil
	}

	session, err := p.starter.StartSession()
	if err != nil {
		return fmt.Errorf("start mongo session: %w", err)
	}

	var txOpts []*options.TransactionOptions
	if p.txOpts != nil {
		txOpts = append(txOpts, p.txOpts)
	}
	if err := session.StartTransaction(txOpts...); err != nil {
		session.EndSession(ctx)
		return fmt.Errorf("start mongo transaction: %w", err)
	}

	p.session = session
	return nil
}

// SessionContext returns ctx bound to the transaction's session, beginning
// on first use. Pass it to every collection call that belongs to the
// transaction.
func (p *Participant) SessionContext(ctx context.Context) (mongo.SessionContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.beginLocked(ctx); err != nil {
		return nil, err
	}
	return mongo.NewSessionContext(ctx, p.session), nil
}

// Commit commits the transaction and ends the session.
func (p *Participant) Commit(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return transaction.ErrParticipantClosed
	}
	p.done = true

	if p.session == nil {
		return nil
	}
	defer p.session.EndSession(ctx)

	if err := p.session.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("commit mongo transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction and ends the session.
func (p *Participant) Rollback(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return nil
	}
	p.done = true

	if p.session == nil {
		return nil
	}
	defer p.session.EndSession(ctx)

	if err := p.session.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("abort mongo transaction: %w", err)
	}
	return nil
}

type config struct {
	resourceKey string
	txOpts      *options.TransactionOptions
}

// Option configures a Mongo repository.
type Option func(*config)

// WithResourceKey binds the repository to a non-default resource key, for
// processes that write to more than one MongoDB deployment.
func WithResourceKey(key string) Option {
	return func(c *config) {
		if key != "" {
			c.resourceKey = key
		}
	}
}

// WithTransactionOptions sets read/write concerns for transactions this
// repository starts. The first repository to enlist for a key decides.
func WithTransactionOptions(txOpts *options.TransactionOptions) Option {
	return func(c *config) {
		c.txOpts = txOpts
	}
}

func newConfig(opts []Option) config {
	c := config{resourceKey: ResourceKey}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// sessionContext returns ctx unchanged when tx is nil, otherwise the session
// context of the participant enlisted for tx.
func sessionContext(ctx context.Context, tx *transaction.Context, cfg config, starter SessionStarter) (context.Context, error) {
	if tx == nil {
		return ctx, nil
	}

	p, err := transaction.Enlist(ctx, tx, cfg.resourceKey, func() (*Participant, error) {
		return NewParticipant(starter, cfg.txOpts), nil
	})
	if err != nil {
		return nil, err
	}
	return p.SessionContext(ctx)
}

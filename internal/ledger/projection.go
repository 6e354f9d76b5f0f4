package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sapliy/txrelay/internal/integration"
	"github.com/sapliy/txrelay/pkg/observability"
)

// AccountView is the consumer-side copy of an account built from events.
type AccountView struct {
	ID        string
	Name      string
	Type      AccountType
	Currency  string
	Status    AccountStatus
	UpdatedAt time.Time
}

// Projection keeps account views up to date from consumed account events.
// Redelivered events are applied again, which leaves the view unchanged.
type Projection struct {
	logger *observability.Logger

	mu       sync.RWMutex
	accounts map[string]AccountView
	seen     map[string]struct{}
}

func NewProjection(logger *observability.Logger) *Projection {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Projection{
		logger:   logger,
		accounts: make(map[string]AccountView),
		seen:     make(map[string]struct{}),
	}
}

// Register binds the projection to every account event on Topic.
func (p *Projection) Register(d *integration.Dispatcher) {
	d.Handle(Topic, EventAccountOpened, p.apply)
	d.Handle(Topic, EventAccountRenamed, p.apply)
	d.Handle(Topic, EventAccountClosed, p.apply)
}

func (p *Projection) apply(ctx context.Context, env integration.Envelope, e integration.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.seen[env.ID]; dup {
		p.logger.WithContext(ctx).Debug("duplicate account event", "event_id", env.ID, "event", env.Name)
		return nil
	}

	switch e := e.(type) {
	case AccountOpened:
		p.accounts[e.AccountID] = AccountView{
			ID:        e.AccountID,
			Name:      e.Name,
			Type:      e.Type,
			Currency:  e.Currency,
			Status:    StatusActive,
			UpdatedAt: e.OpenedAt,
		}
	case AccountRenamed:
		v, ok := p.accounts[e.AccountID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, e.AccountID)
		}
		v.Name = e.NewName
		v.UpdatedAt = e.RenamedAt
		p.accounts[e.AccountID] = v
	case AccountClosed:
		v, ok := p.accounts[e.AccountID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, e.AccountID)
		}
		v.Status = StatusClosed
		v.UpdatedAt = e.ClosedAt
		p.accounts[e.AccountID] = v
	default:
		return fmt.Errorf("unexpected event %T", e)
	}

	p.seen[env.ID] = struct{}{}
	p.logger.WithContext(ctx).Info("account projection updated", "event_id", env.ID, "event", env.Name)
	return nil
}

func (p *Projection) Account(id string) (AccountView, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.accounts[id]
	return v, ok
}

func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.accounts)
}

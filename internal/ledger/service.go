package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sapliy/txrelay/internal/integration"
	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/repository"
	"github.com/sapliy/txrelay/internal/transaction"
	"github.com/sapliy/txrelay/pkg/observability"
)

// Service runs account commands. Each command saves the account and its
// event through the same coordinator run: both are committed or neither is.
type Service struct {
	coordinator *transaction.Coordinator
	accounts    repository.Repository[Account]
	events      outbox.Repository
	metrics     *Metrics
	logger      *observability.Logger
	now         func() time.Time
}

type ServiceOption func(*Service)

func WithServiceLogger(logger *observability.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServiceMetrics(metrics *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = metrics }
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(coordinator *transaction.Coordinator, accounts repository.Repository[Account], events outbox.Repository, opts ...ServiceOption) *Service {
	s := &Service{
		coordinator: coordinator,
		accounts:    accounts,
		events:      events,
		logger:      observability.NewNopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) OpenAccount(ctx context.Context, req OpenAccountRequest) (acc Account, err error) {
	defer s.observe("open", time.Now(), &err)

	if err := req.normalize(); err != nil {
		return Account{}, err
	}

	now := outbox.Millis(s.now())
	acc = Account{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Type:      req.Type,
		Currency:  req.Currency,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.save(ctx, acc, AccountOpened{
		AccountID: acc.ID,
		Name:      acc.Name,
		Type:      acc.Type,
		Currency:  acc.Currency,
		OpenedAt:  now,
	})
	if err != nil {
		return Account{}, err
	}

	s.logger.WithContext(ctx).Info("account opened", "account_id", acc.ID, "type", acc.Type)
	return acc, nil
}

func (s *Service) RenameAccount(ctx context.Context, id, name string) (acc Account, err error) {
	defer s.observe("rename", time.Now(), &err)

	acc, err = s.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}

	oldName := acc.Name
	now := outbox.Millis(s.now())
	if err := acc.rename(name, now); err != nil {
		return Account{}, err
	}

	err = s.save(ctx, acc, AccountRenamed{
		AccountID: acc.ID,
		OldName:   oldName,
		NewName:   acc.Name,
		RenamedAt: now,
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (s *Service) CloseAccount(ctx context.Context, id string) (acc Account, err error) {
	defer s.observe("close", time.Now(), &err)

	acc, err = s.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}

	now := outbox.Millis(s.now())
	if err := acc.close(now); err != nil {
		return Account{}, err
	}

	if err := s.save(ctx, acc, AccountClosed{AccountID: acc.ID, ClosedAt: now}); err != nil {
		return Account{}, err
	}

	s.logger.WithContext(ctx).Info("account closed", "account_id", acc.ID)
	return acc, nil
}

func (s *Service) GetAccount(ctx context.Context, id string) (Account, error) {
	acc, err := s.accounts.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return Account{}, fmt.Errorf("load account %s: %w", id, err)
	}
	return acc, nil
}

// save writes acc and the outbox record for e in one transaction.
func (s *Service) save(ctx context.Context, acc Account, e integration.Event) error {
	evt, err := outbox.NewIntegrationEvent(Topic, e)
	if err != nil {
		return fmt.Errorf("build %s event: %w", e.EventName(), err)
	}

	return s.coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
		if err := s.accounts.Save(ctx, acc, tx); err != nil {
			return fmt.Errorf("save account %s: %w", acc.ID, err)
		}
		if err := s.events.Save(ctx, evt, tx); err != nil {
			return fmt.Errorf("save %s event: %w", evt.EventName, err)
		}
		return nil
	})
}

func (s *Service) observe(command string, start time.Time, err *error) {
	s.metrics.record(command, start, *err)
	if *err != nil && !errors.Is(*err, ErrInvalidAccount) && !errors.Is(*err, ErrAccountNotFound) && !errors.Is(*err, ErrAccountClosed) {
		s.logger.Error("account command failed", "command", command, "error", *err)
	}
}

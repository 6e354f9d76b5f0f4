// Package platform wires configuration into store clients, repositories and
// broker publishers for the binaries.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sapliy/txrelay/internal/config"
	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/repository"
	"github.com/sapliy/txrelay/internal/storage/memory"
	mongostore "github.com/sapliy/txrelay/internal/storage/mongo"
	"github.com/sapliy/txrelay/internal/storage/postgres"
	redisstore "github.com/sapliy/txrelay/internal/storage/redis"
	"github.com/sapliy/txrelay/pkg/database"
	"github.com/sapliy/txrelay/pkg/observability"
)

var ErrUnknownStore = errors.New("unknown store")

// Stores holds the clients opened for the configured stores and the outbox
// repository built on OUTBOX_STORE. Clients for stores nobody uses stay nil.
type Stores struct {
	Redis    *goredis.Client
	Mongo    *mongo.Database
	Postgres *sql.DB
	Outbox   outbox.Repository

	cfg     config.Config
	closers []func(context.Context) error
}

// OpenStores connects to every store named by the configuration and prepares
// the outbox repository. On failure the clients opened so far are closed.
func OpenStores(ctx context.Context, cfg config.Config, logger *observability.Logger) (_ *Stores, err error) {
	s := &Stores{cfg: cfg}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	if cfg.Uses(config.StoreRedis) {
		if _, err := s.EnsureRedis(ctx, logger); err != nil {
			return nil, err
		}
	}

	if cfg.Uses(config.StoreMongo) {
		client, err := database.ConnectMongo(ctx, cfg.Mongo.URI, logger)
		if err != nil {
			return nil, err
		}
		s.Mongo = client.Database(cfg.Mongo.Database)
		s.closers = append(s.closers, client.Disconnect)
	}

	if cfg.Uses(config.StorePostgres) {
		db, err := database.Connect(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			return nil, err
		}
		s.Postgres = db
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })
	}

	s.Outbox, err = s.outboxRepository(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info("stores ready", "outbox_store", cfg.OutboxStore, "account_store", cfg.AccountStore)
	return s, nil
}

// EnsureRedis returns the Redis client, connecting on first use. The relay
// lease needs Redis even when no store lives there.
func (s *Stores) EnsureRedis(ctx context.Context, logger *observability.Logger) (*goredis.Client, error) {
	if s.Redis != nil {
		return s.Redis, nil
	}

	client, err := database.ConnectRedis(ctx, s.cfg.Redis.Addr, s.cfg.Redis.Password, s.cfg.Redis.DB, logger)
	if err != nil {
		return nil, err
	}
	s.Redis = client
	s.closers = append(s.closers, func(context.Context) error { return client.Close() })
	return client, nil
}

func (s *Stores) outboxRepository(ctx context.Context) (outbox.Repository, error) {
	switch s.cfg.OutboxStore {
	case config.StoreMemory:
		return memory.NewOutboxRepository(), nil
	case config.StoreRedis:
		return redisstore.NewOutboxRepository(s.Redis), nil
	case config.StoreMongo:
		repo := mongostore.NewOutboxRepository(s.Mongo)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	case config.StorePostgres:
		repo := postgres.NewOutboxRepository(s.Postgres)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStore, s.cfg.OutboxStore)
}

// Repository builds a repository for T on store. name is the key prefix,
// collection or table the entities live in.
func Repository[T repository.Entity](ctx context.Context, s *Stores, store, name string) (repository.Repository[T], error) {
	switch store {
	case config.StoreMemory:
		return memory.NewRepository[T](), nil
	case config.StoreRedis:
		return redisstore.NewRepository[T](s.Redis, name), nil
	case config.StoreMongo:
		return mongostore.NewRepository[T](s.Mongo.Collection(name)), nil
	case config.StorePostgres:
		repo := postgres.NewRepository[T](s.Postgres, name)
		if err := repo.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStore, store)
}

// Close releases every client in reverse opening order.
func (s *Stores) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	s.closers = nil
	return errors.Join(errs...)
}

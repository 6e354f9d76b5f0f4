//go:build integration

package mongo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/outbox/outboxtest"
	"github.com/sapliy/txrelay/internal/repository"
	redisstore "github.com/sapliy/txrelay/internal/storage/redis"
	"github.com/sapliy/txrelay/internal/transaction"
)

type wallet struct {
	ID      string `bson:"_id" json:"id"`
	Owner   string `bson:"owner" json:"owner"`
	Balance int64  `bson:"balance" json:"balance"`
}

func (w wallet) EntityID() string { return w.ID }

var errRejected = errors.New("rejected")

// setupMongo starts a single-node replica set, which transactions require.
func setupMongo(t *testing.T) *mongo.Client {
	t.Helper()

	ctx := context.Background()
	container, err := tcmongo.Run(ctx, "mongo:7", tcmongo.WithReplicaSet("rs0"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, testcontainers.TerminateContainer(container)) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	require.Eventually(t, func() bool { return client.Ping(ctx, nil) == nil }, 30*time.Second, 200*time.Millisecond)
	return client
}

func TestIntegration_Mongo(t *testing.T) {
	client := setupMongo(t)
	var dbSeq int

	newDB := func() *mongo.Database {
		dbSeq++
		db := client.Database(fmt.Sprintf("txrelay_it_%d", dbSeq))
		// Collections must exist before a transaction writes to them on older servers.
		require.NoError(t, db.CreateCollection(context.Background(), OutboxCollection))
		require.NoError(t, db.CreateCollection(context.Background(), "wallets"))
		return db
	}

	t.Run("OutboxContract", func(t *testing.T) {
		outboxtest.RunRepositoryContract(t, func(t *testing.T) outbox.Repository {
			repo := NewOutboxRepository(newDB())
			require.NoError(t, repo.EnsureIndexes(context.Background()))
			return repo
		})
	})

	t.Run("RepositoryCRUD", func(t *testing.T) {
		ctx := context.Background()
		wallets := NewRepository[wallet](newDB().Collection("wallets"))

		require.NoError(t, wallets.Save(ctx, wallet{ID: "w1", Owner: "ada", Balance: 10}, nil))
		require.NoError(t, wallets.Save(ctx, wallet{ID: "w1", Owner: "ada", Balance: 25}, nil))

		got, err := wallets.FindByID(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, int64(25), got.Balance)

		ok, err := wallets.Exists(ctx, "w1")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, wallets.Remove(ctx, "w1", nil))
		_, err = wallets.FindByID(ctx, "w1")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("AggregateAndOutboxAcrossStores", func(t *testing.T) {
		ctx := context.Background()
		db := newDB()
		wallets := NewRepository[wallet](db.Collection("wallets"))

		mr := miniredis.RunT(t)
		rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		events := redisstore.NewOutboxRepository(rdb)

		coordinator := transaction.NewCoordinator()

		err := coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
			require.NoError(t, wallets.Save(ctx, wallet{ID: "w-rollback", Owner: "ada"}, tx))
			require.NoError(t, events.Save(ctx, outboxtest.NewFixture(t, "evt-rollback", 0), tx))
			return errRejected
		})
		require.ErrorIs(t, err, errRejected)

		_, err = wallets.FindByID(ctx, "w-rollback")
		require.ErrorIs(t, err, repository.ErrNotFound)
		_, err = events.FindByID(ctx, "evt-rollback")
		require.ErrorIs(t, err, outbox.ErrEventNotFound)

		var keys []string
		err = coordinator.Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
			require.NoError(t, wallets.Save(ctx, wallet{ID: "w-commit", Owner: "ada"}, tx))
			require.NoError(t, events.Save(ctx, outboxtest.NewFixture(t, "evt-commit", 0), tx))
			keys = tx.Keys()
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{ResourceKey, redisstore.ResourceKey}, keys)

		_, err = wallets.FindByID(ctx, "w-commit")
		require.NoError(t, err)
		e, err := events.FindByID(ctx, "evt-commit")
		require.NoError(t, err)
		assert.False(t, e.IsProcessed())
	})

	t.Run("UncommittedWritesInvisibleOutsideSession", func(t *testing.T) {
		ctx := context.Background()
		coll := newDB().Collection("wallets")
		wallets := NewRepository[wallet](coll)

		err := transaction.NewCoordinator().Run(ctx, func(ctx context.Context, tx *transaction.Context) error {
			require.NoError(t, wallets.Save(ctx, wallet{ID: "w1"}, tx))
			n, err := coll.CountDocuments(ctx, bson.M{"_id": "w1"})
			require.NoError(t, err)
			assert.Zero(t, n)
			return nil
		})
		require.NoError(t, err)

		ok, err := wallets.Exists(ctx, "w1")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

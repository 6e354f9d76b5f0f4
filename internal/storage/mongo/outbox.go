package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/transaction"
)

// OutboxCollection is the default collection for outbox events.
const OutboxCollection = "outbox_events"

// OutboxRepository stores one document per event, keyed by event id.
type OutboxRepository struct {
	coll    *mongo.Collection
	starter SessionStarter
	cfg     config
}

var _ outbox.Repository = (*OutboxRepository)(nil)

func NewOutboxRepository(db *mongo.Database, opts ...Option) *OutboxRepository {
	return &OutboxRepository{
		coll:    db.Collection(OutboxCollection),
		starter: db.Client(),
		cfg:     newConfig(opts),
	}
}

// EnsureIndexes creates the indexes behind FindUnprocessed and DeleteProcessed.
func (r *OutboxRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "processedAt", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("processedAt_createdAt"),
		},
	})
	if err != nil {
		return fmt.Errorf("create outbox indexes: %w", err)
	}
	return nil
}

func (r *OutboxRepository) Save(ctx context.Context, e outbox.Event, tx *transaction.Context) error {
	ctx, err := sessionContext(ctx, tx, r.cfg, r.starter)
	if err != nil {
		return err
	}

	_, err = r.coll.ReplaceOne(ctx, bson.M{"_id": e.ID}, e, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save outbox event %s: %w", e.ID, err)
	}
	return nil
}

func (r *OutboxRepository) FindUnprocessed(ctx context.Context, limit int) ([]outbox.Event, error) {
	if limit <= 0 {
		limit = outbox.DefaultBatchSize
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.coll.Find(ctx, bson.M{"processedAt": outbox.NeverProcessed}, opts)
	if err != nil {
		return nil, fmt.Errorf("find unprocessed events: %w", err)
	}

	var events []outbox.Event
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode unprocessed events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) DeleteProcessed(ctx context.Context, olderThan time.Time, tx *transaction.Context) error {
	ctx, err := sessionContext(ctx, tx, r.cfg, r.starter)
	if err != nil {
		return err
	}

	filter := bson.M{"processedAt": bson.M{"$lt": outbox.Cutoff(olderThan), "$ne": outbox.NeverProcessed}}
	if _, err := r.coll.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("delete processed events: %w", err)
	}
	return nil
}

func (r *OutboxRepository) FindByID(ctx context.Context, id string) (outbox.Event, error) {
	var e outbox.Event

	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return outbox.Event{}, outbox.ErrEventNotFound
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("find outbox event %s: %w", id, err)
	}
	return e, nil
}

func (r *OutboxRepository) Clear(ctx context.Context, tx *transaction.Context) error {
	ctx, err := sessionContext(ctx, tx, r.cfg, r.starter)
	if err != nil {
		return err
	}

	if _, err := r.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return nil
}

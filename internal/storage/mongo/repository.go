package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sapliy/txrelay/internal/repository"
	"github.com/sapliy/txrelay/internal/transaction"
)

// Repository stores entities as documents. T must encode its id as "_id",
// e.g. with a `bson:"_id"` tag on the id field.
type Repository[T repository.Entity] struct {
	coll    *mongo.Collection
	starter SessionStarter
	cfg     config
}

var _ repository.Repository[repository.Entity] = (*Repository[repository.Entity])(nil)

func NewRepository[T repository.Entity](coll *mongo.Collection, opts ...Option) *Repository[T] {
	return &Repository[T]{
		coll:    coll,
		starter: coll.Database().Client(),
		cfg:     newConfig(opts),
	}
}

func (r *Repository[T]) Save(ctx context.Context, entity T, tx *transaction.Context) error {
	ctx, err := sessionContext(ctx, tx, r.cfg, r.starter)
	if err != nil {
		return err
	}

	_, err = r.coll.ReplaceOne(ctx, bson.M{"_id": entity.EntityID()}, entity, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", r.coll.Name(), entity.EntityID(), err)
	}
	return nil
}

func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, error) {
	var entity T

	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&entity)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entity, repository.ErrNotFound
	}
	if err != nil {
		return entity, fmt.Errorf("find %s/%s: %w", r.coll.Name(), id, err)
	}
	return entity, nil
}

func (r *Repository[T]) Remove(ctx context.Context, id string, tx *transaction.Context) error {
	ctx, err := sessionContext(ctx, tx, r.cfg, r.starter)
	if err != nil {
		return err
	}

	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("remove %s/%s: %w", r.coll.Name(), id, err)
	}
	return nil
}

func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count %s/%s: %w", r.coll.Name(), id, err)
	}
	return n > 0, nil
}

func (r *Repository[T]) Clear(ctx context.Context, tx *transaction.Context) error {
	ctx, err := sessionContext(ctx, tx, r.cfg, r.starter)
	if err != nil {
		return err
	}

	if _, err := r.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("clear %s: %w", r.coll.Name(), err)
	}
	return nil
}

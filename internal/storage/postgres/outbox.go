package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sapliy/txrelay/internal/outbox"
	"github.com/sapliy/txrelay/internal/transaction"
)

const outboxSchema = `
CREATE TABLE IF NOT EXISTS outbox_events (
	id           TEXT PRIMARY KEY,
	event_name   TEXT NOT NULL,
	topic        TEXT NOT NULL,
	payload      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	max_retries  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS outbox_events_processed_created_idx ON outbox_events (processed_at, created_at);
`

const outboxColumns = `id, event_name, topic, payload, created_at, processed_at, retry_count, max_retries`

// OutboxRepository stores events in the outbox_events table.
type OutboxRepository struct {
	db  DB
	cfg config
}

var _ outbox.Repository = (*OutboxRepository)(nil)

func NewOutboxRepository(db DB, opts ...Option) *OutboxRepository {
	return &OutboxRepository{db: db, cfg: newConfig(opts)}
}

// EnsureSchema creates the outbox table and its index when missing.
func (r *OutboxRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, outboxSchema); err != nil {
		return fmt.Errorf("create outbox schema: %w", err)
	}
	return nil
}

func (r *OutboxRepository) Save(ctx context.Context, e outbox.Event, tx *transaction.Context) error {
	q, err := conn(ctx, tx, r.cfg, r.db)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `INSERT INTO outbox_events (`+outboxColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			event_name = EXCLUDED.event_name,
			topic = EXCLUDED.topic,
			payload = EXCLUDED.payload,
			processed_at = EXCLUDED.processed_at,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries`,
		e.ID, e.EventName, e.Topic, e.Payload, e.CreatedAt, e.ProcessedAt, e.RetryCount, e.MaxRetries)
	if err != nil {
		return fmt.Errorf("save outbox event %s: %w", e.ID, err)
	}
	return nil
}

func (r *OutboxRepository) FindUnprocessed(ctx context.Context, limit int) ([]outbox.Event, error) {
	if limit <= 0 {
		limit = outbox.DefaultBatchSize
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM outbox_events
		WHERE processed_at = $1 ORDER BY created_at, id LIMIT $2`, outbox.NeverProcessed, limit)
	if err != nil {
		return nil, fmt.Errorf("find unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unprocessed events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) DeleteProcessed(ctx context.Context, olderThan time.Time, tx *transaction.Context) error {
	q, err := conn(ctx, tx, r.cfg, r.db)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `DELETE FROM outbox_events WHERE processed_at < $1 AND processed_at <> $2`,
		outbox.Cutoff(olderThan), outbox.NeverProcessed)
	if err != nil {
		return fmt.Errorf("delete processed events: %w", err)
	}
	return nil
}

func (r *OutboxRepository) FindByID(ctx context.Context, id string) (outbox.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE id = $1`, id)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Event{}, outbox.ErrEventNotFound
	}
	return e, err
}

func (r *OutboxRepository) Clear(ctx context.Context, tx *transaction.Context) error {
	q, err := conn(ctx, tx, r.cfg, r.db)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM outbox_events`); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (outbox.Event, error) {
	var e outbox.Event
	err := s.Scan(&e.ID, &e.EventName, &e.Topic, &e.Payload, &e.CreatedAt, &e.ProcessedAt, &e.RetryCount, &e.MaxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Event{}, err
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("scan outbox event: %w", err)
	}

	e.CreatedAt = outbox.Millis(e.CreatedAt)
	e.ProcessedAt = outbox.Millis(e.ProcessedAt)
	return e, nil
}

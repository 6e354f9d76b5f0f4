// Package outbox implements the transactional outbox: events are stored in
// the same transaction as the business write that produced them, and a Relay
// later publishes them to the broker in creation order.
package outbox

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sapliy/txrelay/internal/integration"
)

// NeverProcessed marks an event that has not been relayed yet.
var NeverProcessed = time.Unix(0, 0).UTC()

// DefaultMaxRetries bounds RecordFailure for new events.
const DefaultMaxRetries = 5

// Event is one integration event waiting to be relayed. Timestamps are kept
// at millisecond precision so every backend round-trips them unchanged.
type Event struct {
	ID          string    `json:"id" bson:"_id"`
	EventName   string    `json:"eventName" bson:"eventName"`
	Topic       string    `json:"topic" bson:"topic"`
	Payload     string    `json:"payload" bson:"payload"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	ProcessedAt time.Time `json:"processedAt" bson:"processedAt"`
	RetryCount  int       `json:"retryCount" bson:"retryCount"`
	MaxRetries  int       `json:"maxRetries" bson:"maxRetries"`
}

// NewEvent builds an unprocessed event with a random id.
func NewEvent(eventName, topic string, payload []byte) (Event, error) {
	return NewEventWithID(uuid.NewString(), eventName, topic, payload, time.Now())
}

// NewEventWithID builds an unprocessed event with caller-chosen id and creation time.
func NewEventWithID(id, eventName, topic string, payload []byte, createdAt time.Time) (Event, error) {
	e := Event{
		ID:          strings.TrimSpace(id),
		EventName:   strings.TrimSpace(eventName),
		Topic:       strings.TrimSpace(topic),
		Payload:     string(payload),
		CreatedAt:   Millis(createdAt),
		ProcessedAt: NeverProcessed,
		MaxRetries:  DefaultMaxRetries,
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// NewIntegrationEvent wraps e in an integration envelope bound for topic.
func NewIntegrationEvent(topic string, e integration.Event) (Event, error) {
	env, err := integration.NewEnvelope(e)
	if err != nil {
		return Event{}, err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return Event{}, err
	}

	return NewEventWithID(env.ID, env.Name, topic, payload, env.OccurredAt)
}

func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return ErrEventIDRequired
	case e.EventName == "":
		return ErrEventNameRequired
	case e.Topic == "":
		return ErrTopicRequired
	case e.Payload == "":
		return ErrPayloadRequired
	case !json.Valid([]byte(e.Payload)):
		return ErrPayloadNotJSON
	case e.CreatedAt.IsZero():
		return ErrCreatedAtRequired
	}
	return nil
}

func (e Event) EntityID() string {
	return e.ID
}

// IsProcessed reports whether the event carries a real processing time.
// The zero time counts as unprocessed.
func (e Event) IsProcessed() bool {
	return !e.ProcessedAt.IsZero() && !e.ProcessedAt.Equal(NeverProcessed)
}

// MarkProcessed records at as the processing time. It is terminal.
func (e *Event) MarkProcessed(at time.Time) error {
	if e.IsProcessed() {
		return ErrAlreadyProcessed
	}
	at = Millis(at)
	if !at.After(NeverProcessed) {
		return ErrInvalidProcessedAt
	}
	e.ProcessedAt = at
	return nil
}

// ProcessedBefore reports whether the event was processed strictly before t.
func (e Event) ProcessedBefore(t time.Time) bool {
	return e.IsProcessed() && e.ProcessedAt.Before(t)
}

// RecordFailure counts one failed delivery. It fails once MaxRetries is reached.
// A non-positive MaxRetries never exhausts.
func (e *Event) RecordFailure() error {
	if e.RetriesExhausted() {
		return ErrRetriesExhausted
	}
	e.RetryCount++
	return nil
}

func (e Event) RetriesExhausted() bool {
	return e.MaxRetries > 0 && e.RetryCount >= e.MaxRetries
}

// Millis truncates t to milliseconds in UTC.
func Millis(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Cutoff rounds olderThan up to the next millisecond when it has a
// sub-millisecond part. Processing times are stored at millisecond precision,
// so "processed strictly before olderThan" equals "processed strictly before
// Cutoff(olderThan)" on every backend.
func Cutoff(olderThan time.Time) time.Time {
	ms := olderThan.UnixMilli()
	if olderThan.After(time.UnixMilli(ms)) {
		ms++
	}
	return time.UnixMilli(ms).UTC()
}

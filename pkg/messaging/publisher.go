// Package messaging holds the broker clients events are relayed through.
// Both Kafka and RabbitMQ clients route by topic, so the relay can treat
// them the same way.
package messaging

import (
	"context"
	"errors"
)

// Publisher sends one message to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, message []byte) error
	Close() error
}

var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrConnectionClosed = errors.New("broker connection is not available")
	ErrTopicRequired    = errors.New("topic is required")
)

package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sapliy/txrelay/pkg/observability"
)

// KafkaPublisher writes each message to the topic named at publish time.
// The topic doubles as the message key so a topic's events land on one
// partition and keep their relay order.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *observability.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, logger *observability.Logger) *KafkaPublisher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, message []byte) error {
	if topic == "" {
		return ErrTopicRequired
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(topic),
		Value: message,
	})
	if err != nil {
		return fmt.Errorf("write message to kafka topic %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MessageHandler processes one consumed message.
type MessageHandler func(ctx context.Context, topic string, value []byte) error

type KafkaConsumer struct {
	reader *kafka.Reader
	logger *observability.Logger
}

func NewKafkaConsumer(brokers []string, topic, groupID string, logger *observability.Logger) *KafkaConsumer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		}),
		logger: logger.With("topic", topic, "group_id", groupID),
	}
}

// Consume reads until ctx is cancelled. Handler errors are logged and the
// offset still advances.
func (c *KafkaConsumer) Consume(ctx context.Context, handler MessageHandler) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to read message from kafka", "error", err)
			continue
		}

		if err := handler(ctx, m.Topic, m.Value); err != nil {
			c.logger.Error("failed to handle kafka message",
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

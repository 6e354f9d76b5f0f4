package main

import (
	"context"

	"github.com/sapliy/txrelay/internal/config"
	"github.com/sapliy/txrelay/internal/integration"
	"github.com/sapliy/txrelay/internal/ledger"
	"github.com/sapliy/txrelay/pkg/messaging"
	"github.com/sapliy/txrelay/pkg/observability"
)

// StartConsumer feeds account events from the broker into the projection
// until ctx is cancelled.
func StartConsumer(ctx context.Context, cfg config.Config, dispatcher *integration.Dispatcher, logger *observability.Logger) error {
	handle := func(ctx context.Context, topic string, value []byte) error {
		return dispatcher.Dispatch(ctx, topic, value)
	}

	switch cfg.Broker {
	case config.BrokerRabbitMQ:
		rc := messaging.DefaultConfig()
		rc.URL = cfg.RabbitMQURL
		rc.Exchange = cfg.Exchange
		client, err := messaging.NewRabbitMQClient(rc, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		queue := cfg.KafkaGroupID + "." + ledger.Topic
		if _, err := client.DeclareQueue(queue, ledger.Topic); err != nil {
			return err
		}
		logger.Info("rabbitmq consumer started", "queue", queue)
		return client.Consume(ctx, queue, handle)

	default:
		consumer := messaging.NewKafkaConsumer(cfg.KafkaBrokers, ledger.Topic, cfg.KafkaGroupID, logger)
		defer consumer.Close()

		logger.Info("kafka consumer started", "topic", ledger.Topic, "group_id", cfg.KafkaGroupID)
		consumer.Consume(ctx, handle)
		return nil
	}
}

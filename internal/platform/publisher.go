package platform

import (
	"fmt"

	"github.com/sapliy/txrelay/internal/config"
	"github.com/sapliy/txrelay/pkg/messaging"
	"github.com/sapliy/txrelay/pkg/observability"
)

// NewPublisher returns the broker client selected by BROKER.
func NewPublisher(cfg config.Config, logger *observability.Logger) (messaging.Publisher, error) {
	switch cfg.Broker {
	case config.BrokerKafka:
		return messaging.NewKafkaPublisher(cfg.KafkaBrokers, logger), nil
	case config.BrokerRabbitMQ:
		rc := messaging.DefaultConfig()
		rc.URL = cfg.RabbitMQURL
		if cfg.Exchange != "" {
			rc.Exchange = cfg.Exchange
		}
		return messaging.NewRabbitMQClient(rc, logger)
	}
	return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
}

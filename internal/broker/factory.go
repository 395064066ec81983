package broker

import (
	"fmt"

	"wikirelay/internal/config"
	"wikirelay/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, serviceName string, log logger.Logger, opts ...ProducerOption) (Producer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaProducer(cfg.Kafka, serviceName, log, opts...), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NewConsumer subscribes to the configured input topic.
func NewConsumer(cfg config.BrokerConfig, serviceName string, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaConsumer(cfg.Kafka, cfg.Kafka.InputTopic, serviceName, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

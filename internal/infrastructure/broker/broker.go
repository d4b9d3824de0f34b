// Package broker selects the queue driver named in the configuration.
package broker

import (
	"fmt"

	"vn.io.arda/greeting/internal/config"
	"vn.io.arda/greeting/internal/queue"
	"vn.io.arda/greeting/internal/queue/kafka"
	"vn.io.arda/greeting/internal/queue/memory"
	"vn.io.arda/greeting/internal/queue/rabbitmq"
)

// Open returns the driver for cfg.Driver.
func Open(cfg config.BrokerConfig) (queue.Broker, error) {
	switch cfg.Driver {
	case "amqp", "rabbitmq", "":
		return rabbitmq.New(rabbitmq.Config{
			URL:         cfg.URL,
			Heartbeat:   cfg.Heartbeat,
			DialTimeout: cfg.DialTimeout,
			Prefetch:    cfg.Prefetch,
		}), nil
	case "kafka":
		return kafka.New(kafka.Config{
			Brokers:       cfg.Brokers,
			ConsumerGroup: cfg.ConsumerGroup,
			ClientID:      cfg.ClientID,
		}), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}

// NewManager opens the configured driver and wraps it in a queue.Manager with the
// configured startup retry policy.
func NewManager(cfg config.BrokerConfig) (*queue.Manager, error) {
	b, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	opts := []queue.Option{queue.WithConnectRetries(cfg.ConnectRetries)}
	if cfg.ConnectBackoff > 0 {
		opts = append(opts, queue.WithConnectBackoff(cfg.ConnectBackoff, 10*cfg.ConnectBackoff))
	}
	return queue.NewManager(b, opts...), nil
}

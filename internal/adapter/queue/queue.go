package queue

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/pkg/config"
)

// MessageQueue defines the interface for a message queue adapter
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	Ping() error
	Close() error
}

// New connects the broker selected by cfg.Driver. An empty driver or
// "memory" keeps delivery inside the process.
func New(cfg config.QueueConfig, log *zap.Logger) (MessageQueue, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryQueue(log), nil
	case "nats":
		return NewNATSQueue(cfg, log)
	case "rabbitmq":
		return NewRabbitMQQueue(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

package queue

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/pkg/config"
)

type NATSQueue struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
	log  *zap.Logger
}

func NewNATSQueue(cfg config.QueueConfig, log *zap.Logger) (*NATSQueue, error) {
	url := cfg.NATSURL
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("voxdesk"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("Disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.NATSMaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.NATSMaxReconnects))
	}
	if cfg.NATSReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.NATSReconnectWait))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info("Successfully connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return &NATSQueue{
		conn: nc,
		log:  log,
	}, nil
}

func (q *NATSQueue) Publish(subject string, data []byte) error {
	return q.conn.Publish(subject, data)
}

// Subscribe joins a queue group named after the subject so that only one
// replica handles each message.
func (q *NATSQueue) Subscribe(subject string, handler func(data []byte) error) error {
	sub, err := q.conn.QueueSubscribe(subject, "voxdesk."+subject, func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			q.log.Error("Error processing message", zap.String("subject", subject), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	q.mu.Lock()
	q.subs = append(q.subs, sub)
	q.mu.Unlock()
	return nil
}

func (q *NATSQueue) Ping() error {
	if status := q.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection is %s", status)
	}
	return nil
}

// Close lets pending messages finish before closing the connection.
func (q *NATSQueue) Close() error {
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
		return err
	}
	return nil
}

package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName = "courier.dlx"
	connectTimeout  = 15 * time.Second
	minBackoff      = time.Second
	maxBackoff      = 30 * time.Second
)

// nextBackoff doubles d up to maxBackoff.
func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

// RabbitMQ owns the broker connection. Every channel it hands out has the
// event queues and their dead-letter queues declared on it.
type RabbitMQ struct {
	url    string
	queues []string

	mu     sync.RWMutex
	dialMu sync.Mutex
	conn   *amqp.Connection
}

func NewRabbitMQ(ctx context.Context, url string, queues ...string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if len(queues) == 0 {
		queues = []string{DefaultEventsQueue}
	}

	r := &RabbitMQ{url: url}
	for _, q := range queues {
		r.queues = append(r.queues, QueueName(q))
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// IsConnected reports whether the broker connection is open.
func (r *RabbitMQ) IsConnected() bool {
	return r.openConn() != nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

func (r *RabbitMQ) openConn() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn
}

// connection returns the live connection, redialling with backoff until ctx
// is done when there is none.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.openConn(); conn != nil {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	// Another caller may have redialled while we waited.
	if conn := r.openConn(); conn != nil {
		return conn, nil
	}

	for wait := minBackoff; ; wait = nextBackoff(wait) {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial %s: %w", redactURL(r.url), ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	var (
		ch  *amqp.Channel
		err error
	)
	// A connection can die between the liveness check and Channel(); one
	// redial covers that window.
	for try := 0; try < 2; try++ {
		var conn *amqp.Connection
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err == nil {
			break
		}
		_ = conn.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := declareTopology(ch, r.queues); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// declareTopology declares the dead-letter exchange and, per queue, a durable
// queue whose rejected messages route to dlq.<queue>.
func declareTopology(ch *amqp.Channel, queues []string) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", dlxExchangeName, err)
	}

	for _, queue := range queues {
		dlq := DLQName(queue)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %q: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, queue, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %q: %w", dlq, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": queue,
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %q: %w", queue, err)
		}
	}
	return nil
}

// redactURL hides credentials so broker URLs can appear in errors.
func redactURL(raw string) string {
	uri, err := amqp.ParseURI(raw)
	if err != nil {
		return "<invalid url>"
	}
	if uri.Password != "" {
		uri.Password = "xxxxx"
	}
	return uri.String()
}

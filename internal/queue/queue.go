package queue

import (
	"context"
	"fmt"
	"strings"
)

// Publisher publishes shipment events to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg ShipmentEventMessage) error
	Close() error
}

// MessageHandler handles a consumed shipment event. Returning an error that
// wraps domain.ErrValidation dead-letters the message; any other error
// requeues it.
type MessageHandler func(ctx context.Context, msg ShipmentEventMessage) error

// Consumer consumes shipment events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DefaultEventsQueue is used when no events queue is configured.
const DefaultEventsQueue = "shipment.events"

// QueueName normalizes a configured queue name.
func QueueName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultEventsQueue
	}
	return name
}

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.shipment.events.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", QueueName(queue))
}

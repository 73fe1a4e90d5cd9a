package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConfirmed is returned when the broker nacks a published event.
var ErrNotConfirmed = errors.New("broker did not confirm the event")

// RabbitMQPublisher publishes shipment events in confirm mode: Publish
// returns only after the broker has taken responsibility for the message.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg ShipmentEventMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	publishing, err := p.publishing(msg)
	if err != nil {
		return err
	}
	queue = QueueName(queue)

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // channel is per publish

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, publishing)
	if err != nil {
		return fmt.Errorf("publish event %s to %q: %w", msg.EventID, queue, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for event %s: %w", msg.EventID, err)
	}
	if !acked {
		return fmt.Errorf("event %s on %q: %w", msg.EventID, queue, ErrNotConfirmed)
	}
	return nil
}

// publishing validates msg and builds the persistent AMQP envelope for it.
func (p *RabbitMQPublisher) publishing(msg ShipmentEventMessage) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid shipment event: %w", err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode shipment event: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now(),
		MessageId:     msg.EventID,
		CorrelationId: msg.CorrelationID,
		Type:          strings.ToLower(string(msg.Kind)),
		Body:          payload,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

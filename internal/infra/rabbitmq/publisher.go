package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher owns one channel. Publishes are serialized because an amqp
// channel must not be used from several goroutines at once.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Close()
}

type StatusPublisher struct {
	pub *Publisher
}

func NewStatusPublisher(pub *Publisher) *StatusPublisher {
	return &StatusPublisher{pub: pub}
}

func (sp *StatusPublisher) PublishStatus(ctx context.Context, msg []byte) error {
	return sp.pub.publish(ctx, sp.pub.exchange, RoutingExportStatus, msg, nil)
}

type ExportRequestPublisher struct {
	pub *Publisher
}

func NewExportRequestPublisher(pub *Publisher) *ExportRequestPublisher {
	return &ExportRequestPublisher{pub: pub}
}

func (ep *ExportRequestPublisher) PublishExportRequest(ctx context.Context, msg []byte) error {
	return ep.pub.publish(ctx, ep.pub.exchange, RoutingExportRequested, msg, nil)
}

// DetectionPublisher hands detection runs to whatever consumes the
// detection queue. Nothing waits for an answer.
type DetectionPublisher struct {
	pub        *Publisher
	routingKey string
}

func NewDetectionPublisher(pub *Publisher, routingKey string) *DetectionPublisher {
	return &DetectionPublisher{pub: pub, routingKey: routingKey}
}

func (dp *DetectionPublisher) PublishDetectionRequest(ctx context.Context, msg []byte) error {
	return dp.pub.publish(ctx, dp.pub.exchange, dp.routingKey, msg, nil)
}

type DLQPublisher struct {
	pub   *Publisher
	queue string
}

func NewDLQPublisher(pub *Publisher, dlqQueue string) *DLQPublisher {
	return &DLQPublisher{pub: pub, queue: dlqQueue}
}

func (dp *DLQPublisher) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	return dp.pub.publish(ctx, "", dp.queue, msg, amqp.Table{"x-dlq-reason": reason})
}

package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RoutingExportRequested = "export.requested"
	RoutingExportStatus    = "export.status"
)

// Topology names the exchange and the durable queues the measurement
// processes share. Declaring it is idempotent, so the API and the worker
// both do it at startup.
type Topology struct {
	Exchange       string
	ExportQueue    string
	StatusQueue    string
	DLQ            string
	DetectionQueue string
}

func (t Topology) Declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(t.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, q := range []string{t.ExportQueue, t.StatusQueue, t.DLQ, t.DetectionQueue} {
		if q == "" {
			continue
		}
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	bindings := map[string]string{
		t.ExportQueue:    RoutingExportRequested,
		t.StatusQueue:    RoutingExportStatus,
		t.DetectionQueue: t.DetectionQueue,
	}
	for queue, key := range bindings {
		if queue == "" {
			continue
		}
		if err := ch.QueueBind(queue, key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

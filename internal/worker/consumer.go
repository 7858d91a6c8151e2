package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/lecture-queue/internal/metrics"
	"github.com/cuongbtq/lecture-queue/internal/queue"
	"github.com/cuongbtq/lecture-queue/shared/rabbitmq"
)

// WakeSource delivers wake messages published by the api-service
type WakeSource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// WakeConsumer turns broker messages into local wake signals. Messages are
// hints only: the queue table decides what runs next.
type WakeConsumer struct {
	source      WakeSource
	coord       *queue.Coordinator
	consumerTag string
	logger      *slog.Logger
}

// NewWakeConsumer creates a consumer that signals coord
func NewWakeConsumer(source WakeSource, coord *queue.Coordinator, consumerTag string, logger *slog.Logger) *WakeConsumer {
	if consumerTag == "" {
		consumerTag = "worker-" + uuid.NewString()[:8]
	}
	return &WakeConsumer{
		source:      source,
		coord:       coord,
		consumerTag: consumerTag,
		logger:      logger,
	}
}

// Start subscribes to the wake queue and dispatches in the background until
// ctx is canceled or the delivery channel closes.
func (c *WakeConsumer) Start(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", c.consumerTag),
	)

	go c.dispatch(ctx, deliveries)
	return nil
}

func (c *WakeConsumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Wake consumer stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed, relying on polling")
				return
			}
			c.handle(delivery.Body)
		}
	}
}

func (c *WakeConsumer) handle(body []byte) {
	var msg rabbitmq.WakeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(body)),
		)
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		c.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Debug("Wake message received",
		slog.String("job_id", msg.JobID),
	)
	c.coord.Signal()
	metrics.WakeSignal("rabbitmq")
}

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/lecture-queue/internal/queue"
	"github.com/cuongbtq/lecture-queue/shared/logger"
)

type fakeWakeSource struct {
	deliveries chan amqp.Delivery
	err        error
	tag        string
}

func (f *fakeWakeSource) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	f.tag = consumerTag
	if f.err != nil {
		return nil, f.err
	}
	return f.deliveries, nil
}

func TestWakeConsumer_Handle(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantSignal bool
	}{
		{name: "valid wake", body: `{"job_id":"` + uuid.NewString() + `"}`, wantSignal: true},
		{name: "malformed json", body: `{"job_id":`, wantSignal: false},
		{name: "job id not a uuid", body: `{"job_id":"abc"}`, wantSignal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := queue.NewCoordinator()
			c := NewWakeConsumer(&fakeWakeSource{}, coord, "test", logger.NewNop().Logger)

			c.handle([]byte(tt.body))
			assert.Equal(t, tt.wantSignal, coord.Raised())
		})
	}
}

func TestWakeConsumer_Start(t *testing.T) {
	t.Run("dispatches deliveries", func(t *testing.T) {
		source := &fakeWakeSource{deliveries: make(chan amqp.Delivery, 1)}
		coord := queue.NewCoordinator()
		c := NewWakeConsumer(source, coord, "", logger.NewNop().Logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, c.Start(ctx))
		assert.Contains(t, source.tag, "worker-")

		source.deliveries <- amqp.Delivery{Body: []byte(`{"job_id":"` + uuid.NewString() + `"}`)}

		select {
		case <-coord.Wait():
		case <-time.After(2 * time.Second):
			t.Fatal("wake signal not raised")
		}
	})

	t.Run("consume failure", func(t *testing.T) {
		source := &fakeWakeSource{err: errors.New("channel closed")}
		c := NewWakeConsumer(source, queue.NewCoordinator(), "test", logger.NewNop().Logger)

		err := c.Start(context.Background())
		assert.ErrorContains(t, err, "channel closed")
	})
}

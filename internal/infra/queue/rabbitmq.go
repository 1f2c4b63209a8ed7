package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"digestbot/internal/domain"
)

// RabbitDeliveryQueue реализует очередь доставки через AMQP 0-9-1.
type RabbitDeliveryQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewRabbitDeliveryQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitDeliveryQueue(amqpURL, queueName string) (*RabbitDeliveryQueue, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitDeliveryQueue{conn: conn, channel: ch, queue: queueName}, nil
}

// Close releases the AMQP channel and connection.
func (q *RabbitDeliveryQueue) Close() error {
	q.channel.Close()
	return q.conn.Close()
}

// Enqueue публикует задачу доставки в очередь.
func (q *RabbitDeliveryQueue) Enqueue(ctx context.Context, job domain.DeliveryJob) error {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.JobID,
		Body:         payload,
	})
}

// Pop блокирующе читает одну задачу через ручной Get, чтобы избежать
// поддержания долгоживущего consumer-канала на каждого воркера.
func (q *RabbitDeliveryQueue) Pop(ctx context.Context) (domain.DeliveryJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DeliveryJob{}, err
		}
		msg, ok, err := q.channel.Get(q.queue, false)
		if err != nil {
			return domain.DeliveryJob{}, fmt.Errorf("get message: %w", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return domain.DeliveryJob{}, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		var job domain.DeliveryJob
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			_ = msg.Nack(false, false)
			return domain.DeliveryJob{}, fmt.Errorf("decode job: %w", err)
		}
		if err := msg.Ack(false); err != nil {
			return domain.DeliveryJob{}, fmt.Errorf("ack message: %w", err)
		}
		return job, nil
	}
}

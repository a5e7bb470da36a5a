package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// AMQPQueue publishes job ids to a durable RabbitMQ queue and consumes them
// with manual acknowledgement.
type AMQPQueue struct {
	url   string
	queue string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPQueue(url, queue string) (*AMQPQueue, error) {
	q := &AMQPQueue{url: url, queue: queue}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

// connect must be called with q.mu held.
func (q *AMQPQueue) connect() error {
	conn, err := amqp.DialConfig(q.url, amqp.Config{
		Heartbeat: 30 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp declare %s: %w", q.queue, err)
	}
	q.conn, q.channel = conn, ch
	log.Info().Str("queue", q.queue).Msg("amqp connection established")
	return nil
}

func (q *AMQPQueue) ensure() error {
	if q.conn == nil || q.channel == nil || q.conn.IsClosed() {
		return q.connect()
	}
	return nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensure(); err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := q.channel.PublishWithContext(pubCtx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(jobID),
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	log.Debug().Str("queue", q.queue).Str("job_id", jobID).Msg("job published")
	return nil
}

// Start consumes until ctx is cancelled, reconnecting with capped
// exponential backoff when the broker drops the connection.
func (q *AMQPQueue) Start(ctx context.Context, workers int, h Handler) error {
	if workers < 1 {
		workers = 1
	}
	deliveries, err := q.consume(workers)
	if err != nil {
		return err
	}

	go func() {
		for {
			var wg sync.WaitGroup
			for w := 1; w <= workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					q.work(ctx, w, deliveries, h)
				}(w)
			}
			wg.Wait()

			if ctx.Err() != nil {
				return
			}
			log.Warn().Str("queue", q.queue).Msg("amqp deliveries closed, reconnecting")
			deliveries = q.reconsume(ctx, workers)
			if deliveries == nil {
				return
			}
		}
	}()
	return nil
}

func (q *AMQPQueue) work(ctx context.Context, w int, deliveries <-chan amqp.Delivery, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			jobID := string(d.Body)
			if err := h(ctx, jobID); err != nil {
				log.Error().Err(err).Int("worker", w).Str("job_id", jobID).Msg("job handler failed")
			}
			// Outcomes live on the job record, so every delivery is acked.
			if err := d.Ack(false); err != nil {
				log.Warn().Err(err).Str("job_id", jobID).Msg("amqp ack failed")
			}
		}
	}
}

func (q *AMQPQueue) consume(prefetch int) (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensure(); err != nil {
		return nil, err
	}
	if err := q.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	d, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	log.Info().Str("queue", q.queue).Int("prefetch", prefetch).Msg("started consuming jobs")
	return d, nil
}

func (q *AMQPQueue) reconsume(ctx context.Context, prefetch int) <-chan amqp.Delivery {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		d, err := q.consume(prefetch)
		if err == nil {
			return d
		}
		log.Error().Err(err).Dur("backoff", backoff).Msg("amqp reconnect failed")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}

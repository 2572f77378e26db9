package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/Pragya1904/HTTP-Inventory/internal/backoff"
)

// ConsumerConfig configures the worker-side queue attachment.
type ConsumerConfig struct {
	URL            string
	Queue          string
	QueueMaxLength int
	Prefetch       int
	Backoff        backoff.Schedule
}

// Consumer attaches to the durable metadata queue with manual acknowledgement
// and a bounded prefetch. The worker loop drives it; Reconnect is invoked when
// the delivery channel closes underneath a running worker.
type Consumer struct {
	cfg ConsumerConfig
	log zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	tag  string
}

func NewConsumer(cfg ConsumerConfig, log zerolog.Logger) *Consumer {
	return &Consumer{
		cfg: cfg,
		log: log.With().Str("component", "rmq_consumer").Logger(),
	}
}

// Connect dials the broker with the shared backoff schedule. Exhausting the
// schedule is fatal at startup.
func (c *Consumer) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Backoff.MaxAttempts; attempt++ {
		delay := c.cfg.Backoff.Delay(attempt)
		c.log.Info().
			Str("event", "rmq_connect_attempt").
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("connecting to broker")

		err := c.dialAndDeclare()
		if err == nil {
			return nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("broker connect failed")
		if attempt == c.cfg.Backoff.MaxAttempts {
			break
		}
		if err := c.cfg.Backoff.Sleep(ctx, attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("broker connect exhausted %d attempts: %w", c.cfg.Backoff.MaxAttempts, lastErr)
}

func (c *Consumer) dialAndDeclare() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	// Declaration must match the publisher side exactly.
	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{
			"x-max-length": c.cfg.QueueMaxLength,
			"x-overflow":   "reject-publish",
		},
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.mu.Unlock()
	return nil
}

// Subscribe starts delivering messages with manual acknowledgement.
func (c *Consumer) Subscribe() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil, fmt.Errorf("consumer not connected")
	}
	c.tag = fmt.Sprintf("metadata-worker-%d", time.Now().UnixNano())
	deliveries, err := c.ch.Consume(
		c.cfg.Queue,
		c.tag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

// Reconnect re-dials and re-subscribes after the broker dropped the
// connection. Bounded by the backoff schedule; exhausting it is fatal for the
// worker process.
func (c *Consumer) Reconnect(ctx context.Context) (<-chan amqp.Delivery, error) {
	c.teardown()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Backoff.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Info().
			Str("event", "rmq_reconnect_attempt").
			Int("attempt", attempt).
			Msg("reconnecting to broker")

		if err := c.dialAndDeclare(); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("broker reconnect failed")
			if attempt == c.cfg.Backoff.MaxAttempts {
				break
			}
			if err := c.cfg.Backoff.Sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		deliveries, err := c.Subscribe()
		if err != nil {
			lastErr = err
			c.teardown()
			continue
		}
		c.log.Info().Str("event", "rmq_reconnected").Msg("broker connection restored")
		return deliveries, nil
	}
	return nil, fmt.Errorf("broker reconnect exhausted %d attempts: %w", c.cfg.Backoff.MaxAttempts, lastErr)
}

// Cancel stops new deliveries so in-flight processing can drain. Unacked
// deliveries are redelivered by the broker once the channel closes.
func (c *Consumer) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil || c.tag == "" {
		return nil
	}
	return c.ch.Cancel(c.tag, false)
}

func (c *Consumer) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.tag = ""
}

// Close releases the channel and connection.
func (c *Consumer) Close() error {
	c.teardown()
	return nil
}

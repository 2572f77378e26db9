package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/Pragya1904/HTTP-Inventory/internal/backoff"
	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
	"github.com/Pragya1904/HTTP-Inventory/internal/messaging"
	"github.com/Pragya1904/HTTP-Inventory/internal/metrics"
)

// PublisherConfig configures the confirm-mode publisher.
type PublisherConfig struct {
	URL            string
	Queue          string
	QueueMaxLength int
	ConfirmTimeout time.Duration
	Backoff        backoff.Schedule
}

// Publisher is a state machine over a single confirm-mode channel to the
// durable metadata queue.
//
// Lifecycle:
//
//	DISCONNECTED -> CONNECTING -> CONNECTED -> CHANNEL_OPEN ->
//	CONFIRM_ENABLED -> QUEUE_DECLARED -> READY
//	READY --connection loss--> RECONNECTING -> CONNECTING -> ...
//	any --Close()--> CLOSING -> CLOSED
//
// The publish mutex serializes publishes and is the only thing preventing a
// reconnect from tearing down the channel under an in-flight publish.
type Publisher struct {
	cfg PublisherConfig
	log zerolog.Logger

	state atomic.Int32

	mu        sync.Mutex // publish lock; guards conn/ch/confirmCh mutation
	conn      *amqp.Connection
	ch        *amqp.Channel
	confirmCh <-chan amqp.Confirmation
	// deliveryTag counts publishes on the current channel; broker confirms
	// carry the same sequence, which lets the wait discard confirms owed to
	// an earlier timed-out publish.
	deliveryTag uint64

	closing      atomic.Bool
	reconnecting atomic.Bool
}

func NewPublisher(cfg PublisherConfig, log zerolog.Logger) *Publisher {
	return &Publisher{
		cfg: cfg,
		log: log.With().Str("component", "rmq_publisher").Logger(),
	}
}

func (p *Publisher) State() messaging.State {
	return messaging.State(p.state.Load())
}

func (p *Publisher) Ready() bool {
	return p.State() == messaging.StateReady
}

func (p *Publisher) setState(s messaging.State) {
	p.state.Store(int32(s))
}

// Connect dials the broker with exponential backoff and walks the state
// machine to READY. Exhausting the schedule is fatal at startup.
func (p *Publisher) Connect(ctx context.Context) error {
	p.setState(messaging.StateConnecting)

	var lastErr error
	for attempt := 1; attempt <= p.cfg.Backoff.MaxAttempts; attempt++ {
		delay := p.cfg.Backoff.Delay(attempt)
		p.log.Info().
			Str("event", "rmq_connect_attempt").
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("connecting to broker")

		conn, err := amqp.Dial(p.cfg.URL)
		if err == nil {
			p.mu.Lock()
			p.conn = conn
			p.setState(messaging.StateConnected)
			err = p.openChannelAndDeclareLocked()
			p.mu.Unlock()
			if err == nil {
				p.watchClose(conn)
				return nil
			}
			_ = conn.Close()
		}
		lastErr = err
		p.log.Warn().Err(err).Int("attempt", attempt).Msg("broker connect failed")
		if attempt == p.cfg.Backoff.MaxAttempts {
			break
		}
		if err := p.cfg.Backoff.Sleep(ctx, attempt); err != nil {
			p.setState(messaging.StateDisconnected)
			return err
		}
	}

	p.setState(messaging.StateDisconnected)
	return fmt.Errorf("broker connect exhausted %d attempts: %w", p.cfg.Backoff.MaxAttempts, lastErr)
}

// openChannelAndDeclareLocked opens the channel, enables confirms, and
// declares the queue. Caller holds p.mu and has set p.conn.
func (p *Publisher) openChannelAndDeclareLocked() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	p.setState(messaging.StateChannelOpen)

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("confirm mode: %w", err)
	}
	p.setState(messaging.StateConfirmEnabled)

	// Must be registered after Confirm. Capacity 1 is enough: the publish
	// lock keeps at most one publish in flight.
	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	// Declaration must match the consumer side exactly.
	if _, err := ch.QueueDeclare(
		p.cfg.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{
			"x-max-length": p.cfg.QueueMaxLength,
			"x-overflow":   "reject-publish",
		},
	); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	p.setState(messaging.StateQueueDeclared)

	p.ch = ch
	p.deliveryTag = 0
	p.setState(messaging.StateReady)
	return nil
}

func (p *Publisher) watchClose(conn *amqp.Connection) {
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		amqpErr, ok := <-closeCh
		if !ok || p.closing.Load() {
			return
		}
		reason := "connection closed"
		if amqpErr != nil {
			reason = amqpErr.Error()
		}
		p.log.Warn().Str("event", "broker_disconnect_detected").Str("reason", reason).Msg("broker connection lost")
		p.setState(messaging.StateReconnecting)
		p.startReconnect()
	}()
}

// Publish sends one envelope with persistent delivery and waits for the broker
// confirm. Fails fast when the state machine is not READY.
func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	if p.State() != messaging.StateReady {
		p.log.Warn().
			Str("event", "publish_rejected").
			Str("reason", "publisher_not_ready").
			Str("state", p.State().String()).
			Msg("publish rejected")
		metrics.RecordPublish("not_ready")
		return messaging.ErrPublisherNotReady
	}

	start := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		metrics.RecordPublish("connection_lost")
		return messaging.ErrConnectionLost
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(
		pubCtx,
		"",          // default exchange
		p.cfg.Queue, // routing key == queue name
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.RequestID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		p.log.Warn().
			Str("event", "publish_failed").
			Str("reason", "connection_lost").
			Str("request_id", env.RequestID).
			Str("url", env.URL).
			Err(err).
			Msg("publish failed")
		metrics.RecordPublish("connection_lost")
		p.setState(messaging.StateReconnecting)
		p.startReconnect()
		return fmt.Errorf("%w: %v", messaging.ErrConnectionLost, err)
	}

	p.deliveryTag++

	acked, err := awaitConfirm(ctx, p.confirmCh, p.deliveryTag, p.cfg.ConfirmTimeout)
	switch {
	case errors.Is(err, messaging.ErrConnectionLost):
		metrics.RecordPublish("connection_lost")
		p.setState(messaging.StateReconnecting)
		p.startReconnect()
		return messaging.ErrConnectionLost
	case errors.Is(err, messaging.ErrPublishTimeout):
		p.log.Warn().
			Str("event", "publish_failed").
			Str("reason", "publisher_timeout").
			Str("request_id", env.RequestID).
			Str("url", env.URL).
			Msg("confirm wait timed out")
		metrics.RecordPublish("timeout")
		// The broker still owes a confirm for this publish. Tear the channel
		// down so the stale confirm can never be mistaken for a later one.
		p.teardownLocked()
		p.setState(messaging.StateReconnecting)
		p.startReconnect()
		return messaging.ErrPublishTimeout
	case err != nil:
		metrics.RecordPublish("timeout")
		p.teardownLocked()
		p.setState(messaging.StateReconnecting)
		p.startReconnect()
		return err
	case !acked:
		// reject-publish overflow surfaces as a broker nack.
		p.log.Warn().
			Str("event", "publish_rejected").
			Str("reason", "queue_rejected").
			Str("request_id", env.RequestID).
			Str("url", env.URL).
			Msg("broker nacked publish")
		metrics.RecordPublish("rejected")
		return messaging.ErrQueueRejected
	}

	p.log.Info().
		Str("event", "publish_success").
		Str("request_id", env.RequestID).
		Str("url", env.URL).
		Float64("latency_ms", float64(time.Since(start).Microseconds())/1000).
		Msg("published")
	metrics.RecordPublish("success")
	return nil
}

// awaitConfirm waits for the broker confirmation carrying tag. Confirms with
// a lower tag belong to an earlier publish whose waiter already gave up and
// are discarded. A closed channel means the connection died underneath us.
func awaitConfirm(ctx context.Context, confirmCh <-chan amqp.Confirmation, tag uint64, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case c, ok := <-confirmCh:
			if !ok {
				return false, messaging.ErrConnectionLost
			}
			if c.DeliveryTag < tag {
				continue
			}
			return c.Ack, nil
		case <-timer.C:
			return false, messaging.ErrPublishTimeout
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (p *Publisher) startReconnect() {
	if p.closing.Load() {
		return
	}
	if !p.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go p.reconnectLoop()
}

// reconnectLoop runs until the state machine is back to READY or Close() was
// called. It uses the connect backoff schedule but never gives up: losing the
// broker is not fatal for a running API.
func (p *Publisher) reconnectLoop() {
	defer p.reconnecting.Store(false)

	for attempt := 1; ; attempt++ {
		if p.closing.Load() {
			return
		}
		p.log.Info().
			Str("event", "rmq_reconnect_attempt").
			Int("attempt", attempt).
			Msg("reconnecting to broker")

		conn, err := amqp.Dial(p.cfg.URL)
		if err == nil {
			p.mu.Lock()
			if p.closing.Load() {
				p.mu.Unlock()
				_ = conn.Close()
				return
			}
			p.teardownLocked()
			p.conn = conn
			p.setState(messaging.StateConnected)
			err = p.openChannelAndDeclareLocked()
			p.mu.Unlock()
			if err == nil {
				p.watchClose(conn)
				p.log.Info().Str("event", "rmq_reconnected").Msg("broker connection restored")
				return
			}
			_ = conn.Close()
		}
		p.log.Warn().Err(err).Int("attempt", attempt).Msg("broker reconnect failed")
		time.Sleep(p.cfg.Backoff.Delay(attempt))
	}
}

// teardownLocked closes the channel and connection. Caller holds p.mu.
func (p *Publisher) teardownLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.confirmCh = nil
	p.deliveryTag = 0
}

// Close drains any in-flight publish (via the publish lock), then closes the
// channel and connection.
func (p *Publisher) Close(ctx context.Context) error {
	p.closing.Store(true)
	p.setState(messaging.StateClosing)
	p.log.Info().Str("event", "publisher_shutdown").Msg("closing publisher")

	p.mu.Lock()
	p.teardownLocked()
	p.mu.Unlock()

	p.setState(messaging.StateClosed)
	return nil
}

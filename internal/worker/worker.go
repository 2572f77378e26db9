package worker

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/Pragya1904/HTTP-Inventory/internal/metrics"
)

// Subscription is the consumer-side broker port. The RabbitMQ consumer
// implements it; tests substitute a channel-backed fake.
type Subscription interface {
	// Subscribe opens a manual-ack delivery stream.
	Subscribe() (<-chan amqp.Delivery, error)
	// Reconnect rebuilds the connection after the stream closes and returns
	// a fresh stream, or an error once its attempts are exhausted.
	Reconnect(ctx context.Context) (<-chan amqp.Delivery, error)
	// Cancel stops new deliveries so in-flight work can drain.
	Cancel() error
}

// Worker runs the consume loop: one delivery at a time, processed to a
// terminal store transition, then acked or requeued.
type Worker struct {
	sub       Subscription
	processor *Processor
	grace     time.Duration
	log       zerolog.Logger

	// processing is held for the full lifetime of one delivery so shutdown
	// can wait for the in-flight message.
	processing sync.Mutex
}

func New(sub Subscription, processor *Processor, grace time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		sub:       sub,
		processor: processor,
		grace:     grace,
		log:       log.With().Str("component", "worker").Logger(),
	}
}

// Run consumes until ctx is cancelled. A closed delivery channel triggers a
// reconnect; cancellation triggers a drain bounded by the shutdown grace.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.sub.Subscribe()
	if err != nil {
		return err
	}
	w.log.Info().Str("event", "worker_started").Msg("consuming deliveries")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case d, open := <-deliveries:
			if !open {
				if ctx.Err() != nil {
					w.drain()
					return ctx.Err()
				}
				deliveries, err = w.sub.Reconnect(ctx)
				if err != nil {
					return err
				}
				continue
			}
			w.handle(d)
		}
	}
}

// handle processes one delivery with a fresh context so a shutdown signal
// never cancels a fetch mid-flight; the grace deadline is enforced by the
// caller of Run, not by interrupting the message.
func (w *Worker) handle(d amqp.Delivery) {
	w.processing.Lock()
	defer w.processing.Unlock()

	procCtx, cancel := context.WithTimeout(context.Background(), w.grace)
	defer cancel()

	outcome, err := w.processor.Process(procCtx, d.Body)
	if err != nil {
		// Store write failed mid-transition; requeue and let the idempotent
		// upserts absorb the redo.
		w.log.Error().Err(err).
			Str("event", "processing_error").
			Str("message_id", d.MessageId).
			Msg("requeueing after store failure")
		metrics.RecordProcessed("error")
		w.nack(d, true)
		return
	}

	metrics.RecordProcessed(outcome.String())
	switch outcome {
	case OutcomeRetryableFailure:
		w.nack(d, true)
	default:
		// Completed, permanent failures, and malformed messages all leave
		// the queue.
		if err := d.Ack(false); err != nil {
			w.log.Error().Err(err).
				Str("message_id", d.MessageId).
				Msg("ack failed")
		}
	}
}

func (w *Worker) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		w.log.Error().Err(err).
			Str("message_id", d.MessageId).
			Msg("nack failed")
	}
}

// drain stops new deliveries and waits for the in-flight one, bounded by the
// shutdown grace.
func (w *Worker) drain() {
	w.log.Info().Str("event", "worker_stopping").Msg("draining in-flight work")
	if err := w.sub.Cancel(); err != nil {
		w.log.Warn().Err(err).Msg("consumer cancel failed")
	}

	done := make(chan struct{})
	go func() {
		// Acquiring the lock is the wait for the in-flight delivery.
		w.processing.Lock()
		defer w.processing.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.grace):
		w.log.Warn().Msg("shutdown grace elapsed with work in flight")
	}
	w.log.Info().Str("event", "worker_stop").Msg("worker stopped")
}

// Package inmemory provides a broker-less publisher for tests and local runs
// (PUBLISHER_BACKEND=inmemory). It reports READY immediately and buffers
// envelopes up to the configured queue length.
package inmemory

import (
	"context"
	"sync"

	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
	"github.com/Pragya1904/HTTP-Inventory/internal/messaging"
)

type Publisher struct {
	mu     sync.Mutex
	max    int
	buf    []domain.Envelope
	closed bool
}

func New(maxLength int) *Publisher {
	if maxLength < 1 {
		maxLength = 1
	}
	return &Publisher{max: maxLength}
}

func (p *Publisher) Connect(ctx context.Context) error { return nil }

func (p *Publisher) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *Publisher) State() messaging.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return messaging.StateClosed
	}
	return messaging.StateReady
}

func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return messaging.ErrPublisherNotReady
	}
	if len(p.buf) >= p.max {
		return messaging.ErrQueueRejected
	}
	p.buf = append(p.buf, env)
	return nil
}

func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Messages returns a copy of the buffered envelopes.
func (p *Publisher) Messages() []domain.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Envelope, len(p.buf))
	copy(out, p.buf)
	return out
}

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
	"github.com/Pragya1904/HTTP-Inventory/internal/fetcher"
)

type fakeAck struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAck) counts() (int, int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks, a.requeue
}

type fakeSub struct {
	mu         sync.Mutex
	streams    []chan amqp.Delivery
	subscribes int
	reconnects int
	cancels    int
	recErr     error
}

func (s *fakeSub) push(stream chan amqp.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append(s.streams, stream)
}

func (s *fakeSub) next() chan amqp.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		ch := make(chan amqp.Delivery)
		s.streams = append(s.streams, ch)
	}
	stream := s.streams[0]
	s.streams = s.streams[1:]
	return stream
}

func (s *fakeSub) Subscribe() (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	s.subscribes++
	s.mu.Unlock()
	return s.next(), nil
}

func (s *fakeSub) Reconnect(ctx context.Context) (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	s.reconnects++
	err := s.recErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.next(), nil
}

func (s *fakeSub) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

func newTestWorker(sub Subscription, repo *fakeRepo, f Fetcher) *Worker {
	proc := NewProcessor(repo, f, 3, 1000, zerolog.Nop())
	return New(sub, proc, 2*time.Second, zerolog.Nop())
}

func delivery(t *testing.T, ack *fakeAck, url string) amqp.Delivery {
	t.Helper()
	return amqp.Delivery{
		Acknowledger: ack,
		Body:         envelopeBody(t, url),
		MessageId:    "req-1",
	}
}

func runWorker(t *testing.T, w *Worker, ctx context.Context) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestWorkerAcksCompleted(t *testing.T) {
	ack := &fakeAck{}
	stream := make(chan amqp.Delivery, 1)
	sub := &fakeSub{}
	sub.push(stream)

	repo := &fakeRepo{
		markCompletedFn: func(context.Context, string, string, int, domain.Metadata) error { return nil },
	}
	f := &fakeFetcher{fetchFn: func(context.Context, string) (*domain.FetchResult, error) {
		return &domain.FetchResult{StatusCode: 200}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runWorker(t, newTestWorker(sub, repo, f), ctx)

	stream <- delivery(t, ack, "http://example.com/")
	waitFor(t, func() bool { acks, _, _ := ack.counts(); return acks == 1 })

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	acks, nacks, _ := ack.counts()
	require.Equal(t, 1, acks)
	require.Zero(t, nacks)
}

func TestWorkerRequeuesRetryableFailure(t *testing.T) {
	ack := &fakeAck{}
	stream := make(chan amqp.Delivery, 1)
	sub := &fakeSub{}
	sub.push(stream)

	repo := &fakeRepo{
		markRetryableFn: func(context.Context, string, string, int, string) error { return nil },
	}
	f := &fakeFetcher{fetchFn: func(context.Context, string) (*domain.FetchResult, error) {
		return nil, errTransient
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runWorker(t, newTestWorker(sub, repo, f), ctx)

	stream <- delivery(t, ack, "http://example.com/")
	waitFor(t, func() bool { _, nacks, _ := ack.counts(); return nacks == 1 })

	cancel()
	<-done
	_, nacks, requeue := ack.counts()
	require.Equal(t, 1, nacks)
	require.True(t, requeue)
}

func TestWorkerAcksMalformed(t *testing.T) {
	ack := &fakeAck{}
	stream := make(chan amqp.Delivery, 1)
	sub := &fakeSub{}
	sub.push(stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runWorker(t, newTestWorker(sub, &fakeRepo{}, &fakeFetcher{}), ctx)

	stream <- amqp.Delivery{Acknowledger: ack, Body: []byte("garbage")}
	waitFor(t, func() bool { acks, _, _ := ack.counts(); return acks == 1 })

	cancel()
	<-done
	acks, nacks, _ := ack.counts()
	require.Equal(t, 1, acks)
	require.Zero(t, nacks)
}

func TestWorkerRequeuesOnStoreError(t *testing.T) {
	ack := &fakeAck{}
	stream := make(chan amqp.Delivery, 1)
	sub := &fakeSub{}
	sub.push(stream)

	repo := &fakeRepo{
		ensurePendingFn: func(context.Context, string, string) error { return errors.New("store down") },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runWorker(t, newTestWorker(sub, repo, &fakeFetcher{}), ctx)

	stream <- delivery(t, ack, "http://example.com/")
	waitFor(t, func() bool { _, nacks, _ := ack.counts(); return nacks == 1 })

	cancel()
	<-done
	_, nacks, requeue := ack.counts()
	require.Equal(t, 1, nacks)
	require.True(t, requeue)
}

func TestWorkerReconnectsOnClosedStream(t *testing.T) {
	ack := &fakeAck{}
	first := make(chan amqp.Delivery)
	second := make(chan amqp.Delivery, 1)
	sub := &fakeSub{}
	sub.push(first)
	sub.push(second)

	repo := &fakeRepo{
		markCompletedFn: func(context.Context, string, string, int, domain.Metadata) error { return nil },
	}
	f := &fakeFetcher{fetchFn: func(context.Context, string) (*domain.FetchResult, error) {
		return &domain.FetchResult{StatusCode: 200}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runWorker(t, newTestWorker(sub, repo, f), ctx)

	close(first)
	second <- delivery(t, ack, "http://example.com/")
	waitFor(t, func() bool { acks, _, _ := ack.counts(); return acks == 1 })

	sub.mu.Lock()
	reconnects := sub.reconnects
	sub.mu.Unlock()
	require.Equal(t, 1, reconnects)

	cancel()
	<-done
}

func TestWorkerReconnectExhaustionStops(t *testing.T) {
	first := make(chan amqp.Delivery)
	sub := &fakeSub{recErr: errors.New("broker reconnect exhausted")}
	sub.push(first)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runWorker(t, newTestWorker(sub, &fakeRepo{}, &fakeFetcher{}), ctx)

	close(first)
	err := <-done
	require.Error(t, err)
	require.NotErrorIs(t, err, context.Canceled)
}

func TestWorkerDrainCancelsSubscription(t *testing.T) {
	stream := make(chan amqp.Delivery)
	sub := &fakeSub{}
	sub.push(stream)

	ctx, cancel := context.WithCancel(context.Background())
	done := runWorker(t, newTestWorker(sub, &fakeRepo{}, &fakeFetcher{}), ctx)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Equal(t, 1, sub.cancels)
}

var errTransient = fetcher.Retryable("http status 503")

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
	"github.com/Pragya1904/HTTP-Inventory/internal/messaging"
)

func TestPublishBuffers(t *testing.T) {
	p := New(10)
	require.NoError(t, p.Connect(context.Background()))
	require.True(t, p.Ready())
	require.Equal(t, messaging.StateReady, p.State())

	env := domain.Envelope{URL: "http://example.com/", RequestID: "r1"}
	require.NoError(t, p.Publish(context.Background(), env))
	require.Equal(t, []domain.Envelope{env}, p.Messages())
}

func TestPublishRejectsAtCapacity(t *testing.T) {
	p := New(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Publish(context.Background(), domain.Envelope{URL: "http://example.com/"}))
	}
	err := p.Publish(context.Background(), domain.Envelope{URL: "http://example.com/"})
	require.ErrorIs(t, err, messaging.ErrQueueRejected)
}

func TestPublishAfterClose(t *testing.T) {
	p := New(10)
	require.NoError(t, p.Close(context.Background()))
	require.False(t, p.Ready())
	require.Equal(t, messaging.StateClosed, p.State())

	err := p.Publish(context.Background(), domain.Envelope{URL: "http://example.com/"})
	require.ErrorIs(t, err, messaging.ErrPublisherNotReady)
}

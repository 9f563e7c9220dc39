package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iowanobos/mq-source/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionReceivesInOrder(t *testing.T) {
	b := New()
	b.PublishText("Q1", "a", "b", "c")

	s, err := b.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	require.NoError(t, err)
	defer s.Close()

	for _, want := range []string{"a", "b", "c"} {
		d, err := s.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, string(d.Body()))
		assert.Equal(t, "text/plain", d.Headers().ContentType())
		require.NoError(t, d.Ack(context.Background()))
	}
	assert.Equal(t, 3, b.Acked())
	assert.Equal(t, 0, b.Pending("Q1"))
}

func TestNackRedeliversFirst(t *testing.T) {
	b := New()
	b.PublishText("Q1", "a", "b")

	s, err := b.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	require.NoError(t, err)

	d, err := s.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Nack(context.Background()))

	d, err = s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", string(d.Body()))
}

func TestReceiveBlocksUntilPublish(t *testing.T) {
	b := New()
	s, err := b.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.PublishText("Q1", "late")
	}()

	d, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", string(d.Body()))
}

func TestReceiveHonoursContext(t *testing.T) {
	b := New()
	s, err := b.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreakAndHeal(t *testing.T) {
	b := New()
	s, err := b.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	require.NoError(t, err)

	lost := errors.New("connection lost")
	b.Break(lost)

	_, err = s.Receive(context.Background())
	assert.ErrorIs(t, err, lost)

	_, err = b.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	assert.ErrorIs(t, err, lost)

	b.Heal()
	_, err = b.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	assert.NoError(t, err)
	assert.Equal(t, 2, b.Opened())
}

func TestRequireCredentials(t *testing.T) {
	b := New()
	b.RequireCredentials("mqm", "1920")

	_, err := b.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	assert.ErrorIs(t, err, broker.ErrUnauthorized)

	_, err = b.Open(context.Background(), broker.Subscription{Destination: "Q1", Username: "mqm", Password: "1920"})
	assert.NoError(t, err)
	assert.True(t, b.LastSubscription().Secured())
}

func TestCloseReleasesSession(t *testing.T) {
	b := New()
	s, err := b.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Live())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, b.Live())
	assert.ErrorIs(t, s.Close(), broker.ErrSessionClosed)

	_, err = s.Receive(context.Background())
	assert.ErrorIs(t, err, broker.ErrSessionClosed)
}

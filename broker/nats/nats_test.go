package nats

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/iowanobos/mq-source/broker"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startJetStream runs an embedded server with a stream named QM1 that
// captures subject Q1.
func startJetStream(t *testing.T, opts *server.Options) (broker.ConnectionDescriptor, jetstream.JetStream) {
	t.Helper()

	opts.Host = "127.0.0.1"
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	opts.NoLog = true

	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "embedded nats not ready")

	connectOpts := []nats.Option{nats.Timeout(2 * time.Second)}
	if opts.Username != "" {
		connectOpts = append(connectOpts, nats.UserInfo(opts.Username, opts.Password))
	}
	nc, err := nats.Connect(ns.ClientURL(), connectOpts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{Name: "QM1", Subjects: []string{"Q1"}})
	require.NoError(t, err)

	return broker.ConnectionDescriptor{
		Host:             "127.0.0.1",
		Port:             ns.Addr().(*net.TCPAddr).Port,
		Channel:          "Channel1",
		QueueManager:     "QM1",
		TransportMode:    broker.TransportClient,
		ReconnectTimeout: 2 * time.Second,
	}, js
}

func publishText(t *testing.T, js jetstream.JetStream, texts ...string) {
	t.Helper()
	for _, text := range texts {
		msg := nats.NewMsg("Q1")
		msg.Header.Set(broker.HeaderContentType, "text/plain")
		msg.Data = []byte(text)
		_, err := js.PublishMsg(context.Background(), msg)
		require.NoError(t, err)
	}
}

func TestNewFactoryValidatesDescriptor(t *testing.T) {
	_, err := NewFactory(broker.ConnectionDescriptor{Host: "localhost", Port: 4222})
	assert.Error(t, err)

	_, err = NewFactory(broker.ConnectionDescriptor{Host: "localhost", Port: 4222, Channel: "c", QueueManager: "qm"})
	assert.NoError(t, err)
}

func TestConsumerConfigProperties(t *testing.T) {
	desc := broker.ConnectionDescriptor{Channel: "Channel1", QueueManager: "QM1"}

	config, err := consumerConfig(desc, broker.Subscription{
		Destination: "Q1",
		Properties: map[string]string{
			PropertyAckWait:       "5s",
			PropertyMaxDeliver:    "3",
			PropertyDeliverPolicy: "new",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Channel1", config.Durable)
	assert.Equal(t, "Q1", config.FilterSubject)
	assert.Equal(t, jetstream.AckExplicitPolicy, config.AckPolicy)
	assert.Equal(t, 5*time.Second, config.AckWait)
	assert.Equal(t, 3, config.MaxDeliver)
	assert.Equal(t, jetstream.DeliverNewPolicy, config.DeliverPolicy)

	_, err = consumerConfig(desc, broker.Subscription{
		Destination: "Q1",
		Properties:  map[string]string{PropertyDeliverPolicy: "sometimes"},
	})
	assert.ErrorIs(t, err, broker.ErrInvalidProperty)
}

func TestSessionReceivesAndAcks(t *testing.T) {
	desc, js := startJetStream(t, &server.Options{})
	publishText(t, js, "a", "b")

	f, err := NewFactory(desc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := f.Open(ctx, broker.Subscription{Destination: "Q1"})
	require.NoError(t, err)
	defer s.Close()

	for _, want := range []string{"a", "b"} {
		d, err := s.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(d.Body()))
		assert.Equal(t, "text/plain", d.Headers().ContentType())

		subject, ok := d.Headers().Get(HeaderSubject)
		assert.True(t, ok)
		assert.Equal(t, "Q1", subject)

		require.NoError(t, d.Ack(ctx))
	}
}

func TestReceiveReturnsOnCancel(t *testing.T) {
	desc, _ := startJetStream(t, &server.Options{})

	f, err := NewFactory(desc)
	require.NoError(t, err)

	s, err := f.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = s.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenSecured(t *testing.T) {
	desc, _ := startJetStream(t, &server.Options{Username: "mqm", Password: "1920"})

	f, err := NewFactory(desc)
	require.NoError(t, err)

	_, err = f.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	assert.ErrorIs(t, err, broker.ErrUnauthorized)

	s, err := f.Open(context.Background(), broker.Subscription{Destination: "Q1", Username: "mqm", Password: "1920"})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestOpenUnreachable(t *testing.T) {
	f, err := NewFactory(broker.ConnectionDescriptor{
		Host:             "127.0.0.1",
		Port:             1,
		Channel:          "Channel1",
		QueueManager:     "QM1",
		ReconnectTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = f.Open(context.Background(), broker.Subscription{Destination: "Q1"})
	assert.Error(t, err)
}

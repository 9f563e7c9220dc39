// Package nats opens consumer sessions against NATS JetStream.
//
// The descriptor maps onto JetStream as follows: the queue manager names the
// stream, the channel names the durable consumer shared by all workers, and
// the destination is the consumer's filter subject.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iowanobos/mq-source/broker"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

// Properties understood in the broker property map.
const (
	PropertyAckWait       = "ack.wait"
	PropertyMaxDeliver    = "max.deliver"
	PropertyDeliverPolicy = "deliver.policy"
)

const HeaderSubject = "nats.subject"

const reconnectWait = time.Second

type Factory struct {
	desc broker.ConnectionDescriptor
}

func NewFactory(desc broker.ConnectionDescriptor) (*Factory, error) {
	if desc.Host == "" || desc.Port <= 0 {
		return nil, fmt.Errorf("nats: invalid address %q", desc.Address())
	}
	if desc.QueueManager == "" || desc.Channel == "" {
		return nil, errors.New("nats: queue manager (stream) and channel (durable) must be set")
	}
	return &Factory{desc: desc}, nil
}

func (f *Factory) Open(ctx context.Context, sub broker.Subscription) (broker.Session, error) {
	config, err := consumerConfig(f.desc, sub)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"destination": sub.Destination,
		"stream":      f.desc.QueueManager,
	})

	opts := []nats.Option{
		nats.Name(f.desc.Channel),
		nats.Timeout(f.desc.ReconnectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(int(f.desc.ReconnectTimeout / reconnectWait)),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	}
	if sub.Secured() {
		opts = append(opts, nats.UserInfo(sub.Username, sub.Password))
	}

	nc, err := nats.Connect("nats://"+f.desc.Address(), opts...)
	if err != nil {
		if errors.Is(err, nats.ErrAuthorization) || strings.Contains(strings.ToLower(err.Error()), "authorization") {
			return nil, fmt.Errorf("%w: %v", broker.ErrUnauthorized, err)
		}
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, f.desc.QueueManager, config)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer %s: %w", config.Durable, err)
	}

	iter, err := cons.Messages(jetstream.PullMaxMessages(1))
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &session{conn: nc, iter: iter}, nil
}

func consumerConfig(desc broker.ConnectionDescriptor, sub broker.Subscription) (jetstream.ConsumerConfig, error) {
	config := jetstream.ConsumerConfig{
		Durable:       desc.Channel,
		FilterSubject: sub.Destination,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}

	for key, value := range sub.Properties {
		var err error
		switch key {
		case PropertyAckWait:
			config.AckWait, err = time.ParseDuration(value)
		case PropertyMaxDeliver:
			config.MaxDeliver, err = strconv.Atoi(value)
		case PropertyDeliverPolicy:
			switch value {
			case "all":
				config.DeliverPolicy = jetstream.DeliverAllPolicy
			case "new":
				config.DeliverPolicy = jetstream.DeliverNewPolicy
			default:
				err = errors.New("expected all or new")
			}
		default:
			logrus.WithField("property", key).Warn("unknown nats property ignored")
		}
		if err != nil {
			return jetstream.ConsumerConfig{}, fmt.Errorf("%w: %s=%s: %v", broker.ErrInvalidProperty, key, value, err)
		}
	}

	return config, nil
}

type session struct {
	conn *nats.Conn
	iter jetstream.MessagesContext
}

func (s *session) Receive(ctx context.Context) (broker.Delivery, error) {
	stop := context.AfterFunc(ctx, s.iter.Stop)
	defer stop()

	msg, err := s.iter.Next()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
			return nil, broker.ErrSessionClosed
		}
		return nil, err
	}
	return &delivery{msg: msg}, nil
}

func (s *session) Close() error {
	s.iter.Stop()
	s.conn.Close()
	return nil
}

type delivery struct {
	msg jetstream.Msg
}

func (d *delivery) Body() []byte {
	return d.msg.Data()
}

func (d *delivery) Headers() broker.Headers {
	header := d.msg.Headers()
	m := make(broker.Headers, len(header)+1)
	for key, values := range header {
		if len(values) > 0 {
			m.Set(key, values[0])
		}
	}
	m.Set(HeaderSubject, d.msg.Subject())
	return m
}

func (d *delivery) Ack(_ context.Context) error {
	return d.msg.Ack()
}

func (d *delivery) Nack(_ context.Context) error {
	return d.msg.Nak()
}

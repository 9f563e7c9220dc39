// Package kafka opens consumer sessions against a Kafka cluster. The queue
// manager name is used as the consumer group, so every worker of a source
// shares the destination's partitions.
package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/iowanobos/mq-source/broker"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/sirupsen/logrus"
)

// Properties understood in the broker property map.
const (
	PropertyMinBytes       = "min.bytes"
	PropertyMaxBytes       = "max.bytes"
	PropertyMaxWait        = "max.wait"
	PropertyCommitInterval = "commit.interval"
	PropertyStartOffset    = "start.offset"
)

type Factory struct {
	desc broker.ConnectionDescriptor
}

func NewFactory(desc broker.ConnectionDescriptor) (*Factory, error) {
	if desc.Host == "" || desc.Port <= 0 {
		return nil, fmt.Errorf("kafka: invalid address %q", desc.Address())
	}
	if desc.QueueManager == "" {
		return nil, fmt.Errorf("kafka: queue manager is used as consumer group and must be set")
	}
	return &Factory{desc: desc}, nil
}

func (f *Factory) Open(ctx context.Context, sub broker.Subscription) (broker.Session, error) {
	config, err := readerConfig(f.desc, sub)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrInvalidProperty, err)
	}

	// the reader connects lazily, dial once so an unreachable broker is a
	// connection fault of Open and not of the first Receive
	conn, err := config.Dialer.DialContext(ctx, "tcp", f.desc.Address())
	if err != nil {
		return nil, err
	}
	_ = conn.Close()

	return &session{reader: kafka.NewReader(config)}, nil
}

func readerConfig(desc broker.ConnectionDescriptor, sub broker.Subscription) (kafka.ReaderConfig, error) {
	log := logrus.WithFields(logrus.Fields{
		"destination": sub.Destination,
		"group":       desc.QueueManager,
	})

	dialer := &kafka.Dialer{
		ClientID:  desc.Channel + "-" + uuid.NewString(),
		Timeout:   desc.ReconnectTimeout,
		DualStack: true,
	}
	if sub.Secured() {
		dialer.SASLMechanism = plain.Mechanism{
			Username: sub.Username,
			Password: sub.Password,
		}
	}

	config := kafka.ReaderConfig{
		Brokers:        []string{desc.Address()},
		GroupID:        desc.QueueManager,
		Topic:          sub.Destination,
		Dialer:         dialer,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		SessionTimeout: desc.ReconnectTimeout,
		StartOffset:    kafka.FirstOffset,
		Logger:         kafka.LoggerFunc(log.Debugf),
		ErrorLogger:    kafka.LoggerFunc(log.Warnf),
	}

	for key, value := range sub.Properties {
		var err error
		switch key {
		case PropertyMinBytes:
			config.MinBytes, err = strconv.Atoi(value)
		case PropertyMaxBytes:
			config.MaxBytes, err = strconv.Atoi(value)
		case PropertyMaxWait:
			config.MaxWait, err = time.ParseDuration(value)
		case PropertyCommitInterval:
			config.CommitInterval, err = time.ParseDuration(value)
		case PropertyStartOffset:
			switch value {
			case "first":
				config.StartOffset = kafka.FirstOffset
			case "last":
				config.StartOffset = kafka.LastOffset
			default:
				err = fmt.Errorf("expected first or last")
			}
		default:
			log.WithField("property", key).Warn("unknown kafka property ignored")
		}
		if err != nil {
			return kafka.ReaderConfig{}, fmt.Errorf("%w: %s=%s: %v", broker.ErrInvalidProperty, key, value, err)
		}
	}

	// kafka.NewReader panics on this one instead of failing validation
	if config.MinBytes > config.MaxBytes {
		return kafka.ReaderConfig{}, fmt.Errorf("%w: %s greater than %s", broker.ErrInvalidProperty, PropertyMinBytes, PropertyMaxBytes)
	}

	return config, nil
}

type session struct {
	reader *kafka.Reader
}

func (s *session) Receive(ctx context.Context) (broker.Delivery, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &delivery{reader: s.reader, msg: msg}, nil
}

func (s *session) Close() error {
	return s.reader.Close()
}

type delivery struct {
	reader *kafka.Reader
	msg    kafka.Message
}

func (d *delivery) Body() []byte {
	return d.msg.Value
}

func (d *delivery) Headers() broker.Headers {
	return headersToMap(d.msg)
}

func (d *delivery) Ack(ctx context.Context) error {
	return d.reader.CommitMessages(ctx, d.msg)
}

// Nack leaves the offset uncommitted; the message is fetched again by
// whichever reader owns the partition after the next rebalance.
func (d *delivery) Nack(_ context.Context) error {
	return nil
}

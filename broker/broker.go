// Package broker describes the connection-factory boundary the consumer group
// talks to. Implementations own the wire protocol; the group only opens
// sessions, receives deliveries and acknowledges them.
package broker

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidProperty = errors.New("invalid broker property")
)

type TransportMode string

// TransportClient is the only supported mode: the source always connects as
// a network client of the queue manager.
const TransportClient TransportMode = "client"

// ConnectionDescriptor is where and how to reach the queue manager. It is
// owned by the host and shared read-only by every session.
type ConnectionDescriptor struct {
	Host             string
	Port             int
	Channel          string
	QueueManager     string
	TransportMode    TransportMode
	ReconnectTimeout time.Duration
}

func (d ConnectionDescriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Subscription is what a single session consumes and with which identity.
type Subscription struct {
	Destination string
	Username    string
	Password    string
	Properties  map[string]string
}

// Secured reports whether both credentials are present. Otherwise the
// session connects anonymously.
func (s Subscription) Secured() bool {
	return s.Username != "" && s.Password != ""
}

type ConnectionFactory interface {
	Open(ctx context.Context, sub Subscription) (Session, error)
}

// Session is one exclusively owned connection/session/consumer triple.
type Session interface {
	// Receive blocks until a delivery is available, the context is done or
	// the session breaks.
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}

type Delivery interface {
	Body() []byte
	Headers() Headers
	Ack(ctx context.Context) error
	// Nack hands the message back to the broker for redelivery.
	Nack(ctx context.Context) error
}

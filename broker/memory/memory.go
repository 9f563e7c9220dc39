// Package memory is an in-process broker. It keeps one FIFO queue per
// destination, redelivers nacked messages first and can be told to break
// every session to simulate a lost connection.
package memory

import (
	"context"
	"sync"

	"github.com/iowanobos/mq-source/broker"
)

type message struct {
	body    []byte
	headers broker.Headers
}

type Broker struct {
	mu       sync.Mutex
	changed  chan struct{}
	queues   map[string][]message
	fault    error
	username string
	password string

	opened   int
	live     int
	acked    int
	lastSubs broker.Subscription
}

func New() *Broker {
	return &Broker{
		changed: make(chan struct{}),
		queues:  make(map[string][]message),
	}
}

// RequireCredentials makes Open reject sessions that are not secured with
// exactly these credentials.
func (b *Broker) RequireCredentials(username, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.username, b.password = username, password
}

func (b *Broker) Publish(destination string, body []byte, headers broker.Headers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[destination] = append(b.queues[destination], message{body: body, headers: headers})
	b.notifyLocked()
}

func (b *Broker) PublishText(destination string, texts ...string) {
	for _, text := range texts {
		b.Publish(destination, []byte(text), broker.Headers{broker.HeaderContentType: []byte("text/plain")})
	}
}

// Break fails every open session's Receive and every Open with err until
// Heal is called.
func (b *Broker) Break(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = err
	b.notifyLocked()
}

func (b *Broker) Heal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = nil
	b.notifyLocked()
}

func (b *Broker) Pending(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[destination])
}

func (b *Broker) Acked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked
}

// Opened is the number of sessions ever opened.
func (b *Broker) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Live is the number of sessions opened and not yet closed.
func (b *Broker) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

func (b *Broker) LastSubscription() broker.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSubs
}

func (b *Broker) Open(ctx context.Context, sub broker.Subscription) (broker.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fault != nil {
		return nil, b.fault
	}
	if b.username != "" && (!sub.Secured() || sub.Username != b.username || sub.Password != b.password) {
		return nil, broker.ErrUnauthorized
	}

	b.opened++
	b.live++
	b.lastSubs = sub
	return &session{broker: b, destination: sub.Destination}, nil
}

// notifyLocked wakes every blocked Receive.
func (b *Broker) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

type session struct {
	broker      *Broker
	destination string
	closed      bool
}

func (s *session) Receive(ctx context.Context) (broker.Delivery, error) {
	b := s.broker
	for {
		b.mu.Lock()
		if s.closed {
			b.mu.Unlock()
			return nil, broker.ErrSessionClosed
		}
		if b.fault != nil {
			err := b.fault
			b.mu.Unlock()
			return nil, err
		}
		if queue := b.queues[s.destination]; len(queue) > 0 {
			msg := queue[0]
			b.queues[s.destination] = queue[1:]
			b.mu.Unlock()
			return &delivery{session: s, msg: msg}, nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (s *session) Close() error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return broker.ErrSessionClosed
	}
	s.closed = true
	b.live--
	b.notifyLocked()
	return nil
}

type delivery struct {
	session *session
	msg     message
	settled bool
}

func (d *delivery) Body() []byte {
	return d.msg.body
}

func (d *delivery) Headers() broker.Headers {
	return d.msg.headers
}

func (d *delivery) Ack(_ context.Context) error {
	b := d.session.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.settled {
		return nil
	}
	d.settled = true
	b.acked++
	return nil
}

func (d *delivery) Nack(_ context.Context) error {
	b := d.session.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.settled {
		return nil
	}
	d.settled = true
	b.queues[d.session.destination] = append([]message{d.msg}, b.queues[d.session.destination]...)
	b.notifyLocked()
	return nil
}

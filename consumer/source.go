package consumer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/iowanobos/mq-source/broker"
	"github.com/sirupsen/logrus"
)

var ErrNotInitialized = errors.New("source not initialized")

type NewFactoryFunc func(desc broker.ConnectionDescriptor) (broker.ConnectionFactory, error)

// PolicyFunc builds the retry backoff policy bounded by the client
// reconnect timeout.
type PolicyFunc func(maxInterval time.Duration) backoff.BackOff

type SourceOption func(*Source)

func WithRetryPolicy(policy PolicyFunc) SourceOption {
	return func(s *Source) {
		s.policy = policy
	}
}

type DeploymentInfo struct {
	Port    int
	Secured bool
}

// Source implements the host lifecycle: Init once, then any sequence of
// Connect, Pause, Resume, Reconnect and Disconnect, and finally Destroy.
type Source struct {
	newFactory NewFactoryFunc
	sched      Scheduler
	policy     PolicyFunc

	sink    Sink
	cfg     *Config
	desc    broker.ConnectionDescriptor
	factory broker.ConnectionFactory
	log     *logrus.Entry

	mu    sync.Mutex
	retry *RetryHandler
	group *Group
}

func NewSource(newFactory NewFactoryFunc, sched Scheduler, opts ...SourceOption) *Source {
	s := &Source{
		newFactory: newFactory,
		sched:      sched,
		policy:     ExponentialPolicy,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init validates the options. Every error it returns is a configuration
// error and is not worth retrying.
func (s *Source) Init(sink Sink, options Options) error {
	if err := options.Validate(); err != nil {
		return err
	}
	cfg, err := NewConfig(options)
	if err != nil {
		return err
	}
	desc := options.Descriptor()
	factory, err := s.newFactory(desc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.cfg = cfg
	s.desc = desc
	s.factory = factory
	s.log = logrus.WithField("destination", cfg.Destination())
	return nil
}

// Connect starts a new consumer group. The retry handler outlives groups so
// that a reconnect after an outage is reported as a restoration and keeps
// backing off while the outage lasts.
func (s *Source) Connect(supervisor Supervisor) error {
	s.mu.Lock()
	if s.cfg == nil {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.group != nil && s.group.State() != GroupDisconnected {
		s.mu.Unlock()
		return nil
	}
	if s.retry == nil {
		s.retry = NewRetryHandler(s.sched, s.policy(s.cfg.ReconnectTimeout()), s.cfg.ReconnectTimeout(), s.cfg.Destination())
	}
	s.retry.Bind(supervisor)
	s.retry.Rearm()
	group := NewGroup(s.cfg, s.desc, s.factory, s.retry, s.sched)
	s.group = group
	sink, log := s.sink, s.log.WithFields(logrus.Fields{
		"workers": s.cfg.WorkerCount(),
		"secured": s.cfg.Secured(),
	})
	s.mu.Unlock()

	log.Info("source connecting")
	if err := group.Start(sink); err != nil {
		s.mu.Lock()
		if s.group == group {
			s.group = nil
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Reconnect restarts the faulted workers of the current group.
func (s *Source) Reconnect() {
	if group := s.currentGroup(); group != nil {
		group.Reconnect()
	}
}

func (s *Source) Disconnect() {
	s.mu.Lock()
	group, log := s.group, s.log
	s.group = nil
	s.mu.Unlock()

	if group != nil {
		group.Shutdown()
		log.Info("source disconnected")
	}
}

// Destroy disconnects and shuts the scheduler down.
func (s *Source) Destroy() {
	s.Disconnect()
	s.sched.Shutdown()
}

func (s *Source) Pause() {
	if group := s.currentGroup(); group != nil {
		group.Pause()
		group.log.Info("source paused")
	}
}

func (s *Source) Resume() {
	if group := s.currentGroup(); group != nil {
		group.Resume()
		group.log.Debug("source resumed")
	}
}

func (s *Source) OutputKinds() []Kind {
	return OutputKinds()
}

func (s *Source) ServiceDeploymentInfo() DeploymentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return DeploymentInfo{}
	}
	return DeploymentInfo{Port: s.desc.Port, Secured: s.cfg.Secured()}
}

// Group is the running consumer group, nil while disconnected.
func (s *Source) Group() *Group {
	return s.currentGroup()
}

func (s *Source) currentGroup() *Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}

package consumer

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/iowanobos/mq-source/broker"
	"github.com/sirupsen/logrus"
)

var ErrGroupStarted = errors.New("consumer group already started")

type GroupState int

const (
	GroupCreated GroupState = iota
	GroupConnected
	GroupPaused
	GroupDisconnected
)

func (s GroupState) String() string {
	switch s {
	case GroupCreated:
		return "created"
	case GroupConnected:
		return "connected"
	case GroupPaused:
		return "paused"
	case GroupDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Group runs Config.WorkerCount independent workers against one destination.
// Workers share nothing but the read-only config and connection factory, so
// with more than one worker messages are delivered concurrently and in no
// particular order.
//
// Faults are never handled by the group itself: they go to the retry
// handler, whose supervisor decides whether to call Reconnect.
type Group struct {
	id      string
	cfg     *Config
	desc    broker.ConnectionDescriptor
	factory broker.ConnectionFactory
	retry   *RetryHandler
	sched   Scheduler
	log     *logrus.Entry

	mu      sync.Mutex
	state   GroupState
	workers []*worker
}

func NewGroup(cfg *Config, desc broker.ConnectionDescriptor, factory broker.ConnectionFactory, retry *RetryHandler, sched Scheduler) *Group {
	id := uuid.NewString()
	return &Group{
		id:      id,
		cfg:     cfg,
		desc:    desc,
		factory: factory,
		retry:   retry,
		sched:   sched,
		log: logrus.WithFields(logrus.Fields{
			"destination": cfg.Destination(),
			"group":       id,
		}),
	}
}

// Start creates the workers and lets each of them connect on its own.
// Connection failures do not fail Start; they are reported to the retry
// handler. If the scheduler no longer accepts work the group shuts down and
// ErrSchedulerClosed is returned.
func (g *Group) Start(sink Sink) error {
	g.mu.Lock()
	if g.state != GroupCreated {
		g.mu.Unlock()
		return ErrGroupStarted
	}

	workers := make([]*worker, g.cfg.WorkerCount())
	for i := range workers {
		workers[i] = newWorker(i, g.cfg, g.factory, g.sched, sink, g, g.log)
	}
	g.workers = workers
	g.state = GroupConnected
	g.mu.Unlock()

	LiveWorkers.WithLabelValues(g.cfg.Destination()).Set(float64(len(workers)))
	g.log.WithFields(logrus.Fields{
		"address": g.desc.Address(),
		"workers": len(workers),
	}).Info("consumer group started")
	if len(workers) > 1 {
		g.log.Info("multiple workers, message ordering is not preserved")
	}

	for _, w := range workers {
		if _, err := w.start(); err != nil {
			g.Shutdown()
			return err
		}
	}
	return nil
}

// Pause stops reception on every worker. Sessions stay open. Once Pause
// returns no delivery is in flight, so it must not be called from the sink.
func (g *Group) Pause() {
	g.mu.Lock()
	if g.state != GroupConnected {
		g.mu.Unlock()
		return
	}
	g.state = GroupPaused
	workers := g.workers
	g.mu.Unlock()

	for _, w := range workers {
		w.pause()
	}
}

func (g *Group) Resume() {
	g.mu.Lock()
	if g.state != GroupPaused {
		g.mu.Unlock()
		return
	}
	g.state = GroupConnected
	workers := g.workers
	g.mu.Unlock()

	for _, w := range workers {
		w.resume()
	}
}

// Shutdown stops every worker and cancels pending retry timers. It is safe
// to call any number of times.
func (g *Group) Shutdown() {
	g.mu.Lock()
	if g.state == GroupDisconnected {
		g.mu.Unlock()
		return
	}
	workers := g.workers
	g.workers = nil
	g.state = GroupDisconnected
	g.mu.Unlock()

	g.retry.Cancel()
	for _, w := range workers {
		w.stop()
	}
	LiveWorkers.WithLabelValues(g.cfg.Destination()).Set(0)
	g.log.Debug("consumer group shut down")
}

// Reconnect sends every faulted worker back to connecting.
func (g *Group) Reconnect() {
	g.mu.Lock()
	if g.state != GroupConnected && g.state != GroupPaused {
		g.mu.Unlock()
		return
	}
	workers := g.workers
	g.mu.Unlock()

	g.retry.Rearm()

	restarted := 0
	for _, w := range workers {
		started, err := w.start()
		if err != nil {
			g.log.WithError(err).Warn("reconnect rejected, shutting the group down")
			g.Shutdown()
			return
		}
		if started {
			restarted++
		}
	}
	g.log.WithField("workers", restarted).Info("reconnecting faulted workers")
}

func (g *Group) workerConnected(_ *worker) {
	g.mu.Lock()
	if g.state != GroupConnected && g.state != GroupPaused {
		g.mu.Unlock()
		return
	}
	healthy := true
	for _, w := range g.workers {
		if state := w.State(); state != StateListening && state != StatePaused {
			healthy = false
			break
		}
	}
	g.mu.Unlock()

	if healthy {
		g.retry.OnRestored()
	}
}

func (g *Group) workerFaulted(w *worker, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != GroupConnected && g.state != GroupPaused {
		return
	}
	g.log.WithError(err).WithField("worker", w.id).Debug("worker fault reported")
	g.retry.OnFault(err)
}

func (g *Group) State() GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LiveWorkers equals the configured worker count while connected or
// paused, and zero otherwise.
func (g *Group) LiveWorkers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.workers)
}

func (g *Group) WorkerStates() []State {
	g.mu.Lock()
	workers := g.workers
	g.mu.Unlock()

	states := make([]State, len(workers))
	for i, w := range workers {
		states[i] = w.State()
	}
	return states
}

package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/iowanobos/mq-source/broker"
	"github.com/sirupsen/logrus"
)

type State int

const (
	StateCreated State = iota
	StateConnecting
	StateListening
	StatePaused
	StateFaulted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StatePaused:
		return "paused"
	case StateFaulted:
		return "faulted"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// workerEvents is how a worker reports to its group.
type workerEvents interface {
	workerConnected(w *worker)
	workerFaulted(w *worker, err error)
}

// worker owns one session against the destination. Its state is guarded by
// mu; cond wakes the receive loop on resume/stop and Pause on the end of an
// in-flight delivery.
type worker struct {
	id      int
	cfg     *Config
	factory broker.ConnectionFactory
	sched   Scheduler
	sink    Sink
	events  workerEvents
	log     *logrus.Entry

	mu         sync.Mutex
	cond       *sync.Cond
	state      State
	paused     bool
	delivering bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastFault  time.Time
	lastErr    error
}

func newWorker(id int, cfg *Config, factory broker.ConnectionFactory, sched Scheduler, sink Sink, events workerEvents, log *logrus.Entry) *worker {
	w := &worker{
		id:      id,
		cfg:     cfg,
		factory: factory,
		sched:   sched,
		sink:    sink,
		events:  events,
		log:     log.WithField("worker", id),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// start moves a created or faulted worker to connecting and schedules its
// loop. It reports whether the worker was started; a worker the scheduler
// rejects is stopped and ErrSchedulerClosed is returned.
func (w *worker) start() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateCreated && w.state != StateFaulted {
		return false, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.state = StateConnecting
	w.cancel = cancel
	w.done = done

	if !w.sched.Go(func() {
		defer close(done)
		w.run(ctx)
	}) {
		cancel()
		close(done)
		w.state = StateStopped
		w.log.Warn("scheduler rejected worker")
		return false, ErrSchedulerClosed
	}
	return true, nil
}

func (w *worker) run(ctx context.Context) {
	session, err := w.factory.Open(ctx, w.cfg.Subscription())
	if err != nil {
		if ctx.Err() == nil {
			w.fault(err)
		}
		return
	}

	if !w.connected() {
		w.release(session)
		return
	}
	w.log.Info("worker started")
	w.events.workerConnected(w)

	err = w.consume(ctx, session)
	w.release(session)
	if err != nil && ctx.Err() == nil {
		w.fault(err)
	}
}

func (w *worker) connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateConnecting {
		return false
	}
	if w.paused {
		w.state = StatePaused
	} else {
		w.state = StateListening
	}
	return true
}

func (w *worker) consume(ctx context.Context, session broker.Session) error {
	for {
		if !w.awaitListening() {
			return nil
		}

		delivery, err := session.Receive(ctx)
		if err != nil {
			return err
		}
		w.handle(ctx, delivery)
	}
}

// awaitListening blocks while paused and reports whether the worker may
// go on receiving.
func (w *worker) awaitListening() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.state == StatePaused {
		w.cond.Wait()
	}
	return w.state == StateListening
}

func (w *worker) handle(ctx context.Context, delivery broker.Delivery) {
	// a message received right before a pause is held until resume
	w.mu.Lock()
	for w.state == StatePaused {
		w.cond.Wait()
	}
	if w.state != StateListening {
		w.mu.Unlock()
		if err := delivery.Nack(context.WithoutCancel(ctx)); err != nil {
			w.log.WithError(err).Warn("nack failed")
		}
		return
	}
	w.delivering = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.delivering = false
		w.cond.Broadcast()
		w.mu.Unlock()
	}()

	headers := delivery.Headers()
	payload, err := Decode(delivery.Body(), headers.ContentType())
	if err != nil {
		DecodeFailures.WithLabelValues(w.cfg.Destination()).Inc()
		w.log.WithError(err).Warn("message skipped")
	} else {
		w.sink.Deliver(ctx, payload, transportProperties(headers, w.cfg.TransportProperties()))
		MessagesDelivered.WithLabelValues(w.cfg.Destination()).Inc()
		w.log.WithField("kind", payload.Kind()).Debug("message delivered")
	}

	if err := delivery.Ack(context.WithoutCancel(ctx)); err != nil {
		w.log.WithError(err).Warn("ack failed")
	}
}

func (w *worker) fault(err error) {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.state = StateFaulted
	w.lastFault = time.Now()
	w.lastErr = err
	w.cond.Broadcast()
	w.mu.Unlock()

	WorkerFaults.WithLabelValues(w.cfg.Destination()).Inc()
	w.log.WithError(err).Warn("worker faulted")
	w.events.workerFaulted(w, err)
}

func (w *worker) release(session broker.Session) {
	if err := session.Close(); err != nil {
		w.log.WithError(err).Debug("close session")
	}
}

// pause returns once no delivery of this worker is in flight.
func (w *worker) pause() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.paused = true
	if w.state == StateListening {
		w.state = StatePaused
	}
	for w.delivering {
		w.cond.Wait()
	}
}

func (w *worker) resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.paused = false
	if w.state == StatePaused {
		w.state = StateListening
		w.cond.Broadcast()
	}
}

// stop is terminal. It waits for the loop to return, which releases the
// session.
func (w *worker) stop() {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.state = StateStopped
	cancel, done := w.cancel, w.done
	w.cond.Broadcast()
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	w.log.Info("worker stopped")
}

func (w *worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *worker) LastFault() (time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastFault, w.lastErr
}

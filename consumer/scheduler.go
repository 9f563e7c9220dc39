package consumer

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrSchedulerClosed = errors.New("scheduler no longer accepts work")

// Scheduler runs worker loops and retry timers. It is owned by the host and
// injected into the source.
type Scheduler interface {
	// Go runs task in its own goroutine. It returns false when the
	// scheduler no longer accepts work.
	Go(task func()) bool
	// AfterFunc runs task after delay. stop reports whether the task was
	// prevented from running.
	AfterFunc(delay time.Duration, task func()) (stop func() bool)
	// Shutdown cancels pending timers and waits for running tasks.
	Shutdown()
}

type Pool struct {
	mu     sync.Mutex
	tasks  errgroup.Group
	timers map[*time.Timer]struct{}
	closed bool
}

func NewPool() *Pool {
	return &Pool{timers: make(map[*time.Timer]struct{})}
}

func (p *Pool) Go(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		logrus.Debug("scheduler shut down, task dropped")
		return false
	}
	p.tasks.Go(func() error {
		task()
		return nil
	})
	return true
}

func (p *Pool) AfterFunc(delay time.Duration, task func()) func() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return func() bool { return false }
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		_, pending := p.timers[timer]
		delete(p.timers, timer)
		p.mu.Unlock()

		if pending {
			p.Go(task)
		}
	})
	p.timers[timer] = struct{}{}

	return func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()

		if _, pending := p.timers[timer]; !pending {
			return false
		}
		delete(p.timers, timer)
		timer.Stop()
		return true
	}
}

func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for timer := range p.timers {
		timer.Stop()
	}
	p.timers = nil
	p.mu.Unlock()

	_ = p.tasks.Wait()
}

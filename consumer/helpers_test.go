package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iowanobos/mq-source/broker"
	"github.com/iowanobos/mq-source/broker/memory"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type delivered struct {
	payload    Payload
	properties map[string]string
}

type recordingSink struct {
	mu        sync.Mutex
	delivered []delivered
}

func (s *recordingSink) Deliver(_ context.Context, payload Payload, properties map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, delivered{payload: payload, properties: properties})
}

func (s *recordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func (s *recordingSink) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, 0, len(s.delivered))
	for _, d := range s.delivered {
		text, _ := d.payload.AsText()
		texts = append(texts, text)
	}
	return texts
}

func (s *recordingSink) All() []delivered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivered(nil), s.delivered...)
}

// countingSupervisor is safe to poll from require.Eventually.
type countingSupervisor struct {
	mu          sync.Mutex
	unavailable []error
	restored    int
}

func (s *countingSupervisor) OnConnectionUnavailable(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = append(s.unavailable, cause)
}

func (s *countingSupervisor) OnConnectionRestored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored++
}

func (s *countingSupervisor) Unavailable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unavailable)
}

func (s *countingSupervisor) Restored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

type mockSupervisor struct {
	mock.Mock
}

func (m *mockSupervisor) OnConnectionUnavailable(cause error) {
	m.Called(cause)
}

func (m *mockSupervisor) OnConnectionRestored() {
	m.Called()
}

// manualScheduler runs tasks on goroutines but only fires timers on Fire.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
	wg     sync.WaitGroup
}

type manualTimer struct {
	delay   time.Duration
	task    func()
	stopped bool
	fired   bool
}

func (m *manualScheduler) Go(task func()) bool {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		task()
	}()
	return true
}

func (m *manualScheduler) AfterFunc(delay time.Duration, task func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer := &manualTimer{delay: delay, task: task}
	m.timers = append(m.timers, timer)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if timer.stopped || timer.fired {
			return false
		}
		timer.stopped = true
		return true
	}
}

func (m *manualScheduler) Shutdown() {
	m.wg.Wait()
}

// Fire runs every pending timer synchronously and returns how many ran.
func (m *manualScheduler) Fire() int {
	m.mu.Lock()
	var due []*manualTimer
	for _, timer := range m.timers {
		if !timer.stopped && !timer.fired {
			timer.fired = true
			due = append(due, timer)
		}
	}
	m.mu.Unlock()

	for _, timer := range due {
		timer.task()
	}
	return len(due)
}

func (m *manualScheduler) Pending() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var delays []time.Duration
	for _, timer := range m.timers {
		if !timer.stopped && !timer.fired {
			delays = append(delays, timer.delay)
		}
	}
	return delays
}

func newTestConfig(t *testing.T, options Options) *Config {
	t.Helper()
	cfg, err := NewConfig(options)
	require.NoError(t, err)
	return cfg
}

// newTestGroup wires a group to an in-memory broker with a real pool and a
// short fixed retry delay.
func newTestGroup(t *testing.T, b *memory.Broker, options Options, supervisor Supervisor) *Group {
	t.Helper()

	pool := NewPool()
	t.Cleanup(pool.Shutdown)

	cfg := newTestConfig(t, options)
	retry := NewRetryHandler(pool, FixedPolicy(10*time.Millisecond), time.Second, cfg.Destination())
	retry.Bind(supervisor)

	g := NewGroup(cfg, broker.ConnectionDescriptor{Host: "localhost", Port: 1414}, b, retry, pool)
	t.Cleanup(g.Shutdown)
	return g
}

func requireStates(t *testing.T, g *Group, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		states := g.WorkerStates()
		if len(states) == 0 {
			return false
		}
		for _, state := range states {
			if state != want {
				return false
			}
		}
		return true
	}, waitFor, tick, "workers never reached %s: %v", want, g.WorkerStates())
}

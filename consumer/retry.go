package consumer

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

type episode int

const (
	episodeIdle episode = iota
	episodePending
	episodeNotified
)

// RetryHandler turns connection faults into supervisor notifications. The
// first fault of an episode waits one backoff interval and then reports the
// connection unavailable; further faults of the same episode are coalesced.
type RetryHandler struct {
	sched       Scheduler
	maxInterval time.Duration
	destination string
	log         *logrus.Entry

	mu          sync.Mutex
	policy      backoff.BackOff
	supervisor  Supervisor
	episode     episode
	generation  uint64
	attempts    int
	unavailable bool
	stop        func() bool
}

// ExponentialPolicy starts at half a second (or maxInterval if lower) and
// doubles up to maxInterval. Jitter never pushes a delay past maxInterval.
func ExponentialPolicy(maxInterval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(500*time.Millisecond, maxInterval)
	b.MaxInterval = maxInterval
	b.Reset()
	return &boundedBackOff{BackOff: b, max: maxInterval}
}

// boundedBackOff caps the randomized interval, which the exponential policy
// lets exceed its MaxInterval by the randomization factor.
type boundedBackOff struct {
	backoff.BackOff
	max time.Duration
}

func (b *boundedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	return min(next, b.max)
}

func FixedPolicy(interval time.Duration) backoff.BackOff {
	return backoff.NewConstantBackOff(interval)
}

func NewRetryHandler(sched Scheduler, policy backoff.BackOff, maxInterval time.Duration, destination string) *RetryHandler {
	return &RetryHandler{
		sched:       sched,
		maxInterval: maxInterval,
		policy:      policy,
		destination: destination,
		log:         logrus.WithField("destination", destination),
	}
}

func (h *RetryHandler) Bind(supervisor Supervisor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.supervisor = supervisor
}

func (h *RetryHandler) OnFault(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.episode != episodeIdle {
		h.log.WithError(cause).Debug("fault coalesced into current episode")
		return
	}

	h.episode = episodePending
	h.generation++
	h.attempts++

	delay := h.policy.NextBackOff()
	if delay == backoff.Stop || delay > h.maxInterval {
		delay = h.maxInterval
	}

	generation := h.generation
	h.stop = h.sched.AfterFunc(delay, func() {
		h.notifyUnavailable(generation, cause)
	})

	h.log.WithError(cause).WithFields(logrus.Fields{
		"attempt": h.attempts,
		"delay":   delay,
	}).Warn("connection fault, retry scheduled")
}

func (h *RetryHandler) notifyUnavailable(generation uint64, cause error) {
	h.mu.Lock()
	if h.episode != episodePending || h.generation != generation {
		h.mu.Unlock()
		return
	}
	h.episode = episodeNotified
	h.unavailable = true
	h.stop = nil
	supervisor := h.supervisor
	h.mu.Unlock()

	ConnectionUnavailable.WithLabelValues(h.destination).Inc()
	h.log.WithError(cause).Warn("connection unavailable")
	if supervisor != nil {
		supervisor.OnConnectionUnavailable(cause)
	}
}

// OnRestored closes the current episode. The supervisor only hears about
// it if it was told the connection was unavailable.
func (h *RetryHandler) OnRestored() {
	h.mu.Lock()
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
	notify := h.unavailable
	h.episode = episodeIdle
	h.generation++
	h.unavailable = false
	h.attempts = 0
	h.policy.Reset()
	supervisor := h.supervisor
	h.mu.Unlock()

	if notify {
		h.log.Info("connection restored")
		if supervisor != nil {
			supervisor.OnConnectionRestored()
		}
	}
}

// Rearm ends a notified episode without resetting the backoff, so a
// failing reconnect opens a new episode with a longer delay.
func (h *RetryHandler) Rearm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.episode == episodeNotified {
		h.episode = episodeIdle
		h.generation++
	}
}

// Cancel drops a pending retry timer.
func (h *RetryHandler) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
	if h.episode == episodePending {
		h.episode = episodeIdle
		h.generation++
	}
}

func (h *RetryHandler) InEpisode() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.episode != episodeIdle
}

func (h *RetryHandler) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}


package consumer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqsource_messages_delivered_total",
			Help: "Total number of messages handed to the sink",
		},
		[]string{"destination"},
	)

	DecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqsource_decode_failures_total",
			Help: "Total number of messages skipped because the payload could not be decoded",
		},
		[]string{"destination"},
	)

	WorkerFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqsource_worker_faults_total",
			Help: "Total number of workers that lost their session",
		},
		[]string{"destination"},
	)

	ConnectionUnavailable = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqsource_connection_unavailable_total",
			Help: "Total number of fault episodes reported to the supervisor",
		},
		[]string{"destination"},
	)

	LiveWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mqsource_live_workers",
			Help: "Number of workers owned by the consumer group",
		},
		[]string{"destination"},
	)
)

// RegisterMetrics registers the source collectors. Collectors that are
// already registered are not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		MessagesDelivered,
		DecodeFailures,
		WorkerFaults,
		ConnectionUnavailable,
		LiveWorkers,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

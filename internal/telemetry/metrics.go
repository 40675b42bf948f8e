// Package telemetry holds the Prometheus collectors for the map service.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UpstreamRequests counts calls to the static map server and geocoder.
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapview",
			Name:      "upstream_requests_total",
			Help:      "Total number of requests sent to remote map services",
		},
		[]string{"endpoint", "outcome"},
	)

	// FramesRendered counts map images decoded and committed to the view.
	FramesRendered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mapview",
			Name:      "frames_rendered_total",
			Help:      "Total number of map frames rendered",
		},
	)

	// OperationErrors counts failed view operations by error kind.
	OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapview",
			Name:      "operation_errors_total",
			Help:      "Total number of failed view operations",
		},
		[]string{"operation", "kind"},
	)

	once sync.Once
)

// InitMetrics registers the collectors with the default registry. It is
// safe to call more than once.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(UpstreamRequests)
		prometheus.DefaultRegisterer.Register(FramesRendered)
		prometheus.DefaultRegisterer.Register(OperationErrors)
	})
}

// Outcome labels for UpstreamRequests.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

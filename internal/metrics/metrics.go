// Package metrics exposes Prometheus collectors for the bridge.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the bridge metrics and implements bridge.Observer.
type Collector struct {
	// CommandsTotal counts store calls by command and boolean result.
	CommandsTotal *prometheus.CounterVec
	// StoreErrorsTotal counts store calls that returned an error.
	StoreErrorsTotal *prometheus.CounterVec
	// MalformedTotal counts frames rejected before reaching the store.
	MalformedTotal *prometheus.CounterVec
	// CommandDuration tracks store call latency.
	CommandDuration *prometheus.HistogramVec
}

// NewCollector registers the bridge metrics on reg. An empty namespace
// defaults to "ejauth".
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = "ejauth"
	}
	factory := promauto.With(reg)

	return &Collector{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched to the credential store, by result",
		}, []string{"command", "result"}),
		StoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Credential store calls that failed and were answered with false",
		}, []string{"command"}),
		MalformedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_commands_total",
			Help:      "Frames rejected before dispatch, by reason",
		}, []string{"reason"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Credential store call latency",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}, []string{"command"}),
	}
}

// ObserveCommand records one store call.
func (c *Collector) ObserveCommand(command string, result bool, err error, elapsed time.Duration) {
	c.CommandsTotal.WithLabelValues(command, strconv.FormatBool(result)).Inc()
	if err != nil {
		c.StoreErrorsTotal.WithLabelValues(command).Inc()
	}
	c.CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ObserveMalformed records one rejected frame.
func (c *Collector) ObserveMalformed(reason string) {
	c.MalformedTotal.WithLabelValues(reason).Inc()
}

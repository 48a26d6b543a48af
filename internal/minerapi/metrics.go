package minerapi

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerapi_requests_total",
			Help: "Miner API requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minerapi_request_duration_seconds",
			Help:    "Miner API request latency including repair and validation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	fallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "minerapi_multicommand_fallbacks_total",
		Help: "Aggregated commands re-sent one by one after the firmware rejected them",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, fallbacksTotal)
}

func observeRequest(cmd Command, start time.Time, err error) {
	kind := "single"
	if cmd.IsAggregated() {
		kind = "aggregated"
	}
	requestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(kind, outcome(err)).Inc()
}

func outcome(err error) string {
	var decodeErr *DecodeError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.As(err, &decodeErr):
		return "decode"
	case IsCommandError(err):
		return "command"
	default:
		return "error"
	}
}

package store

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type queryMetrics struct {
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

func newQueryMetrics(reg prometheus.Registerer) *queryMetrics {
	m := &queryMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zeno",
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Time spent executing store queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zeno",
			Subsystem: "store",
			Name:      "query_errors_total",
			Help:      "Total number of failed store queries.",
		}, []string{"op", "retryable"}),
	}
	if reg != nil {
		reg.MustRegister(m.duration, m.failures)
	}
	return m
}

func (m *queryMetrics) observe(op string, start time.Time, err error) {
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(op, strconv.FormatBool(IsRetryable(err))).Inc()
	}
}

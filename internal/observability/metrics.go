package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	punchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "punchctl",
			Subsystem: "natter",
			Name:      "punch_attempts_total",
			Help:      "NAT helper punch attempts by port name and outcome.",
		},
		[]string{"port_name", "outcome"},
	)
	punchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "punchctl",
			Subsystem: "natter",
			Name:      "punch_duration_seconds",
			Help:      "Time from helper start to a parsed mapping.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"port_name"},
	)
	dnsPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "punchctl",
			Subsystem: "dns",
			Name:      "publishes_total",
			Help:      "DNS record upserts by record type and outcome.",
		},
		[]string{"record_type", "outcome"},
	)
	pollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "punchctl",
			Subsystem: "dns",
			Name:      "poll_cycles_total",
			Help:      "Client-side TXT poll cycles by outcome.",
		},
		[]string{"outcome"},
	)
	frpRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "punchctl",
			Subsystem: "frp",
			Name:      "restarts_total",
			Help:      "Tunnel binary starts and restarts by role.",
		},
		[]string{"role"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "punchctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin endpoint HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "punchctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin endpoint HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			punchAttempts,
			punchDuration,
			dnsPublishes,
			pollCycles,
			frpRestarts,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordPunchAttempt(portName string, duration time.Duration, err error) {
	RegisterMetrics()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	punchAttempts.WithLabelValues(portName, outcome).Inc()
	if err == nil {
		punchDuration.WithLabelValues(portName).Observe(duration.Seconds())
	}
}

func RecordDNSPublish(recordType string, err error) {
	RegisterMetrics()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	dnsPublishes.WithLabelValues(recordType, outcome).Inc()
}

func RecordPollCycle(outcome string) {
	RegisterMetrics()
	pollCycles.WithLabelValues(outcome).Inc()
}

func RecordFRPRestart(role string) {
	RegisterMetrics()
	frpRestarts.WithLabelValues(role).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

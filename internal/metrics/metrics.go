package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveCallsProvider exposes the number of calls currently in the registry.
type ActiveCallsProvider interface {
	ActiveCallCount() int
}

// EndReasonCounter returns finished call counts grouped by end reason.
type EndReasonCounter interface {
	CountByReason(ctx context.Context) (map[string]int, error)
}

// Collector is a prometheus.Collector that gathers bot metrics at scrape time.
type Collector struct {
	activeCalls ActiveCallsProvider
	history     EndReasonCounter
	startTime   time.Time

	// Metric descriptors.
	activeCallsDesc *prometheus.Desc
	callsTotalDesc  *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(activeCalls ActiveCallsProvider, history EndReasonCounter, startTime time.Time) *Collector {
	return &Collector{
		activeCalls: activeCalls,
		history:     history,
		startTime:   startTime,

		activeCallsDesc: prometheus.NewDesc(
			"callbot_active_calls",
			"Number of call legs currently tracked in the registry",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"callbot_calls_total",
			"Total number of finished calls by end reason",
			[]string{"reason"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callbot_uptime_seconds",
			"Seconds since the bot process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Active calls gauge.
	if c.activeCalls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.activeCalls.ActiveCallCount()),
		)
	}

	// Finished call counters by end reason.
	if c.history != nil {
		counts, err := c.history.CountByReason(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by reason", "error", err)
		} else {
			for reason, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(n), reason,
				)
			}
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

// Package metrics exposes one benchmark run's accumulator as
// Prometheus collectors, grounded on cmd/tempo-vulture/metrics.go's
// package-level collector-vars-plus-Register pattern. It observes
// completed rows through driver.Config.OnResult — the driver itself
// never imports this package, keeping the core/transport/dataset
// packages free of a metrics dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmbench/scale/internal/driver"
)

const namespace = "llmbench_scale"

// Collectors holds the per-run Prometheus collectors. Register them
// on a registry of the caller's choosing; Observe feeds them from
// driver.Config.OnResult.
type Collectors struct {
	requestsTotal     prometheus.Counter
	droppedTotal      prometheus.Counter
	correctTotal      prometheus.Counter
	ttftSeconds       prometheus.Histogram
	e2eLatencySeconds prometheus.Histogram
}

// NewCollectors builds a fresh set of collectors, unregistered.
func NewCollectors() *Collectors {
	return &Collectors{
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_processed_total",
			Help:      "Completed requests written to the output file.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_dropped_total",
			Help:      "Requests that produced no usable completion event.",
		}),
		correctTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_correct_total",
			Help:      "Requests whose response graded as a correct guess.",
		}),
		ttftSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ttft_seconds",
			Help:      "Time to first token per request.",
			Buckets:   prometheus.DefBuckets,
		}),
		e2eLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "e2e_latency_seconds",
			Help:      "End-to-end latency per request.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every collector on reg.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.requestsTotal, c.droppedTotal, c.correctTotal, c.ttftSeconds, c.e2eLatencySeconds)
}

// RequestsTotal, DroppedTotal, and CorrectTotal expose the underlying
// counters directly, e.g. for a caller that wants to read the current
// value without going through a registry scrape.
func (c *Collectors) RequestsTotal() prometheus.Counter { return c.requestsTotal }
func (c *Collectors) DroppedTotal() prometheus.Counter  { return c.droppedTotal }
func (c *Collectors) CorrectTotal() prometheus.Counter  { return c.correctTotal }

// Observe records one completed row. Dropped rows never reach Observe;
// they are counted by ObserveDropped.
func (c *Collectors) Observe(r driver.RowResult) {
	c.requestsTotal.Inc()
	if r.GuessedCorrectly {
		c.correctTotal.Inc()
	}
	c.ttftSeconds.Observe(toSeconds(r.Latencies.TTFT))
	c.e2eLatencySeconds.Observe(toSeconds(r.Latencies.E2E))
}

// ObserveDropped records a dropped request.
func (c *Collectors) ObserveDropped() {
	c.droppedTotal.Inc()
}

func toSeconds(d time.Duration) float64 {
	return d.Seconds()
}

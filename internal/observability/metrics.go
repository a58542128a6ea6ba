// Package observability bundles the Prometheus metrics exposed by the
// long-running commands.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fix outcomes recorded by the tracker.
const (
	FixOutcomeProcessed = "processed"
	FixOutcomeInvalid   = "invalid"
	FixOutcomeCoalesced = "coalesced"
)

// Resolve triggers recorded by the tracker.
const (
	TriggerFix      = "fix"
	TriggerRefresh  = "refresh"
	TriggerOverride = "override"
)

// Collector bundles Prometheus metrics for the tracking pipeline and the
// web surface. All recording methods are nil-safe so components can take an
// optional *Collector without guarding every call site.
type Collector struct {
	gatherer prometheus.Gatherer

	Fixes           *prometheus.CounterVec
	Resolves        *prometheus.CounterVec
	ResolveDuration prometheus.Histogram

	SitesLoaded prometheus.Gauge
	Subscribers prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewCollector registers the metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil. Registering twice
// against the same registry returns the existing collectors rather than
// failing.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fixes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "towerwitch_fixes_total",
		Help: "Position fixes seen by the tracker, labeled by outcome.",
	}, []string{"outcome"})
	fixes, err := registerCounterVec(reg, fixes, "towerwitch_fixes_total")
	if err != nil {
		return nil, err
	}

	resolves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "towerwitch_resolves_total",
		Help: "Proximity resolutions, labeled by trigger (fix, refresh, override).",
	}, []string{"trigger"})
	resolves, err = registerCounterVec(reg, resolves, "towerwitch_resolves_total")
	if err != nil {
		return nil, err
	}

	resolveDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "towerwitch_resolve_duration_seconds",
		Help:    "Time spent ranking the registry per resolution.",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	})
	resolveDuration, err = registerHistogram(reg, resolveDuration, "towerwitch_resolve_duration_seconds")
	if err != nil {
		return nil, err
	}

	sitesLoaded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "towerwitch_sites_loaded",
		Help: "Sites currently held in the registry.",
	}), "towerwitch_sites_loaded")
	if err != nil {
		return nil, err
	}

	subscribers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "towerwitch_subscribers",
		Help: "Active result subscribers.",
	}), "towerwitch_subscribers")
	if err != nil {
		return nil, err
	}

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "towerwitch_http_requests_total",
		Help: "Handled HTTP requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"})
	httpRequests, err = registerCounterVec(reg, httpRequests, "towerwitch_http_requests_total")
	if err != nil {
		return nil, err
	}

	httpDurations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "towerwitch_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "route"})
	httpDurations, err = registerHistogramVec(reg, httpDurations, "towerwitch_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Fixes:           fixes,
		Resolves:        resolves,
		ResolveDuration: resolveDuration,
		SitesLoaded:     sitesLoaded,
		Subscribers:     subscribers,
		HTTPRequests:    httpRequests,
		HTTPDurations:   httpDurations,
	}, nil
}

// RecordFix counts one fix outcome.
func (c *Collector) RecordFix(outcome string) {
	if c == nil || c.Fixes == nil {
		return
	}
	c.Fixes.WithLabelValues(outcome).Inc()
}

// RecordResolve counts one resolution and observes its duration.
func (c *Collector) RecordResolve(trigger string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Resolves != nil {
		c.Resolves.WithLabelValues(trigger).Inc()
	}
	if c.ResolveDuration != nil {
		c.ResolveDuration.Observe(d.Seconds())
	}
}

// SetSitesLoaded records the current registry size.
func (c *Collector) SetSitesLoaded(n int) {
	if c == nil || c.SitesLoaded == nil {
		return
	}
	c.SitesLoaded.Set(float64(n))
}

// SetSubscribers records the current subscriber count.
func (c *Collector) SetSubscribers(n int) {
	if c == nil || c.Subscribers == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}

// RecordHTTPRequest counts one handled request and observes its latency.
func (c *Collector) RecordHTTPRequest(method, route, code string, d time.Duration) {
	if c == nil {
		return
	}
	if c.HTTPRequests != nil {
		c.HTTPRequests.WithLabelValues(method, route, code).Inc()
	}
	if c.HTTPDurations != nil {
		c.HTTPDurations.WithLabelValues(method, route).Observe(d.Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

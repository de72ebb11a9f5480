package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes preview pipeline metrics to Prometheus.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	requestCounter      *prometheus.CounterVec
	cacheRequestCounter *prometheus.CounterVec
	generationDuration  prometheus.Histogram
	queueDepth          prometheus.Gauge
	activeRequests      prometheus.Gauge

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9180,
			Path:      "/metrics",
			Namespace: "previewcache",
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Start serves the metrics endpoint until ctx is cancelled or Stop is called
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop shuts down the metrics endpoint
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordRequest records a terminal request outcome
func (c *Collector) RecordRequest(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.requestCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordCacheLookup records a cache hit or miss at the given tier
func (c *Collector) RecordCacheLookup(tier, result string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequestCounter.With(prometheus.Labels{"tier": tier, "result": result}).Inc()
}

// ObserveGeneration records one completed resolution latency
func (c *Collector) ObserveGeneration(d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.generationDuration.Observe(d.Seconds())
}

// SetQueueDepth updates the queued-request gauge
func (c *Collector) SetQueueDepth(n int) {
	if !c.config.Enabled {
		return
	}
	c.queueDepth.Set(float64(n))
}

// SetActiveRequests updates the in-flight request gauge
func (c *Collector) SetActiveRequests(n int) {
	if !c.config.Enabled {
		return
	}
	c.activeRequests.Set(float64(n))
}

func (c *Collector) initMetrics() {
	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "requests_total",
			Help:      "Total number of preview requests by terminal outcome",
		},
		[]string{"outcome"},
	)

	c.cacheRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	c.generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of preview resolutions past the memory tiers",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	c.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "queue_depth",
			Help:      "Number of requests waiting for a generation slot",
		},
	)

	c.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "active_requests",
			Help:      "Number of requests past the memory-cache miss stage",
		},
	)
}

func (c *Collector) registerMetrics() error {
	for _, m := range []prometheus.Collector{
		c.requestCounter,
		c.cacheRequestCounter,
		c.generationDuration,
		c.queueDepth,
		c.activeRequests,
	} {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

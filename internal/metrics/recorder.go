package metrics

import (
	"sync"
	"time"

	"github.com/spritepal/previewcache/pkg/types"
)

// DefaultSampleWindow bounds the rolling generation-latency sample set.
const DefaultSampleWindow = 10000

// Recorder maintains the rolling request counters behind PreviewMetrics
// snapshots and forwards to the optional Prometheus collector.
type Recorder struct {
	mu         sync.Mutex
	metrics    types.PreviewMetrics
	maxSamples int

	collector *Collector
}

// NewRecorder creates a recorder. The collector is optional; maxSamples
// bounds the retained generation latencies (oldest dropped first).
func NewRecorder(collector *Collector, maxSamples int) *Recorder {
	if maxSamples <= 0 {
		maxSamples = DefaultSampleWindow
	}
	return &Recorder{
		maxSamples: maxSamples,
		collector:  collector,
	}
}

// RecordHit records a cache hit at the given tier
func (r *Recorder) RecordHit(tier string) {
	r.mu.Lock()
	r.metrics.CacheHits++
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.RecordCacheLookup(tier, "hit")
		r.collector.RecordRequest("delivered")
	}
}

// RecordMiss records a lookup that had to invoke the generator
func (r *Recorder) RecordMiss() {
	r.mu.Lock()
	r.metrics.CacheMisses++
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.RecordCacheLookup("generator", "miss")
		r.collector.RecordRequest("delivered")
	}
}

// RecordError records a terminal request failure
func (r *Recorder) RecordError() {
	r.mu.Lock()
	r.metrics.Errors++
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.RecordRequest("error")
	}
}

// RecordCancellation records a cancelled request
func (r *Recorder) RecordCancellation() {
	r.mu.Lock()
	r.metrics.Cancellations++
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.RecordRequest("cancelled")
	}
}

// RecordCompletion records the latency of one resolved request that went
// past the memory tiers.
func (r *Recorder) RecordCompletion(latency time.Duration) {
	r.mu.Lock()
	r.metrics.TotalRequests++
	r.metrics.TotalTime += latency
	if len(r.metrics.GenerationTimes) >= r.maxSamples {
		// Drop the oldest sample to keep the window bounded.
		copy(r.metrics.GenerationTimes, r.metrics.GenerationTimes[1:])
		r.metrics.GenerationTimes[len(r.metrics.GenerationTimes)-1] = latency
	} else {
		r.metrics.GenerationTimes = append(r.metrics.GenerationTimes, latency)
	}
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.ObserveGeneration(latency)
	}
}

// SetQueueDepth forwards the queued-request count to the collector
func (r *Recorder) SetQueueDepth(n int) {
	if r.collector != nil {
		r.collector.SetQueueDepth(n)
	}
}

// SetActiveRequests forwards the in-flight count to the collector
func (r *Recorder) SetActiveRequests(n int) {
	if r.collector != nil {
		r.collector.SetActiveRequests(n)
	}
}

// Snapshot returns a copy of the current metrics
func (r *Recorder) Snapshot() types.PreviewMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.metrics
	snap.GenerationTimes = make([]time.Duration, len(r.metrics.GenerationTimes))
	copy(snap.GenerationTimes, r.metrics.GenerationTimes)
	return snap
}

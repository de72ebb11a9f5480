// Package orchestrator coordinates preview generation across the cache tiers.
//
// Each request flows through up to three tiers before reaching the generator:
// the last-delivered preview, the in-memory LRU, and the asynchronous disk
// cache. Generation itself runs on a bounded pool of goroutines so that a
// burst of requests cannot starve the process.
package orchestrator

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/spritepal/previewcache/internal/cache"
	"github.com/spritepal/previewcache/internal/diskcache"
	perr "github.com/spritepal/previewcache/pkg/errors"
	"github.com/spritepal/previewcache/pkg/types"
)

const (
	// DefaultMaxConcurrent bounds simultaneous generation work.
	DefaultMaxConcurrent = 4

	// DefaultRequestTimeout bounds how long a request may remain undelivered
	// once created.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultMetricsTick is the interval between metrics snapshots pushed to
	// subscribers.
	DefaultMetricsTick = 5 * time.Second

	degradedHitRate = 0.5
	degradedAvgTime = 200 * time.Millisecond
)

// Config holds the orchestrator tuning knobs.
type Config struct {
	MaxConcurrentRequests int
	MemoryCacheBudget     int64
	RequestTimeout        time.Duration
	MetricsTick           time.Duration
}

// gaugeRecorder is implemented by recorders that also export point-in-time
// gauges. The orchestrator feeds them opportunistically.
type gaugeRecorder interface {
	SetQueueDepth(n int)
	SetActiveRequests(n int)
}

type diskResult struct {
	payload  []byte
	metadata map[string]interface{}
	err      *perr.PreviewError
}

// Orchestrator owns the request queue, the synchronous cache tiers, and the
// generation worker pool.
type Orchestrator struct {
	config    Config
	generator types.Generator
	recorder  types.MetricsRecorder
	logger    *slog.Logger

	slots *semaphore.Weighted

	mu          sync.Mutex
	queue       requestQueue
	active      map[string]*types.PreviewRequest
	lastPreview *types.PreviewData
	memCache    *cache.MemoryCache
	coordinator *diskcache.Coordinator
	diskWaiters map[string]chan diskResult
	inflight    int
	closed      bool

	readySubs   []func(types.ReadyEvent)
	errorSubs   []func(requestID string, err *perr.PreviewError)
	loadingSubs []func(types.LoadingEvent)
	metricsSubs []func(types.PreviewMetrics)

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an orchestrator around the given generator. The disk tier is
// optional and attached separately via SetSourceCache.
func New(generator types.Generator, recorder types.MetricsRecorder, config Config) *Orchestrator {
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = DefaultMaxConcurrent
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.MetricsTick <= 0 {
		config.MetricsTick = DefaultMetricsTick
	}

	o := &Orchestrator{
		config:      config,
		generator:   generator,
		recorder:    recorder,
		logger:      slog.Default().With("component", "orchestrator"),
		slots:       semaphore.NewWeighted(int64(config.MaxConcurrentRequests)),
		active:      make(map[string]*types.PreviewRequest),
		memCache:    cache.NewMemoryCache(config.MemoryCacheBudget),
		diskWaiters: make(map[string]chan diskResult),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	heap.Init(&o.queue)

	o.wg.Add(2)
	go o.schedule()
	go o.metricsLoop()
	return o
}

// SetSourceCache attaches the asynchronous disk tier. Lookup and save results
// are routed back through the orchestrator's own dispatch goroutines.
func (o *Orchestrator) SetSourceCache(c *diskcache.Coordinator) {
	o.mu.Lock()
	o.coordinator = c
	o.mu.Unlock()
	if c != nil {
		c.SetHandlers(o.onDiskReady, o.onDiskError)
	}
}

// RequestPreview asks for a preview of source at offset. When a synchronous
// cache tier already holds the preview it is delivered before this call
// returns; otherwise the request is queued and resolved asynchronously. The
// returned ID identifies the request for cancellation and event correlation.
func (o *Orchestrator) RequestPreview(source string, offset uint64, priority types.Priority, callback func(*types.PreviewData)) string {
	req := types.NewPreviewRequest(source, offset, priority, callback)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return req.ID
	}
	if o.lastPreview != nil && o.lastPreview.Source == source && o.lastPreview.Offset == offset {
		data := o.lastPreview
		o.mu.Unlock()
		o.recorder.RecordHit("l1")
		o.deliver(req, data)
		return req.ID
	}
	o.mu.Unlock()

	if data := o.memCache.Get(types.CacheKey(source, offset)); data != nil {
		o.recorder.RecordHit("l2")
		o.deliver(req, data)
		return req.ID
	}

	o.mu.Lock()
	o.active[req.ID] = req
	heap.Push(&o.queue, req)
	depth := o.queue.Len()
	o.mu.Unlock()

	if r, ok := o.recorder.(gaugeRecorder); ok {
		r.SetQueueDepth(depth)
	}
	o.emitLoading(types.LoadingEvent{
		RequestID: req.ID,
		Message:   fmt.Sprintf("loading preview at 0x%08x", offset),
	})
	o.wakeScheduler()
	return req.ID
}

// CancelRequest marks the request cancelled. A queued request is silently
// dropped; an in-flight one finishes but its delivery and error events are
// suppressed. Returns false when the ID is unknown or already resolved.
func (o *Orchestrator) CancelRequest(id string) bool {
	o.mu.Lock()
	req, ok := o.active[id]
	if !ok || req.Cancelled {
		o.mu.Unlock()
		return false
	}
	req.Cancelled = true
	o.mu.Unlock()

	o.recorder.RecordCancellation()
	o.logger.Debug("request cancelled", "request_id", id)
	return true
}

// ClearCache drops the in-process tiers. On-disk entries are untouched; only
// the coordinator's short-lived mirror is invalidated alongside.
func (o *Orchestrator) ClearCache() {
	o.mu.Lock()
	o.lastPreview = nil
	coordinator := o.coordinator
	o.mu.Unlock()

	o.memCache.Clear()
	if coordinator != nil {
		coordinator.ClearMemoryCache()
	}
	o.logger.Info("in-memory preview caches cleared")
}

// CacheStats returns the in-memory tier statistics.
func (o *Orchestrator) CacheStats() types.CacheStats {
	return o.memCache.Stats()
}

// Metrics returns a snapshot of the rolling request counters.
func (o *Orchestrator) Metrics() types.PreviewMetrics {
	return o.recorder.Snapshot()
}

// SubscribeReady registers fn to receive every delivered preview.
func (o *Orchestrator) SubscribeReady(fn func(types.ReadyEvent)) {
	o.mu.Lock()
	o.readySubs = append(o.readySubs, fn)
	o.mu.Unlock()
}

// SubscribeError registers fn to receive terminal request failures.
func (o *Orchestrator) SubscribeError(fn func(requestID string, err *perr.PreviewError)) {
	o.mu.Lock()
	o.errorSubs = append(o.errorSubs, fn)
	o.mu.Unlock()
}

// SubscribeLoading registers fn to be told when a request goes asynchronous.
func (o *Orchestrator) SubscribeLoading(fn func(types.LoadingEvent)) {
	o.mu.Lock()
	o.loadingSubs = append(o.loadingSubs, fn)
	o.mu.Unlock()
}

// SubscribeMetrics registers fn to receive periodic metrics snapshots.
func (o *Orchestrator) SubscribeMetrics(fn func(types.PreviewMetrics)) {
	o.mu.Lock()
	o.metricsSubs = append(o.metricsSubs, fn)
	o.mu.Unlock()
}

// Close stops the scheduler and waits for in-flight generations to finish.
// The attached disk coordinator is not closed; its owner remains responsible
// for flushing pending saves.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	close(o.stop)
	o.wg.Wait()
}

func (o *Orchestrator) wakeScheduler() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) schedule() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stop:
			return
		case <-o.wake:
		}
		for o.slots.TryAcquire(1) {
			req := o.popNext()
			if req == nil {
				o.slots.Release(1)
				break
			}
			o.wg.Add(1)
			go o.resolve(req)
		}
	}
}

// popNext removes the highest-priority live request, discarding any that were
// cancelled while queued.
func (o *Orchestrator) popNext() *types.PreviewRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.queue.Len() > 0 {
		req := heap.Pop(&o.queue).(*types.PreviewRequest)
		if req.Cancelled {
			delete(o.active, req.ID)
			continue
		}
		return req
	}
	return nil
}

// resolve drives a dispatched request to a terminal state: disk hit,
// generated preview, timeout, or error. Exactly one terminal accounting call
// is made per dispatched request.
func (o *Orchestrator) resolve(req *types.PreviewRequest) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		o.inflight--
		n := o.inflight
		o.mu.Unlock()
		if r, ok := o.recorder.(gaugeRecorder); ok {
			r.SetActiveRequests(n)
		}
		o.slots.Release(1)
		o.wakeScheduler()
	}()

	o.mu.Lock()
	o.inflight++
	n := o.inflight
	coordinator := o.coordinator
	o.mu.Unlock()
	if r, ok := o.recorder.(gaugeRecorder); ok {
		r.SetActiveRequests(n)
	}

	start := time.Now()
	deadline := req.CreatedAt.Add(o.config.RequestTimeout)

	if coordinator != nil {
		res, timedOut := o.lookupDisk(coordinator, req, deadline)
		if timedOut {
			o.recorder.RecordCompletion(time.Since(start))
			o.fail(req, perr.New(perr.TypeTimeout, "preview request timed out").
				WithRequestID(req.ID).
				WithDetail("offset", req.Offset))
			return
		}
		if res == nil {
			// Shutting down.
			return
		}
		if res.err == nil {
			o.recorder.RecordHit("l3")
			o.recorder.RecordCompletion(time.Since(start))
			o.deliver(req, previewFromEntry(req, res.payload, res.metadata))
			return
		}
		if !perr.IsCacheMiss(res.err) && !perr.IsCacheExpired(res.err) {
			o.logger.Warn("disk cache lookup failed, regenerating",
				"request_id", req.ID, "error", res.err)
		}
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	data, err := o.generator.Generate(ctx, req.Source, req.Offset)
	elapsed := time.Since(start)
	o.recorder.RecordCompletion(elapsed)

	if err != nil {
		o.recorder.RecordMiss()
		o.fail(req, classifyGenerateError(req, ctx, err))
		return
	}

	if coordinator != nil {
		coordinator.SaveCachedAsync(req.Source, req.Offset, data.TileData, entryMetadata(data))
	}
	o.recorder.RecordMiss()
	o.deliver(req, data)
}

// lookupDisk issues an asynchronous disk lookup and waits for its result,
// the request deadline, or shutdown. A nil result with timedOut false means
// the orchestrator is stopping.
func (o *Orchestrator) lookupDisk(coordinator *diskcache.Coordinator, req *types.PreviewRequest, deadline time.Time) (*diskResult, bool) {
	ch := make(chan diskResult, 1)
	o.mu.Lock()
	o.diskWaiters[req.ID] = ch
	o.mu.Unlock()

	// Mirror hits complete synchronously inside this call, so the waiter
	// must already be registered.
	coordinator.GetCachedAsync(req.Source, req.Offset, req.ID)

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-ch:
		return &res, false
	case <-timer.C:
		o.dropWaiter(req.ID)
		return nil, true
	case <-o.stop:
		o.dropWaiter(req.ID)
		return nil, false
	}
}

func (o *Orchestrator) dropWaiter(id string) {
	o.mu.Lock()
	delete(o.diskWaiters, id)
	o.mu.Unlock()
}

func (o *Orchestrator) onDiskReady(requestID string, payload []byte, metadata map[string]interface{}) {
	o.completeDisk(requestID, diskResult{payload: payload, metadata: metadata})
}

func (o *Orchestrator) onDiskError(requestID string, err *perr.PreviewError) {
	o.completeDisk(requestID, diskResult{err: err})
}

func (o *Orchestrator) completeDisk(requestID string, res diskResult) {
	o.mu.Lock()
	ch := o.diskWaiters[requestID]
	delete(o.diskWaiters, requestID)
	o.mu.Unlock()
	if ch != nil {
		ch <- res
	}
}

// deliver publishes a resolved preview. The cache tiers are always updated,
// even for a cancelled request, so the work is not wasted; only the outward
// events are suppressed.
func (o *Orchestrator) deliver(req *types.PreviewRequest, data *types.PreviewData) {
	o.mu.Lock()
	cancelled := req.Cancelled
	o.lastPreview = data
	delete(o.active, req.ID)
	o.mu.Unlock()

	o.memCache.Put(types.CacheKey(data.Source, data.Offset), data)

	if cancelled {
		return
	}
	o.emitReady(types.ReadyEvent{RequestID: req.ID, Data: data})
	if req.Callback != nil {
		req.Callback(data)
	}
}

func (o *Orchestrator) fail(req *types.PreviewRequest, err *perr.PreviewError) {
	o.mu.Lock()
	cancelled := req.Cancelled
	delete(o.active, req.ID)
	o.mu.Unlock()

	if cancelled {
		return
	}
	o.recorder.RecordError()
	o.logger.Warn("preview request failed",
		"request_id", req.ID, "type", string(err.Type), "error", err)
	o.emitError(req.ID, err)
}

func (o *Orchestrator) emitReady(ev types.ReadyEvent) {
	o.mu.Lock()
	subs := make([]func(types.ReadyEvent), len(o.readySubs))
	copy(subs, o.readySubs)
	o.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (o *Orchestrator) emitError(requestID string, err *perr.PreviewError) {
	o.mu.Lock()
	subs := make([]func(string, *perr.PreviewError), len(o.errorSubs))
	copy(subs, o.errorSubs)
	o.mu.Unlock()
	for _, fn := range subs {
		fn(requestID, err)
	}
}

func (o *Orchestrator) emitLoading(ev types.LoadingEvent) {
	o.mu.Lock()
	subs := make([]func(types.LoadingEvent), len(o.loadingSubs))
	copy(subs, o.loadingSubs)
	o.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (o *Orchestrator) metricsLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.config.MetricsTick)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
		}

		snap := o.recorder.Snapshot()

		o.mu.Lock()
		subs := make([]func(types.PreviewMetrics), len(o.metricsSubs))
		copy(subs, o.metricsSubs)
		o.mu.Unlock()
		for _, fn := range subs {
			fn(snap)
		}

		if lookups := snap.CacheHits + snap.CacheMisses; lookups > 0 && snap.CacheHitRate() < degradedHitRate {
			o.logger.Warn("cache hit rate degraded",
				"hit_rate", snap.CacheHitRate(), "lookups", lookups)
		}
		if avg := snap.AvgResponseTime(); avg > degradedAvgTime {
			o.logger.Warn("average preview latency degraded",
				"avg", avg, "p99", snap.P99ResponseTime())
		}
	}
}

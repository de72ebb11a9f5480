package diskcache

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	perr "github.com/spritepal/previewcache/pkg/errors"
	"github.com/spritepal/previewcache/pkg/health"
	"github.com/spritepal/previewcache/pkg/types"
)

// ReadyHandler receives successful asynchronous cache lookups.
type ReadyHandler func(requestID string, payload []byte, metadata map[string]interface{})

// ErrorHandler receives failed asynchronous cache lookups, including misses
// and expirations.
type ErrorHandler func(requestID string, err *perr.PreviewError)

// CoordinatorConfig configures the disk cache coordinator.
type CoordinatorConfig struct {
	Directory      string
	TTL            time.Duration
	Compression    bool
	MirrorEntries  int
	MirrorTTL      time.Duration
	BatchIdleDelay time.Duration
	FlushThreshold int
}

const (
	defaultMirrorEntries  = 10
	defaultMirrorTTL      = 5 * time.Minute
	defaultBatchIdleDelay = 100 * time.Millisecond
	defaultFlushThreshold = 10

	// HealthComponent is the component name reported to the health tracker.
	HealthComponent = "diskcache"
)

type mirrorEntry struct {
	payload  []byte
	metadata map[string]interface{}
}

type saveOp struct {
	key      string
	payload  []byte
	metadata map[string]interface{}
}

// Coordinator wraps the disk cache worker with a short-TTL in-memory mirror
// and a batched save queue. The mirror absorbs repeated lookups for the same
// key within a scrubbing burst; the batch queue amortizes disk writes and
// flushes on whichever fires first, an idle timer or a pending-save
// threshold.
type Coordinator struct {
	worker *Worker
	mirror *expirable.LRU[string, mirrorEntry]
	logger *slog.Logger
	health *health.Tracker

	onReady ReadyHandler
	onError ErrorHandler

	mu        sync.Mutex
	pending   map[string]string // request id -> cache key
	saveQueue []saveOp
	saveTimer *time.Timer
	idleDelay time.Duration
	threshold int
	closed    bool
}

// NewCoordinator creates and starts a coordinator over the given directory.
// The health tracker is optional.
func NewCoordinator(config CoordinatorConfig, tracker *health.Tracker) (*Coordinator, error) {
	if config.Directory == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, perr.New(perr.TypeFileIO, "resolve cache directory").WithCause(err)
		}
		config.Directory = filepath.Join(home, ".previewcache")
	}
	if err := os.MkdirAll(config.Directory, 0750); err != nil {
		return nil, perr.Newf(perr.TypeFileIO, "create cache directory %s", config.Directory).WithCause(err)
	}
	if config.MirrorEntries <= 0 {
		config.MirrorEntries = defaultMirrorEntries
	}
	if config.MirrorTTL <= 0 {
		config.MirrorTTL = defaultMirrorTTL
	}
	if config.BatchIdleDelay <= 0 {
		config.BatchIdleDelay = defaultBatchIdleDelay
	}
	if config.FlushThreshold <= 0 {
		config.FlushThreshold = defaultFlushThreshold
	}

	c := &Coordinator{
		worker: NewWorker(WorkerConfig{
			Directory:   config.Directory,
			TTL:         config.TTL,
			Compression: config.Compression,
		}),
		mirror:    expirable.NewLRU[string, mirrorEntry](config.MirrorEntries, nil, config.MirrorTTL),
		logger:    slog.Default().With("component", "diskcache"),
		health:    tracker,
		pending:   make(map[string]string),
		idleDelay: config.BatchIdleDelay,
		threshold: config.FlushThreshold,
	}
	c.worker.SetHandlers(c.handleLoadResult, c.handleSaveResult)
	c.worker.Start()
	return c, nil
}

// SetHandlers registers the lookup completion callbacks
func (c *Coordinator) SetHandlers(onReady ReadyHandler, onError ErrorHandler) {
	c.onReady = onReady
	c.onError = onError
}

// Directory returns the on-disk cache directory
func (c *Coordinator) Directory() string {
	return c.worker.dir
}

// GetCachedAsync looks up the entry for (source, offset). A mirror hit
// completes synchronously via the ready handler; otherwise the lookup is
// delegated to the worker and completes from its goroutine.
func (c *Coordinator) GetCachedAsync(source string, offset uint64, requestID string) {
	key := types.CacheKey(source, offset)

	// The mirror handles its own per-entry TTL; expired entries simply
	// don't come back and we fall through to disk.
	if entry, ok := c.mirror.Get(key); ok {
		c.onReady(requestID, entry.payload, entry.metadata)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.onError(requestID, perr.New(perr.TypeCacheMiss, "disk cache closed").WithRequestID(requestID))
		return
	}
	c.pending[requestID] = key
	c.mu.Unlock()

	c.worker.Load(requestID, key)
}

// SaveCachedAsync queues a save for (source, offset). The entry is visible
// in the mirror immediately; the disk write happens when the batch queue
// flushes.
func (c *Coordinator) SaveCachedAsync(source string, offset uint64, payload []byte, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	key := types.CacheKey(source, offset)
	c.mirror.Add(key, mirrorEntry{payload: payload, metadata: metadata})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.saveQueue = append(c.saveQueue, saveOp{key: key, payload: payload, metadata: metadata})
	flushNow := len(c.saveQueue) >= c.threshold
	if flushNow {
		if c.saveTimer != nil {
			c.saveTimer.Stop()
			c.saveTimer = nil
		}
	} else {
		// Restart the idle timer on every enqueue.
		if c.saveTimer != nil {
			c.saveTimer.Stop()
		}
		c.saveTimer = time.AfterFunc(c.idleDelay, c.flush)
	}
	c.mu.Unlock()

	if flushNow {
		c.flush()
	}
}

// ClearMemoryCache empties the mirror; on-disk files are untouched.
func (c *Coordinator) ClearMemoryCache() {
	c.mirror.Purge()
}

// PendingSaves returns the number of queued, unflushed saves
func (c *Coordinator) PendingSaves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.saveQueue)
}

// Close flushes queued saves to the worker, then stops it. Queued saves are
// written rather than dropped: L3 exists to survive process restarts and the
// tail of the queue is exactly the most recent work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	batch := c.saveQueue
	c.saveQueue = nil
	c.mu.Unlock()

	for _, op := range batch {
		c.worker.Save(op.key, op.payload, op.metadata)
	}
	c.worker.Stop()
}

func (c *Coordinator) flush() {
	c.mu.Lock()
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	batch := c.saveQueue
	c.saveQueue = nil
	c.mu.Unlock()

	for _, op := range batch {
		c.worker.Save(op.key, op.payload, op.metadata)
	}
}

func (c *Coordinator) handleLoadResult(res LoadResult) {
	c.mu.Lock()
	key, ok := c.pending[res.RequestID]
	delete(c.pending, res.RequestID)
	c.mu.Unlock()

	if !ok {
		// Completion for a request nobody is waiting on anymore.
		return
	}

	if res.Err != nil {
		if c.health != nil && res.Err.Type == perr.TypeDecode {
			c.health.RecordFailure(HealthComponent, res.Err)
		}
		c.onError(res.RequestID, res.Err)
		return
	}

	c.mirror.Add(key, mirrorEntry{payload: res.Payload, metadata: res.Metadata})
	if c.health != nil {
		c.health.RecordSuccess(HealthComponent)
	}
	c.onReady(res.RequestID, res.Payload, res.Metadata)
}

func (c *Coordinator) handleSaveResult(res SaveResult) {
	if res.Err != nil {
		c.logger.Warn("cache save failed", "key", res.Key, "error", res.Err)
		if c.health != nil {
			c.health.RecordFailure(HealthComponent, res.Err)
		}
		return
	}
	if c.health != nil {
		c.health.RecordSuccess(HealthComponent)
	}
	c.logger.Debug("saved cache entry", "key", res.Key)
}

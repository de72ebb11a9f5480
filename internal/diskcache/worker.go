package diskcache

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	perr "github.com/spritepal/previewcache/pkg/errors"
)

// LoadResult is the completion event of an asynchronous load.
type LoadResult struct {
	RequestID string
	Key       string
	Payload   []byte
	Metadata  map[string]interface{}
	Err       *perr.PreviewError
}

// SaveResult is the completion event of an asynchronous save.
type SaveResult struct {
	Key string
	Err *perr.PreviewError
}

// LoadHandler receives load completions. It is invoked from the worker's
// goroutine (or from the caller's when the operation is refused) and must
// not block.
type LoadHandler func(LoadResult)

// SaveHandler receives save completions under the same rules as LoadHandler.
type SaveHandler func(SaveResult)

// WorkerConfig configures the disk cache worker.
type WorkerConfig struct {
	Directory   string
	TTL         time.Duration
	Compression bool
	QueueDepth  int
}

// Worker owns the single goroutine that performs all blocking cache file
// I/O. Loads and saves are enqueued and complete via handler callbacks;
// filesystem latency never blocks the caller. All I/O failures are converted
// to typed results — nothing propagates as a panic or unhandled error.
type Worker struct {
	dir      string
	ttl      time.Duration
	compress bool
	logger   *slog.Logger

	onLoad LoadHandler
	onSave SaveHandler

	mu      sync.Mutex
	stopped bool
	ops     chan operation
	done    chan struct{}
}

type operation struct {
	isLoad    bool
	requestID string
	key       string
	payload   []byte
	metadata  map[string]interface{}
}

const (
	defaultTTL        = 24 * time.Hour
	defaultQueueDepth = 256
)

// NewWorker creates a worker for the given directory. Handlers must be set
// before Start.
func NewWorker(config WorkerConfig) *Worker {
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = defaultQueueDepth
	}
	return &Worker{
		dir:      config.Directory,
		ttl:      config.TTL,
		compress: config.Compression,
		logger:   slog.Default().With("component", "diskcache-worker"),
		ops:      make(chan operation, config.QueueDepth),
		done:     make(chan struct{}),
	}
}

// SetHandlers registers the completion callbacks. Must be called before Start.
func (w *Worker) SetHandlers(onLoad LoadHandler, onSave SaveHandler) {
	w.onLoad = onLoad
	w.onSave = onSave
}

// Start launches the worker goroutine
func (w *Worker) Start() {
	go w.run()
}

// Stop refuses new operations and waits for already-enqueued ones to
// complete.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.ops)
	w.mu.Unlock()

	<-w.done
}

// Load asynchronously reads the cache entry for key. The result, tagged with
// requestID, is delivered to the load handler.
func (w *Worker) Load(requestID, key string) {
	op := operation{isLoad: true, requestID: requestID, key: key}
	if !w.enqueue(op) {
		w.onLoad(LoadResult{
			RequestID: requestID,
			Key:       key,
			Err:       perr.New(perr.TypeFileIO, "disk cache worker unavailable").WithRequestID(requestID),
		})
	}
}

// Save asynchronously persists payload and metadata under key.
func (w *Worker) Save(key string, payload []byte, metadata map[string]interface{}) {
	op := operation{key: key, payload: payload, metadata: metadata}
	if !w.enqueue(op) {
		w.onSave(SaveResult{
			Key: key,
			Err: perr.New(perr.TypeFileIO, "disk cache worker unavailable"),
		})
	}
}

func (w *Worker) enqueue(op operation) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	select {
	case w.ops <- op:
		return true
	default:
		// Queue full; refuse rather than block the coordination path.
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for op := range w.ops {
		if op.isLoad {
			w.onLoad(w.handleLoad(op.requestID, op.key))
		} else {
			w.onSave(w.handleSave(op.key, op.payload, op.metadata))
		}
	}
}

func (w *Worker) handleLoad(requestID, key string) LoadResult {
	result := LoadResult{RequestID: requestID, Key: key}
	path := w.entryPath(key)

	payload, metadata, rerr := ReadEntry(path)
	if rerr != nil {
		if rerr.Type == perr.TypeDecode {
			// Corrupted entry: delete so the next write self-heals it.
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				w.logger.Warn("failed to remove corrupted cache file", "path", path, "error", err)
			}
		}
		result.Err = rerr.WithRequestID(requestID)
		return result
	}

	ts, ok := EntryTimestamp(metadata)
	if !ok {
		_ = os.Remove(path)
		result.Err = perr.Newf(perr.TypeDecode, "cache file %s missing timestamp", path).WithRequestID(requestID)
		return result
	}
	if time.Since(ts) > w.ttl {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove expired cache file", "path", path, "error", err)
		}
		result.Err = perr.New(perr.TypeCacheExpired, "cache expired").
			WithRequestID(requestID).
			WithDetail("age", time.Since(ts).String())
		return result
	}

	result.Payload = payload
	result.Metadata = metadata
	return result
}

func (w *Worker) handleSave(key string, payload []byte, metadata map[string]interface{}) SaveResult {
	result := SaveResult{Key: key}
	if err := WriteEntry(w.entryPath(key), payload, metadata, w.compress); err != nil {
		if pe, ok := err.(*perr.PreviewError); ok {
			result.Err = pe
		} else {
			result.Err = perr.New(perr.TypeFileIO, "save cache entry").WithCause(err)
		}
	}
	return result
}

func (w *Worker) entryPath(key string) string {
	return filepath.Join(w.dir, key+FileExt)
}

package types

import (
	"context"
	"time"
)

// Generator produces a preview for a (source, offset) pair. Implementations
// may be slow (tens to hundreds of milliseconds); the orchestrator bounds how
// many invocations run concurrently, not the generator itself. Generators
// must be safe to invoke repeatedly for the same key and should honor
// cancellation of the supplied context.
type Generator interface {
	Generate(ctx context.Context, source string, offset uint64) (*PreviewData, error)
}

// GeneratorFunc adapts a plain function to the Generator interface
type GeneratorFunc func(ctx context.Context, source string, offset uint64) (*PreviewData, error)

// Generate implements Generator
func (f GeneratorFunc) Generate(ctx context.Context, source string, offset uint64) (*PreviewData, error) {
	return f(ctx, source, offset)
}

// Cache defines the in-process cache tier interface
type Cache interface {
	Get(key string) *PreviewData
	Put(key string, data *PreviewData)
	Clear()
	Size() int64
	Stats() CacheStats
}

// MetricsRecorder receives per-request accounting from the orchestrator
type MetricsRecorder interface {
	RecordHit(tier string)
	RecordMiss()
	RecordError()
	RecordCancellation()
	RecordCompletion(latency time.Duration)
	Snapshot() PreviewMetrics
}

// ReadyEvent carries a resolved preview to subscribers
type ReadyEvent struct {
	RequestID string
	Data      *PreviewData
}

// LoadingEvent announces that a request missed the synchronous cache tiers
// and is being resolved asynchronously.
type LoadingEvent struct {
	RequestID string
	Message   string
}

package types

import (
	"crypto/sha256"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Priority orders preview requests in the dispatch queue. Lower values are
// served first: an Urgent request preempts everything else waiting.
type Priority int

const (
	PriorityUrgent Priority = iota // user is waiting on this preview
	PriorityHigh                   // user selection
	PriorityNormal                 // user scrolling
	PriorityLow                    // background prefetch
)

// String returns the string representation of a priority level
func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// PreviewRequest represents one in-flight ask for a preview.
//
// The Cancelled flag is owned by the orchestrator and must only be read or
// written under its coordination lock.
type PreviewRequest struct {
	ID        string
	Source    string
	Offset    uint64
	Priority  Priority
	CreatedAt time.Time
	Cancelled bool
	Callback  func(*PreviewData)
}

// NewPreviewRequest creates a request with a fresh ID and creation timestamp
func NewPreviewRequest(source string, offset uint64, priority Priority, callback func(*PreviewData)) *PreviewRequest {
	return &PreviewRequest{
		ID:        uuid.NewString(),
		Source:    source,
		Offset:    offset,
		Priority:  priority,
		CreatedAt: time.Now(),
		Callback:  callback,
	}
}

// Less reports whether this request should be dispatched before other.
// Higher priority wins; equal priorities fall back to submission order.
func (r *PreviewRequest) Less(other *PreviewRequest) bool {
	if r.Priority != other.Priority {
		return r.Priority < other.Priority
	}
	return r.CreatedAt.Before(other.CreatedAt)
}

// PreviewData is a resolved preview. Once handed to a cache tier it is
// treated as immutable and may be shared by reference across tiers.
type PreviewData struct {
	TileData    []byte                 `json:"-"`
	Width       int                    `json:"width"`
	Height      int                    `json:"height"`
	Offset      uint64                 `json:"offset"`
	Source      string                 `json:"source"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`

	// Image is an optional rendered bitmap; it may be absent when only the
	// raw tile bytes were cached.
	Image *image.RGBA `json:"-"`
}

// SizeBytes returns the approximate memory footprint of the preview: the raw
// tile bytes plus a 4-bytes-per-pixel RGBA footprint when an image is present.
func (d *PreviewData) SizeBytes() int64 {
	size := int64(len(d.TileData))
	if d.Image != nil {
		size += int64(d.Width) * int64(d.Height) * 4
	}
	return size
}

// PreviewMetrics is a point-in-time snapshot of the rolling request counters.
type PreviewMetrics struct {
	TotalRequests   uint64          `json:"total_requests"`
	CacheHits       uint64          `json:"cache_hits"`
	CacheMisses     uint64          `json:"cache_misses"`
	Errors          uint64          `json:"errors"`
	Cancellations   uint64          `json:"cancellations"`
	TotalTime       time.Duration   `json:"total_time"`
	GenerationTimes []time.Duration `json:"-"`
}

// CacheHitRate returns the fraction of lookups served from a cache tier,
// or 0 when no lookups have been recorded.
func (m *PreviewMetrics) CacheHitRate() float64 {
	total := m.CacheHits + m.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(total)
}

// AvgResponseTime returns the mean completed-request latency, or 0 when no
// requests have completed.
func (m *PreviewMetrics) AvgResponseTime() time.Duration {
	if m.TotalRequests == 0 {
		return 0
	}
	return time.Duration(int64(m.TotalTime) / int64(m.TotalRequests))
}

// P99ResponseTime returns the 99th percentile of recorded generation
// latencies, or 0 when none have been recorded.
func (m *PreviewMetrics) P99ResponseTime() time.Duration {
	if len(m.GenerationTimes) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.GenerationTimes))
	copy(sorted, m.GenerationTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * 0.99)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// CacheKey derives the deterministic cache key shared by every tier for a
// (source, offset) pair: a short hash of the source identifier followed by
// the zero-padded hex offset.
func CacheKey(source string, offset uint64) string {
	hash := sha256.Sum256([]byte(source))
	return fmt.Sprintf("%x_%08x", hash[:4], offset)
}

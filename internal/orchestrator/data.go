package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/spritepal/previewcache/internal/diskcache"
	perr "github.com/spritepal/previewcache/pkg/errors"
	"github.com/spritepal/previewcache/pkg/types"
)

const defaultPreviewSide = 128

// previewFromEntry rebuilds a PreviewData from a disk cache payload and its
// metadata. Dimensions default when the entry predates them.
func previewFromEntry(req *types.PreviewRequest, payload []byte, metadata map[string]interface{}) *types.PreviewData {
	data := &types.PreviewData{
		TileData: payload,
		Width:    metadataInt(metadata, "width", defaultPreviewSide),
		Height:   metadataInt(metadata, "height", defaultPreviewSide),
		Offset:   req.Offset,
		Source:   req.Source,
		Metadata: metadata,
	}
	if ts, ok := diskcache.EntryTimestamp(metadata); ok {
		data.GeneratedAt = ts
	} else {
		data.GeneratedAt = time.Now()
	}
	return data
}

// entryMetadata flattens a preview into the metadata map persisted next to
// its payload.
func entryMetadata(data *types.PreviewData) map[string]interface{} {
	md := make(map[string]interface{}, len(data.Metadata)+2)
	for k, v := range data.Metadata {
		md[k] = v
	}
	md["width"] = data.Width
	md["height"] = data.Height
	return md
}

func metadataInt(metadata map[string]interface{}, key string, fallback int) int {
	switch v := metadata[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// classifyGenerateError maps a generator failure to a typed error, preferring
// the deadline over whatever the generator surfaced when both apply.
func classifyGenerateError(req *types.PreviewRequest, ctx context.Context, err error) *perr.PreviewError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return perr.New(perr.TypeTimeout, "preview generation exceeded the request deadline").
			WithRequestID(req.ID).
			WithDetail("offset", req.Offset).
			WithCause(err)
	}

	var pe *perr.PreviewError
	if errors.As(err, &pe) {
		if pe.RequestID == "" {
			return pe.WithRequestID(req.ID)
		}
		return pe
	}

	return perr.New(perr.TypeInternal, "preview generation failed").
		WithRequestID(req.ID).
		WithDetail("offset", req.Offset).
		WithCause(err)
}

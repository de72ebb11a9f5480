package diskcache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	perr "github.com/spritepal/previewcache/pkg/errors"
)

// Cache file layout: a 4-byte little-endian length prefix, that many bytes of
// JSON metadata, then the raw payload bytes to end-of-file. Metadata always
// carries "timestamp" as Unix epoch seconds; a "codec" key marks a
// compressed payload.

const (
	// FileExt is the extension of on-disk cache entries.
	FileExt = ".cache"

	metaLenBytes = 4

	// codecKey marks the payload compression codec in entry metadata.
	codecKey  = "codec"
	codecGzip = "gzip"

	// TimestampKey is the metadata key holding the entry's creation time.
	TimestampKey = "timestamp"
)

// WriteEntry persists metadata and payload to path atomically: the bytes are
// staged in a temporary file in the same directory and renamed over the final
// name, so a concurrent reader sees either the old content or the new
// content, never a mix. The written metadata is stamped with the current time
// unless a timestamp is already present. The caller's map is never written
// to; it may be aliased by cache tiers on other goroutines.
func WriteEntry(path string, payload []byte, metadata map[string]interface{}, compress bool) error {
	md := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		md[k] = v
	}
	if _, ok := md[TimestampKey]; !ok {
		md[TimestampKey] = float64(time.Now().UnixNano()) / float64(time.Second)
	}

	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return perr.New(perr.TypeInternal, "compress payload").WithCause(err)
		}
		if err := zw.Close(); err != nil {
			return perr.New(perr.TypeInternal, "compress payload").WithCause(err)
		}
		payload = buf.Bytes()
		md[codecKey] = codecGzip
	}

	metaJSON, err := json.Marshal(md)
	if err != nil {
		return perr.New(perr.TypeInternal, "encode cache metadata").WithCause(err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return perr.Newf(perr.TypeFileIO, "create cache directory %s", dir).WithCause(err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return perr.New(perr.TypeFileIO, "create temp cache file").WithCause(err)
	}
	tmpPath := tmp.Name()

	var lenPrefix [metaLenBytes]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(metaJSON)))

	for _, chunk := range [][]byte{lenPrefix[:], metaJSON, payload} {
		if _, err := tmp.Write(chunk); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return perr.New(perr.TypeFileIO, "write cache file").WithCause(err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return perr.New(perr.TypeFileIO, "close cache file").WithCause(err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return perr.New(perr.TypeFileIO, "publish cache file").WithCause(err)
	}
	return nil
}

// ReadEntry reads and decodes the cache entry at path. Missing files come
// back as TypeCacheMiss; truncated or malformed content as TypeDecode; other
// I/O failures as TypeFileIO. ReadEntry does not check expiration.
func ReadEntry(path string) ([]byte, map[string]interface{}, *perr.PreviewError) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, perr.New(perr.TypeCacheMiss, "cache miss").WithDetail("path", path)
		}
		return nil, nil, perr.Newf(perr.TypeFileIO, "read cache file %s", path).WithCause(err)
	}

	if len(raw) < metaLenBytes {
		return nil, nil, perr.Newf(perr.TypeDecode, "cache file %s truncated before metadata length", path)
	}
	metaLen := int(binary.LittleEndian.Uint32(raw[:metaLenBytes]))
	if metaLen < 0 || metaLenBytes+metaLen > len(raw) {
		return nil, nil, perr.Newf(perr.TypeDecode, "cache file %s metadata length %d exceeds file size", path, metaLen)
	}

	var metadata map[string]interface{}
	if err := json.Unmarshal(raw[metaLenBytes:metaLenBytes+metaLen], &metadata); err != nil {
		return nil, nil, perr.Newf(perr.TypeDecode, "cache file %s metadata malformed", path).WithCause(err)
	}

	payload := raw[metaLenBytes+metaLen:]

	if codec, _ := metadata[codecKey].(string); codec == codecGzip {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, nil, perr.Newf(perr.TypeDecode, "cache file %s payload not valid gzip", path).WithCause(err)
		}
		payload, err = io.ReadAll(zr)
		if err != nil {
			return nil, nil, perr.Newf(perr.TypeDecode, "cache file %s payload decompression failed", path).WithCause(err)
		}
	}

	return payload, metadata, nil
}

// EntryTimestamp extracts the creation time from entry metadata.
func EntryTimestamp(metadata map[string]interface{}) (time.Time, bool) {
	ts, ok := metadata[TimestampKey].(float64)
	if !ok {
		return time.Time{}, false
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec), true
}

/*
Package diskcache implements the persistent preview cache tier.

# Overview

The disk tier survives process restarts: previews generated in one session
are served from disk in the next. All blocking file I/O runs on a single
worker goroutine so filesystem latency never stalls request coordination.

Architecture

	┌──────────────┐
	│ Coordinator  │  ← mirror (short-TTL LRU) + batched save queue
	└──────┬───────┘
	       │ operations channel
	┌──────▼───────┐
	│    Worker    │  ← the only goroutine that touches the filesystem
	└──────┬───────┘
	       │
	┌──────▼───────┐
	│  .cache file │  ← 4-byte LE metadata length | JSON metadata | payload
	└──────────────┘

# File Format

Every entry is a single file named <key>.cache:

	[0:4]   little-endian uint32, metadata length N
	[4:4+N] JSON metadata object (always carries "timestamp"; "codec"
	        marks a gzip-compressed payload)
	[4+N:]  payload bytes to end of file

Writes stage to a temporary file in the same directory and publish with an
atomic rename, so readers see either the old entry or the new one, never a
torn mix. Entries that fail to decode are deleted on first access; the next
save recreates them cleanly.

# Expiration

Loads check the metadata timestamp against the configured TTL (24h by
default). Expired entries are deleted and reported as CACHE_EXPIRED, which
callers treat as a miss.

# Usage

	coordinator, err := diskcache.NewCoordinator(diskcache.CoordinatorConfig{
		Directory: "/home/user/.previewcache",
		TTL:       24 * time.Hour,
	}, tracker)
	if err != nil {
		log.Fatal(err)
	}
	defer coordinator.Close()

	coordinator.SetHandlers(onReady, onError)
	coordinator.GetCachedAsync("game.sfc", 0x8000, requestID)
	coordinator.SaveCachedAsync("game.sfc", 0x8000, payload, metadata)

Close flushes the queued saves before stopping the worker, so the most
recent previews are never lost to shutdown.
*/
package diskcache

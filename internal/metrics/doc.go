/*
Package metrics provides request accounting and Prometheus export for the
preview pipeline.

The Recorder maintains the rolling counters behind PreviewMetrics snapshots:
hits and misses per lookup, errors, cancellations, and a bounded window of
generation latencies for percentile math. The Collector exports the same
events as Prometheus metrics over HTTP when enabled.

Exported metrics:

	previewcache_requests_total{outcome}        delivered / error / cancelled
	previewcache_cache_requests_total{tier,result}
	previewcache_generation_duration_seconds    latency histogram
	previewcache_queue_depth                    queued requests gauge
	previewcache_active_requests                in-flight generations gauge

The collector is optional everywhere: a Recorder constructed with a nil
collector keeps full snapshot accounting with no export overhead.
*/
package metrics

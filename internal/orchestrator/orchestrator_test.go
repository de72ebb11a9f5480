package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spritepal/previewcache/internal/diskcache"
	"github.com/spritepal/previewcache/internal/metrics"
	perr "github.com/spritepal/previewcache/pkg/errors"
	"github.com/spritepal/previewcache/pkg/types"
)

// stubGenerator renders deterministic previews and records call activity.
type stubGenerator struct {
	mu        sync.Mutex
	calls     int
	active    int
	maxActive int

	delay time.Duration
	err   error
}

func (g *stubGenerator) Generate(ctx context.Context, source string, offset uint64) (*types.PreviewData, error) {
	g.mu.Lock()
	g.calls++
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	delay, err := g.delay, g.err
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.PreviewData{
		TileData:    []byte(fmt.Sprintf("%s@%x", source, offset)),
		Width:       128,
		Height:      128,
		Offset:      offset,
		Source:      source,
		GeneratedAt: time.Now(),
	}, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newTestOrchestrator(t *testing.T, gen types.Generator, config Config) *Orchestrator {
	t.Helper()
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 2 * time.Second
	}
	o := New(gen, metrics.NewRecorder(nil, 0), config)
	t.Cleanup(o.Close)
	return o
}

func awaitPreview(t *testing.T, ch chan *types.PreviewData) *types.PreviewData {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for preview delivery")
		return nil
	}
}

// TestGenerateAndDeliver tests the full miss-to-delivery flow
func TestGenerateAndDeliver(t *testing.T) {
	gen := &stubGenerator{}
	o := newTestOrchestrator(t, gen, Config{})

	delivered := make(chan *types.PreviewData, 1)
	id := o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, func(d *types.PreviewData) {
		delivered <- d
	})
	require.NotEmpty(t, id)

	data := awaitPreview(t, delivered)
	assert.Equal(t, "game.sfc", data.Source)
	assert.Equal(t, uint64(0x8000), data.Offset)
	assert.Equal(t, 1, gen.callCount())

	snap := o.Metrics()
	assert.Equal(t, uint64(1), snap.TotalRequests)
	assert.Equal(t, uint64(1), snap.CacheMisses)
	assert.Len(t, snap.GenerationTimes, 1)
}

// TestRepeatRequestServedFromLastPreview tests the synchronous fast path
func TestRepeatRequestServedFromLastPreview(t *testing.T) {
	gen := &stubGenerator{}
	o := newTestOrchestrator(t, gen, Config{})

	delivered := make(chan *types.PreviewData, 2)
	o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, func(d *types.PreviewData) {
		delivered <- d
	})
	first := awaitPreview(t, delivered)

	// Second identical request must complete synchronously via the
	// last-preview tier: the callback fires before RequestPreview returns.
	var second *types.PreviewData
	o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, func(d *types.PreviewData) {
		second = d
	})
	require.NotNil(t, second)
	assert.Same(t, first, second)
	assert.Equal(t, 1, gen.callCount(), "generator must not run again")
	assert.Equal(t, uint64(1), o.Metrics().CacheHits)
}

// TestMemoryTierHit tests the LRU fallback when the last preview moved on
func TestMemoryTierHit(t *testing.T) {
	gen := &stubGenerator{}
	o := newTestOrchestrator(t, gen, Config{})

	delivered := make(chan *types.PreviewData, 4)
	cb := func(d *types.PreviewData) { delivered <- d }

	o.RequestPreview("game.sfc", 0x1000, types.PriorityNormal, cb)
	awaitPreview(t, delivered)
	o.RequestPreview("game.sfc", 0x2000, types.PriorityNormal, cb)
	awaitPreview(t, delivered)

	// 0x1000 is no longer the last preview but still in the memory cache.
	var cached *types.PreviewData
	o.RequestPreview("game.sfc", 0x1000, types.PriorityNormal, func(d *types.PreviewData) { cached = d })
	require.NotNil(t, cached, "memory tier hit should deliver synchronously")
	assert.Equal(t, uint64(0x1000), cached.Offset)
	assert.Equal(t, 2, gen.callCount())
}

// TestReadyEventSubscription tests the event stream alongside callbacks
func TestReadyEventSubscription(t *testing.T) {
	gen := &stubGenerator{}
	o := newTestOrchestrator(t, gen, Config{})

	events := make(chan types.ReadyEvent, 1)
	o.SubscribeReady(func(ev types.ReadyEvent) { events <- ev })

	loading := make(chan types.LoadingEvent, 1)
	o.SubscribeLoading(func(ev types.LoadingEvent) { loading <- ev })

	id := o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, nil)

	select {
	case ev := <-loading:
		assert.Equal(t, id, ev.RequestID)
	case <-time.After(time.Second):
		t.Fatal("missing loading event")
	}
	select {
	case ev := <-events:
		assert.Equal(t, id, ev.RequestID)
		assert.NotNil(t, ev.Data)
	case <-time.After(3 * time.Second):
		t.Fatal("missing ready event")
	}
}

// TestCancellationSuppressesDelivery tests that cancelled requests stay silent
func TestCancellationSuppressesDelivery(t *testing.T) {
	gen := &stubGenerator{delay: 200 * time.Millisecond}
	o := newTestOrchestrator(t, gen, Config{})

	var mu sync.Mutex
	delivered := 0
	failed := 0
	o.SubscribeReady(func(types.ReadyEvent) { mu.Lock(); delivered++; mu.Unlock() })
	o.SubscribeError(func(string, *perr.PreviewError) { mu.Lock(); failed++; mu.Unlock() })

	id := o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, func(*types.PreviewData) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	require.True(t, o.CancelRequest(id))

	// Let the in-flight generation finish.
	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, delivered, "cancelled request must not deliver")
	assert.Zero(t, failed, "cancelled request must not error")
	assert.Equal(t, uint64(1), o.Metrics().Cancellations)
}

// TestCancelUnknownRequest tests cancellation of finished or bogus IDs
func TestCancelUnknownRequest(t *testing.T) {
	o := newTestOrchestrator(t, &stubGenerator{}, Config{})
	assert.False(t, o.CancelRequest("no-such-request"))
}

// TestConcurrencyBound tests the generation slot limit
func TestConcurrencyBound(t *testing.T) {
	gen := &stubGenerator{delay: 100 * time.Millisecond}
	o := newTestOrchestrator(t, gen, Config{MaxConcurrentRequests: 4})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		o.RequestPreview("game.sfc", uint64(i)*0x1000, types.PriorityNormal, func(*types.PreviewData) {
			wg.Done()
		})
	}
	wg.Wait()

	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.LessOrEqual(t, gen.maxActive, 4, "no more than 4 generations may run at once")
	assert.Equal(t, 12, gen.calls)
}

// TestTimeoutProducesTypedError tests the per-request deadline
func TestTimeoutProducesTypedError(t *testing.T) {
	gen := &stubGenerator{delay: time.Second}
	o := newTestOrchestrator(t, gen, Config{RequestTimeout: 100 * time.Millisecond})

	errs := make(chan *perr.PreviewError, 1)
	o.SubscribeError(func(_ string, err *perr.PreviewError) { errs <- err })

	o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, nil)

	select {
	case err := <-errs:
		assert.Equal(t, perr.TypeTimeout, err.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("missing timeout error")
	}
	assert.Equal(t, uint64(1), o.Metrics().Errors)
}

// TestGeneratorFailureSurfacesError tests error event wiring
func TestGeneratorFailureSurfacesError(t *testing.T) {
	gen := &stubGenerator{err: fmt.Errorf("bad tile data")}
	o := newTestOrchestrator(t, gen, Config{})

	errs := make(chan *perr.PreviewError, 1)
	ids := make(chan string, 1)
	o.SubscribeError(func(id string, err *perr.PreviewError) {
		ids <- id
		errs <- err
	})

	id := o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, nil)

	select {
	case err := <-errs:
		assert.Equal(t, perr.TypeInternal, err.Type)
		assert.Equal(t, id, <-ids)
	case <-time.After(3 * time.Second):
		t.Fatal("missing error event")
	}
}

// TestDiskTierServesWithoutGenerator tests the asynchronous cache fallback
func TestDiskTierServesWithoutGenerator(t *testing.T) {
	gen := &stubGenerator{}
	o := newTestOrchestrator(t, gen, Config{})

	coordinator, err := diskcache.NewCoordinator(diskcache.CoordinatorConfig{
		Directory: t.TempDir(),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(coordinator.Close)
	o.SetSourceCache(coordinator)

	// Seed the cache out of band.
	coordinator.SaveCachedAsync("game.sfc", 0x8000, []byte("cached tiles"), map[string]interface{}{
		"width":  float64(64),
		"height": float64(64),
	})

	delivered := make(chan *types.PreviewData, 1)
	o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, func(d *types.PreviewData) {
		delivered <- d
	})

	data := awaitPreview(t, delivered)
	assert.Equal(t, []byte("cached tiles"), data.TileData)
	assert.Equal(t, 64, data.Width)
	assert.Zero(t, gen.callCount(), "disk hit must not invoke the generator")
	assert.Equal(t, uint64(1), o.Metrics().CacheHits)
}

// TestClearCacheForcesRegeneration tests in-memory invalidation
func TestClearCacheForcesRegeneration(t *testing.T) {
	gen := &stubGenerator{}
	o := newTestOrchestrator(t, gen, Config{})

	delivered := make(chan *types.PreviewData, 2)
	cb := func(d *types.PreviewData) { delivered <- d }

	o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, cb)
	awaitPreview(t, delivered)

	o.ClearCache()

	o.RequestPreview("game.sfc", 0x8000, types.PriorityNormal, cb)
	awaitPreview(t, delivered)
	assert.Equal(t, 2, gen.callCount(), "cleared tiers must regenerate")
}

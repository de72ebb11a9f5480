package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/spritepal/previewcache/internal/config"
	"github.com/spritepal/previewcache/internal/diskcache"
	"github.com/spritepal/previewcache/internal/generator"
	"github.com/spritepal/previewcache/internal/metrics"
	"github.com/spritepal/previewcache/internal/orchestrator"
	perr "github.com/spritepal/previewcache/pkg/errors"
	"github.com/spritepal/previewcache/pkg/health"
	"github.com/spritepal/previewcache/pkg/types"
)

func newWarmCmd() *cobra.Command {
	var (
		start    uint64
		end      uint64
		step     uint64
		priority string
	)

	cmd := &cobra.Command{
		Use:   "warm <rom-file>",
		Short: "Pre-generate previews over an offset range",
		Long:  "Walk the given ROM file from --start to --end in --step increments, generating and caching a preview for each offset.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			if _, err := os.Stat(source); err != nil {
				return fmt.Errorf("cannot access %s: %w", source, err)
			}
			if step == 0 {
				return fmt.Errorf("step must be greater than 0")
			}
			if end == 0 {
				info, err := os.Stat(source)
				if err != nil {
					return err
				}
				end = uint64(info.Size())
			}
			prio, err := parsePriority(priority)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runWarm(cmd, cfg, source, start, end, step, prio)
		},
	}

	cmd.Flags().Uint64Var(&start, "start", 0, "first offset to preview")
	cmd.Flags().Uint64Var(&end, "end", 0, "offset to stop at (default end of file)")
	cmd.Flags().Uint64Var(&step, "step", 0x2000, "offset increment between previews")
	cmd.Flags().StringVar(&priority, "priority", "low", "request priority: urgent, high, normal, low")

	return cmd
}

func runWarm(cmd *cobra.Command, cfg *config.Configuration, source string, start, end, step uint64, prio types.Priority) error {
	tracker := health.NewTracker(health.DefaultConfig())

	coordinator, err := diskcache.NewCoordinator(diskcache.CoordinatorConfig{
		Directory:      cfg.DiskCache.Directory,
		TTL:            cfg.DiskCache.TTL,
		Compression:    cfg.DiskCache.Compression,
		MirrorEntries:  cfg.DiskCache.Mirror.MaxEntries,
		MirrorTTL:      cfg.DiskCache.Mirror.TTL,
		BatchIdleDelay: cfg.DiskCache.SaveBatch.IdleDelay,
		FlushThreshold: cfg.DiskCache.SaveBatch.FlushThreshold,
	}, tracker)
	if err != nil {
		return err
	}
	defer coordinator.Close()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Port:      cfg.Metrics.Port,
		Path:      cfg.Metrics.Path,
		Namespace: "previewcache",
	})
	if err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if err := collector.Start(cmd.Context()); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = collector.Stop(ctx)
		}()
	}
	recorder := metrics.NewRecorder(collector, 0)

	budget, err := config.ParseSize(cfg.MemoryCache.Budget)
	if err != nil {
		return err
	}

	orch := orchestrator.New(generator.New(), recorder, orchestrator.Config{
		MaxConcurrentRequests: cfg.Orchestrator.MaxConcurrentRequests,
		MemoryCacheBudget:     budget,
		RequestTimeout:        cfg.Orchestrator.RequestTimeout,
		MetricsTick:           cfg.Orchestrator.MetricsTick,
	})
	defer orch.Close()
	orch.SetSourceCache(coordinator)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	orch.SubscribeReady(func(ev types.ReadyEvent) {
		wg.Done()
	})
	orch.SubscribeError(func(requestID string, err *perr.PreviewError) {
		mu.Lock()
		failed++
		mu.Unlock()
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %v\n", requestID, err)
		wg.Done()
	})

	began := time.Now()
	submitted := 0
	for offset := start; offset < end; offset += step {
		wg.Add(1)
		orch.RequestPreview(source, offset, prio, nil)
		submitted++
	}
	wg.Wait()

	snap := orch.Metrics()
	fmt.Fprintf(cmd.OutOrStdout(),
		"warmed %d offsets in %s (%d failed)\n", submitted, time.Since(began).Round(time.Millisecond), failed)
	fmt.Fprintf(cmd.OutOrStdout(),
		"  hit rate %.1f%%  avg %s  p99 %s\n",
		snap.CacheHitRate()*100, snap.AvgResponseTime().Round(time.Microsecond), snap.P99ResponseTime().Round(time.Microsecond))
	return nil
}

func parsePriority(s string) (types.Priority, error) {
	switch strings.ToLower(s) {
	case "urgent":
		return types.PriorityUrgent, nil
	case "high":
		return types.PriorityHigh, nil
	case "normal":
		return types.PriorityNormal, nil
	case "low":
		return types.PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spritepal/previewcache/internal/diskcache"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the on-disk preview cache",
		Long:  "Scan the cache directory and report entry count, total size, and age distribution.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir := cfg.DiskCache.Directory
			if dir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				dir = filepath.Join(home, ".previewcache")
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintf(cmd.OutOrStdout(), "cache directory %s does not exist\n", dir)
					return nil
				}
				return err
			}

			var (
				count     int
				totalSize int64
				expired   int
				oldest    time.Time
				newest    time.Time
			)
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), diskcache.FileExt) {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				count++
				totalSize += info.Size()

				_, metadata, rerr := diskcache.ReadEntry(filepath.Join(dir, entry.Name()))
				if rerr != nil {
					continue
				}
				ts, ok := diskcache.EntryTimestamp(metadata)
				if !ok {
					continue
				}
				if time.Since(ts) > cfg.DiskCache.TTL {
					expired++
				}
				if oldest.IsZero() || ts.Before(oldest) {
					oldest = ts
				}
				if ts.After(newest) {
					newest = ts
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cache directory: %s\n", dir)
			fmt.Fprintf(out, "entries:         %d (%d expired)\n", count, expired)
			fmt.Fprintf(out, "total size:      %.1f KB\n", float64(totalSize)/1024)
			if count > 0 && !oldest.IsZero() {
				fmt.Fprintf(out, "oldest entry:    %s ago\n", time.Since(oldest).Round(time.Second))
				fmt.Fprintf(out, "newest entry:    %s ago\n", time.Since(newest).Round(time.Second))
			}
			return nil
		},
	}
}

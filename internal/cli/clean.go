package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spritepal/previewcache/internal/diskcache"
	perr "github.com/spritepal/previewcache/pkg/errors"
)

func newCleanCmd() *cobra.Command {
	var (
		all    bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove expired cache entries",
		Long:  "Scan the cache directory and delete entries older than the configured TTL, plus any that fail to decode.",
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
					return nil
				}
				return err
			}

			removed := 0
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), diskcache.FileExt) {
					continue
				}
				path := filepath.Join(dir, entry.Name())

				remove := all
				if !remove {
					_, metadata, rerr := diskcache.ReadEntry(path)
					switch {
					case rerr != nil && rerr.Type == perr.TypeDecode:
						remove = true
					case rerr != nil:
						continue
					default:
						ts, ok := diskcache.EntryTimestamp(metadata)
						remove = !ok || time.Since(ts) > cfg.DiskCache.TTL
					}
				}
				if !remove {
					continue
				}

				if dryRun {
					fmt.Fprintf(cmd.OutOrStdout(), "would remove %s\n", entry.Name())
					removed++
					continue
				}
				if err := os.Remove(path); err == nil {
					removed++
				}
			}

			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d entries from %s\n", verb, removed, dir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "remove every entry, not just expired ones")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting")

	return cmd
}

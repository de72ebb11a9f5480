package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/spritepal/previewcache/internal/diskcache"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <cache-file>",
		Short: "Decode and print one cache entry",
		Long:  "Read a single cache file, validate its framing, and print its metadata and payload size.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, metadata, err := diskcache.ReadEntry(args[0])
			if err != nil {
				return fmt.Errorf("cannot decode %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "payload: %d bytes\n", len(payload))
			if ts, ok := diskcache.EntryTimestamp(metadata); ok {
				fmt.Fprintf(out, "written: %s (%s ago)\n",
					ts.Format(time.RFC3339), time.Since(ts).Round(time.Second))
			}

			keys := make([]string, 0, len(metadata))
			for k := range metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if k == diskcache.TimestampKey {
					continue
				}
				fmt.Fprintf(out, "%-12s %v\n", k+":", metadata[k])
			}
			return nil
		},
	}
}

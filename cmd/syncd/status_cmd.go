package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running and its last sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadedConfig(cmd)
			if err != nil {
				return err
			}

			pid, running := runningPID(cfg)
			if !running {
				fmt.Printf("%s  %s\n", red("stopped"), cfg.SyncRoot)
				return nil
			}
			fmt.Printf("%s  %s  (pid %d)\n", green("running"), cfg.SyncRoot, pid)

			store, err := openStateStoreReadOnly(cfg)
			if err != nil {
				return fmt.Errorf("syncd: reading state: %w", err)
			}
			defer store.Close()

			if lastSync, err := store.GetLastSync(); err == nil && !lastSync.IsZero() {
				fmt.Printf("last sync: %s\n", humanize.Time(lastSync))
			} else {
				fmt.Println("last sync: never")
			}

			if pending, err := store.PendingDownloads(); err == nil && len(pending) > 0 {
				fmt.Printf("pending downloads: %d\n", len(pending))
			}

			if downloadErrs, err := store.DownloadErrors(); err == nil && len(downloadErrs) > 0 {
				fmt.Printf("%s %d path(s) failed to download\n", red("warning:"), len(downloadErrs))
			}

			changes, err := store.RecentChanges()
			if err == nil && len(changes) > 0 {
				fmt.Println(cyan("recent changes:"))
				start := 0
				if len(changes) > 10 {
					start = len(changes) - 10
				}
				for _, c := range changes[start:] {
					fmt.Printf("  %s  %-8s %s\n", c.At.Format(time.Kitchen), c.Kind, c.Path)
				}
			}
			return nil
		},
	}
}

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orbitflux/syncd/internal/syncengine"
	"github.com/orbitflux/syncd/internal/version"
)

func init() {
	rootCmd.AddCommand(newStartCmd())
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sync daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadedConfig(cmd)
			if err != nil {
				return err
			}
			slog.Info("syncd starting", "version", version.Version, "revision", version.Revision, "sync_root", cfg.SyncRoot)
			showHeader()

			engine, err := syncengine.New(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := engine.Start(ctx); err != nil {
				return err
			}
			defer engine.Stop()

			// SIGUSR1/SIGUSR2 give `syncd pause`/`syncd resume` a way to
			// control an already-running daemon, since this daemon exposes
			// no inbound control-plane API (spec scope ends at the sync
			// core; see DESIGN.md).
			ctrl := make(chan os.Signal, 2)
			signal.Notify(ctrl, syscall.SIGUSR1, syscall.SIGUSR2)
			defer signal.Stop(ctrl)

			for {
				select {
				case <-ctx.Done():
					slog.Info("syncd shutting down")
					return nil
				case sig := <-ctrl:
					switch sig {
					case syscall.SIGUSR1:
						slog.Info("syncd pausing")
						engine.Pause()
					case syscall.SIGUSR2:
						slog.Info("syncd resuming")
						engine.Resume()
					}
				}
			}
		},
	}
	return cmd
}

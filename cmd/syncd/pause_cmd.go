package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPauseCmd())
	rootCmd.AddCommand(newResumeCmd())
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Suspend outbound and inbound syncing without stopping the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := loadedConfig(cmd)
			if err != nil {
				return err
			}
			if err := signalDaemon(cfg, syscall.SIGUSR1); err != nil {
				return err
			}
			fmt.Println(green("paused"))
			return nil
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume syncing after a pause",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := loadedConfig(cmd)
			if err != nil {
				return err
			}
			if err := signalDaemon(cfg, syscall.SIGUSR2); err != nil {
				return err
			}
			fmt.Println(green("resumed"))
			return nil
		},
	}
}

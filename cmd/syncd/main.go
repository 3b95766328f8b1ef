// Command syncd is the sync daemon's CLI entrypoint, assembling
// internal/config and internal/syncengine behind cobra subcommands the
// way cmd/client/main.go assembles the teacher's client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orbitflux/syncd/internal/config"
	"github.com/orbitflux/syncd/internal/utils"
	"github.com/orbitflux/syncd/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "syncd",
	Short:   "Bidirectional file sync daemon",
	Version: version.Detailed(),
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "syncd config file")
	rootCmd.PersistentFlags().StringP("syncroot", "r", config.DefaultSyncRoot, "directory to keep in sync")
}

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging combines a colorized stdout handler with a plain-text
// file handler, the same two-handler shape cmd/client/main.go uses.
func setupLogging() {
	logFile := config.DefaultLogFilePath
	if err := utils.EnsureParent(logFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{} // the interceptor stamps its own timestamp
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))
}

// loadConfig resolves the config file path, reads it if present, and
// binds cobra flags + SYNCD_* environment variables over it, the same
// precedence order cmd/client/main.go's loadConfig establishes.
func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".syncd"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config read %q: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("sync_root", cmd.Flags().Lookup("syncroot"))
	viper.SetEnvPrefix("SYNCD")
	viper.AutomaticEnv()

	return nil
}

// loadedConfig reads the config file + environment via loadConfig, then
// builds a validated config.Config from whatever ended up in viper.
func loadedConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := loadConfig(cmd); err != nil {
		return nil, err
	}
	cfg := &config.Config{
		Path:          viper.ConfigFileUsed(),
		SyncRoot:      viper.GetString("sync_root"),
		AccountEmail:  viper.GetString("account_email"),
		RemoteURL:     viper.GetString("remote_url"),
		ExcludedPaths: viper.GetStringSlice("excluded_paths"),
		AccessToken:   viper.GetString("access_token"),
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultConfigPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("syncd %s\n", version.Short())
}

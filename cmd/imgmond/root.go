package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/archiver"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/journal"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/pipeline"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/uploader"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/daemon/watcher"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/monitor/config"
	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/monitor/logging"
)

var (
	cfgFile    string
	watchDir   string
	archiveDir string
	endpoint   string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "imgmond",
		Short: "Watch a directory and upload new images to a remote endpoint",
		Long: `imgmond monitors a directory for newly captured images, waits for
each file to finish being written, uploads it to the configured ingestion
endpoint, and moves it into an archive directory on success.

It runs until interrupted. Failed files are left in place for manual
recovery and recorded in the journal (see "imgmond history").`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/imgmon/config.yaml)")
	rootCmd.Flags().StringVarP(&watchDir, "watch-dir", "w", "", "directory to monitor for new images")
	rootCmd.Flags().StringVarP(&archiveDir, "archive-dir", "a", "", "directory uploaded images are moved to")
	rootCmd.Flags().StringVarP(&endpoint, "endpoint", "u", "", "remote upload endpoint URL")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on the console")
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// loadConfig loads the configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if watchDir != "" {
		cfg.WatchDirectory = watchDir
	}
	if archiveDir != "" {
		cfg.ArchiveDirectory = archiveDir
	}
	if endpoint != "" {
		cfg.Upload.Endpoint = endpoint
	}
	if verbose {
		cfg.Logging.ConsoleLevel = "debug"
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// initLogging translates the file config into the logging package's config.
func initLogging(cfg *config.Config) error {
	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Path:         cfg.Logging.Path,
		ConsoleLevel: cfg.Logging.ConsoleLevel,
		Components:   cfg.Logging.Components,
	}

	if cfg.Logging.Rotation.MaxSize != "" {
		maxSize, err := humanize.ParseBytes(cfg.Logging.Rotation.MaxSize)
		if err != nil {
			return fmt.Errorf("parsing logging.rotation.max_size: %w", err)
		}
		logCfg.Rotation.MaxSize = int64(maxSize)
	}
	logCfg.Rotation.MaxBackups = cfg.Logging.Rotation.MaxBackups

	return logging.Init(logCfg)
}

// runDaemon is the long-running entry point.
func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := initLogging(cfg); err != nil {
		return err
	}
	defer func() { _ = logging.Close() }()

	log := logging.Get("daemon")

	if err := daemon.AcquirePIDFile(cfg.PIDPath); err != nil {
		return err
	}
	defer func() {
		if err := daemon.ReleasePIDFile(cfg.PIDPath); err != nil {
			log.Warn("failed to remove pid file", "path", cfg.PIDPath, "error", err)
		}
	}()

	jnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer func() { _ = jnl.Close() }()

	arch, err := archiver.New(cfg.ArchiveDirectory)
	if err != nil {
		return err
	}

	w, err := watcher.New(cfg.WatchDirectory, cfg.ExtensionSet())
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	up := uploader.NewHTTP(cfg.Upload.Endpoint, cfg.Upload.FieldName, cfg.Upload.Timeout)

	pipe := pipeline.New(pipeline.Config{
		SettleDelay:  cfg.SettleDelay,
		ScanInterval: cfg.ScanInterval,
		MaxAttempts:  cfg.Upload.MaxAttempts,
		RetryBackoff: cfg.Upload.RetryBackoff,
		Concurrency:  cfg.Upload.Concurrency,
	}, w, up, arch, jnl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("imgmond starting",
		"watch", cfg.WatchDirectory,
		"archive", cfg.ArchiveDirectory,
		"endpoint", cfg.Upload.Endpoint,
		"settle_delay", cfg.SettleDelay)

	err = pipe.Run(ctx)

	log.Info("imgmond stopped")
	return err
}

// Package main is the entrypoint for the dirhaul CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dirhaul/dirhaul/internal/backup"
	"github.com/dirhaul/dirhaul/internal/command"
	"github.com/dirhaul/dirhaul/internal/config"
	"github.com/dirhaul/dirhaul/internal/history"
	"github.com/dirhaul/dirhaul/internal/logging"
	"github.com/dirhaul/dirhaul/internal/metrics"
	"github.com/dirhaul/dirhaul/internal/notify"
	"github.com/dirhaul/dirhaul/internal/preflight"
	"github.com/dirhaul/dirhaul/internal/storage"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	envFile    string
}

// loadConfig loads the dotenv file, then the configuration with
// environment-over-file precedence.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}
	path := o.configFile
	if path == "" {
		path = os.Getenv("DIRHAUL_CONFIG")
	}
	return config.Load(path)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "dirhaul",
		Short: "Scheduled directory backups to object storage",
		Long: `dirhaul archives a directory into a timestamped tar.gz, uploads it to
object storage (Backblaze B2 via rclone, any S3 endpoint, or GCS), and
applies a keep-the-newest-N retention policy locally and remotely.

Configuration comes from the environment (JOB_NAME, BACKUP_SOURCE,
B2_BUCKET, B2_ACCOUNT_ID, B2_ACCOUNT_KEY, REMOTE_PATH, ...), optionally
layered over a YAML file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (or DIRHAUL_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newPruneCmd(opts),
		newHistoryCmd(opts),
		newScheduleCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dirhaul %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one backup run",
		Long: `Execute the full pipeline once: preflight, remote check, archive,
upload, local prune, remote prune.

Exits nonzero when configuration, preflight, the remote check, the
archive, or the upload fails. Retention and reporting failures are
logged but never change the exit code.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), opts)
		},
	}
}

func runRun(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger, logFile, err := logging.Open(cfg.LogDir, cfg.JobName, os.Stderr)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		logger.Warn().Str("signal", sig.String()).Msg("signal received, aborting run")
		cancel()
	}()

	job, cleanup, err := buildJob(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = job.Run(ctx)
	return err
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration, host, and remote credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), opts)
		},
	}
}

func runCheck(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration: OK (job %q, source %s)\n", cfg.JobName, cfg.Source)

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	if err := preflight.New(cfg, logger).Check(ctx); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	fmt.Println("Preflight: OK")

	remote, err := storage.ForConfig(ctx, cfg, command.NewSystem(logger), logger)
	if err != nil {
		return err
	}
	defer closeRemote(remote)

	if err := remote.Check(ctx); err != nil {
		return fmt.Errorf("remote %s: %w", remote.Name(), err)
	}
	fmt.Printf("Remote %s: OK\n", remote.Name())

	return nil
}

func newPruneCmd(opts *rootOptions) *cobra.Command {
	var localOnly, remoteOnly bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply retention without creating a new backup",
		Long: `Apply the retention policy to the local backup directory and the
remote prefix. A listing failure is a command error; individual delete
failures are logged and reported in the summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if localOnly && remoteOnly {
				return errors.New("--local-only and --remote-only are mutually exclusive")
			}
			return runPrune(cmd.Context(), opts, localOnly, remoteOnly)
		},
	}

	cmd.Flags().BoolVar(&localOnly, "local-only", false, "prune only the local backup directory")
	cmd.Flags().BoolVar(&remoteOnly, "remote-only", false, "prune only the remote prefix")

	return cmd
}

func runPrune(ctx context.Context, opts *rootOptions, localOnly, remoteOnly bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger, logFile, err := logging.Open(cfg.LogDir, cfg.JobName, os.Stderr)
	if err != nil {
		return err
	}
	defer logFile.Close()

	pruner := backup.NewPruner(logger)

	if !remoteOnly {
		res, err := pruner.Prune(ctx, storage.NewDir(cfg.BackupDir), cfg.JobName, cfg.LocalRetention)
		if err != nil {
			return err
		}
		fmt.Printf("local: kept %d, deleted %d, failed %d\n", len(res.Kept), len(res.Deleted), len(res.Failed))
	}

	if !localOnly {
		remote, err := storage.ForConfig(ctx, cfg, command.NewSystem(logger), logger)
		if err != nil {
			return err
		}
		defer closeRemote(remote)

		res, err := pruner.Prune(ctx, remote, cfg.JobName, cfg.RemoteRetention)
		if err != nil {
			return err
		}
		fmt.Printf("%s: kept %d, deleted %d, failed %d\n", remote.Name(), len(res.Kept), len(res.Deleted), len(res.Failed))
	}

	return nil
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backup runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), opts, limit, failedOnly)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "show failed runs only")

	return cmd
}

func runHistory(ctx context.Context, opts *rootOptions, limit int, failedOnly bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	store, err := history.Open(cfg.HistoryPath(), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(ctx, history.ListOptions{Job: cfg.JobName, Limit: limit, OnlyFailed: failedOnly})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-20s %-10s %-44s %-10s %-11s %s\n", "STARTED", "STATUS", "ARTIFACT", "SIZE", "PRUNED L/R", "ERROR")
	fmt.Println(strings.Repeat("-", 110))
	for _, r := range runs {
		size := ""
		if r.ArchiveBytes > 0 {
			size = humanize.IBytes(uint64(r.ArchiveBytes))
		}
		fmt.Printf("%-20s %-10s %-44s %-10s %-11s %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			r.Artifact,
			size,
			fmt.Sprintf("%d/%d", r.PrunedLocal, r.PrunedRemote),
			r.Error,
		)
	}

	return nil
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	var cronExpr string
	var onStart bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run backups on a cron schedule",
		Long: `Run the pipeline as a long-running daemon on a standard 5-field cron
expression. A failed run is logged and the daemon keeps going. SIGINT
or SIGTERM stops the scheduler, waits for a running backup to finish,
and exits 0.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(opts, cronExpr, onStart)
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression (overrides BACKUP_CRON)")
	cmd.Flags().BoolVar(&onStart, "on-start", false, "run a backup immediately on startup")

	return cmd
}

func runSchedule(opts *rootOptions, cronExpr string, onStart bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cronExpr == "" {
		cronExpr = cfg.Cron
	}
	if cronExpr == "" {
		return errors.New("schedule requires --cron or BACKUP_CRON")
	}

	logger, logFile, err := logging.Open(cfg.LogDir, cfg.JobName, os.Stderr)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx := context.Background()

	job, cleanup, err := buildJob(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	tick := func() {
		logger.Info().Msg("scheduled backup starting")
		if _, err := job.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduled backup failed")
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(cronExpr, tick); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if onStart {
		tick()
	}

	c.Start()
	logger.Info().Str("cron", cronExpr).Msg("schedule daemon running")
	fmt.Printf("dirhaul %s scheduling job %q (cron %q). Press Ctrl+C to stop.\n", Version, cfg.JobName, cronExpr)

	sig := <-sigChan
	fmt.Printf("\nReceived %s, shutting down...\n", sig)
	logger.Info().Str("signal", sig.String()).Msg("stopping scheduler, draining running job")

	// Stop scheduling new ticks, then wait for a running one to finish.
	<-c.Stop().Done()

	return nil
}

// buildJob wires the pipeline for cfg. The returned cleanup closes the
// history store and the remote client.
func buildJob(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backup.Job, func(), error) {
	runner := command.NewSystem(logger)

	remote, err := storage.ForConfig(ctx, cfg, runner, logger)
	if err != nil {
		return nil, nil, err
	}

	archiver := backup.NewArchiver(runner, cfg.TarBinary, logger)
	local := storage.NewDir(cfg.BackupDir)

	job := backup.NewJob(cfg, archiver, local, remote, logger)
	job.SetPreflight(preflight.New(cfg, logger))

	cleanup := func() { closeRemote(remote) }

	// History is best-effort: a store that will not open disables
	// recording but never blocks backups.
	store, err := history.Open(cfg.HistoryPath(), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("run history disabled")
	} else {
		job.SetRunStore(store)
		closeRemoteOnly := cleanup
		cleanup = func() {
			store.Close()
			closeRemoteOnly()
		}
	}

	if cfg.MetricsDir != "" {
		job.SetMetrics(metrics.NewExporter(cfg.MetricsDir, cfg.JobName, logger))
	}
	if cfg.NotifyURL != "" {
		job.SetNotifier(notify.NewWebhook(cfg.NotifyURL, cfg.NotifySecret, logger))
	}

	return job, cleanup, nil
}

// closeRemote releases client resources for remotes that hold any.
func closeRemote(remote storage.Remote) {
	if closer, ok := remote.(io.Closer); ok {
		closer.Close()
	}
}

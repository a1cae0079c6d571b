package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dirhaul/dirhaul/internal/config"
	"github.com/dirhaul/dirhaul/internal/models"
	"github.com/dirhaul/dirhaul/internal/storage"
)

// RunStore persists finished run reports.
type RunStore interface {
	RecordRun(ctx context.Context, rep *models.RunReport) error
}

// Notifier delivers run outcomes to an external endpoint.
type Notifier interface {
	NotifyRun(ctx context.Context, rep *models.RunReport) error
}

// MetricsWriter exports the latest run outcome for scrapers.
type MetricsWriter interface {
	WriteRun(rep *models.RunReport) error
}

// Preflight validates the environment before any backup work starts.
type Preflight interface {
	Check(ctx context.Context) error
}

// Job runs the backup pipeline for one configured job: archive the source,
// upload the artifact, then apply local and remote retention.
type Job struct {
	cfg       *config.Config
	archiver  *Archiver
	pruner    *Pruner
	local     storage.Location
	remote    storage.Remote
	preflight Preflight
	store     RunStore
	metrics   MetricsWriter
	notifier  Notifier
	logger    zerolog.Logger
	now       func() time.Time
}

// NewJob creates a pipeline for cfg. The preflight, history, metrics, and
// notification sinks are optional and installed with the Set methods.
func NewJob(cfg *config.Config, archiver *Archiver, local storage.Location, remote storage.Remote, logger zerolog.Logger) *Job {
	return &Job{
		cfg:      cfg,
		archiver: archiver,
		pruner:   NewPruner(logger),
		local:    local,
		remote:   remote,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
	}
}

// SetPreflight installs environment checks that run before any backup work.
func (j *Job) SetPreflight(p Preflight) {
	j.preflight = p
}

// SetRunStore installs run history recording.
func (j *Job) SetRunStore(s RunStore) {
	j.store = s
}

// SetMetrics installs the metrics writer.
func (j *Job) SetMetrics(m MetricsWriter) {
	j.metrics = m
}

// SetNotifier installs webhook delivery of run outcomes.
func (j *Job) SetNotifier(n Notifier) {
	j.notifier = n
}

// Run executes the pipeline once and returns the run report. The returned
// error is non-nil only for fatal steps; retention failures are recorded
// on the report and logged but never fail a run that already uploaded.
func (j *Job) Run(ctx context.Context) (*models.RunReport, error) {
	rep := models.NewRunReport(j.cfg.JobName)
	rep.StartedAt = j.now()

	logger := j.logger.With().Str("run_id", rep.ID).Logger()
	logger.Info().
		Str("source", j.cfg.Source).
		Str("remote", j.remote.Name()).
		Msg("starting backup run")

	err := j.execute(ctx, rep, logger)
	rep.FinishedAt = j.now()

	if err != nil {
		rep.Status = models.RunFailed
		rep.Error = err.Error()
		logger.Error().Err(err).
			Dur("duration", rep.Duration()).
			Msg("backup run failed")
	} else {
		logger.Info().
			Str("artifact", rep.Artifact).
			Int64("archive_bytes", rep.ArchiveBytes).
			Int("pruned_local", rep.PrunedLocal).
			Int("pruned_remote", rep.PrunedRemote).
			Int("prune_failures", rep.PruneFailures).
			Dur("duration", rep.Duration()).
			Msg("backup run completed")
	}

	j.report(ctx, rep, logger)
	return rep, err
}

func (j *Job) execute(ctx context.Context, rep *models.RunReport, logger zerolog.Logger) error {
	if j.preflight != nil {
		if err := j.preflight.Check(ctx); err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
	}

	// Verify the remote before archiving so bad credentials fail fast
	// instead of after minutes of compression.
	if err := j.remote.Check(ctx); err != nil {
		return fmt.Errorf("check remote %s: %w", j.remote.Name(), err)
	}

	name := ArtifactName(j.cfg.JobName, j.now())
	stats, err := j.archiver.Create(ctx, j.cfg.Source, j.cfg.BackupDir, name)
	if err != nil {
		return err
	}
	rep.Artifact = stats.Name
	rep.ArchiveBytes = stats.SizeBytes

	if err := j.remote.Upload(ctx, stats.Path); err != nil {
		return fmt.Errorf("upload %s to %s: %w", stats.Name, j.remote.Name(), err)
	}
	logger.Info().
		Str("artifact", stats.Name).
		Str("remote", j.remote.Name()).
		Msg("artifact uploaded")

	rep.PrunedLocal = j.prune(ctx, rep, j.local, j.cfg.LocalRetention, logger)
	rep.PrunedRemote = j.prune(ctx, rep, j.remote, j.cfg.RemoteRetention, logger)
	return nil
}

// prune applies the retention policy to one location. Retention runs after
// a successful upload, so its failures are recoverable: they are tallied on
// the report and logged, and the run stays completed.
func (j *Job) prune(ctx context.Context, rep *models.RunReport, loc storage.Location, keep int, logger zerolog.Logger) int {
	res, err := j.pruner.Prune(ctx, loc, j.cfg.JobName, keep)
	if err != nil {
		logger.Error().Err(err).Str("location", loc.Name()).Msg("prune failed")
		rep.PruneFailures++
		return 0
	}
	rep.PruneFailures += len(res.Failed)
	return len(res.Deleted)
}

// report fans the finished run out to the optional sinks. A sink failure
// is logged and never changes the run outcome.
func (j *Job) report(ctx context.Context, rep *models.RunReport, logger zerolog.Logger) {
	if j.store != nil {
		if err := j.store.RecordRun(ctx, rep); err != nil {
			logger.Warn().Err(err).Msg("failed to record run history")
		}
	}
	if j.metrics != nil {
		if err := j.metrics.WriteRun(rep); err != nil {
			logger.Warn().Err(err).Msg("failed to write run metrics")
		}
	}
	if j.notifier != nil {
		if err := j.notifier.NotifyRun(ctx, rep); err != nil {
			logger.Warn().Err(err).Msg("failed to deliver run notification")
		}
	}
}

// Package metrics exports the outcome of the latest run in the Prometheus
// textfile-collector format, so a node_exporter can pick it up between
// invocations of a job that is not alive long enough to be scraped.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dirhaul/dirhaul/internal/models"
)

const namespace = "dirhaul"

// Exporter holds the per-job gauges and rewrites the textfile after
// every run.
type Exporter struct {
	dir      string
	job      string
	registry *prometheus.Registry
	logger   zerolog.Logger

	lastRunTimestamp prometheus.Gauge
	lastRunSuccess   prometheus.Gauge
	lastRunDuration  prometheus.Gauge
	lastArchiveBytes prometheus.Gauge
	artifactsPruned  *prometheus.GaugeVec
}

// NewExporter creates an Exporter writing {dir}/{job}.prom.
func NewExporter(dir, job string, logger zerolog.Logger) *Exporter {
	constLabels := prometheus.Labels{"job": job}

	e := &Exporter{
		dir:      dir,
		job:      job,
		registry: prometheus.NewRegistry(),
		logger:   logger.With().Str("component", "metrics").Logger(),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the last run finished.",
			ConstLabels: constLabels,
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_success",
			Help:        "Whether the last run completed (1) or failed (0).",
			ConstLabels: constLabels,
		}),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_run_duration_seconds",
			Help:        "Wall-clock duration of the last run.",
			ConstLabels: constLabels,
		}),
		lastArchiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_archive_bytes",
			Help:        "Size of the artifact produced by the last run.",
			ConstLabels: constLabels,
		}),
		artifactsPruned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "artifacts_pruned",
			Help:        "Artifacts deleted by retention during the last run.",
			ConstLabels: constLabels,
		}, []string{"location"}),
	}

	e.registry.MustRegister(
		e.lastRunTimestamp,
		e.lastRunSuccess,
		e.lastRunDuration,
		e.lastArchiveBytes,
		e.artifactsPruned,
	)

	return e
}

// WriteRun updates the gauges from rep and rewrites the textfile.
// WriteToTextfile writes through a temp file and renames, so scrapers
// never see a partial file.
func (e *Exporter) WriteRun(rep *models.RunReport) error {
	e.lastRunTimestamp.Set(float64(rep.FinishedAt.Unix()))
	if rep.Succeeded() {
		e.lastRunSuccess.Set(1)
	} else {
		e.lastRunSuccess.Set(0)
	}
	e.lastRunDuration.Set(rep.Duration().Seconds())
	e.lastArchiveBytes.Set(float64(rep.ArchiveBytes))
	e.artifactsPruned.WithLabelValues("local").Set(float64(rep.PrunedLocal))
	e.artifactsPruned.WithLabelValues("remote").Set(float64(rep.PrunedRemote))

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	path := filepath.Join(e.dir, e.job+".prom")
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}

	e.logger.Debug().Str("path", path).Msg("metrics written")
	return nil
}

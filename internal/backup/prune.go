package backup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dirhaul/dirhaul/internal/storage"
)

// PruneResult tallies one retention pass over a location.
type PruneResult struct {
	Kept    []string
	Deleted []string
	Failed  []string
}

// Pruner applies the retention count to artifact locations.
type Pruner struct {
	logger zerolog.Logger
}

// NewPruner creates a Pruner.
func NewPruner(logger zerolog.Logger) *Pruner {
	return &Pruner{
		logger: logger.With().Str("component", "prune").Logger(),
	}
}

// Prune keeps the newest keep artifacts of the job at loc and removes the
// rest. Only names matching the job's artifact pattern are considered;
// anything else at the location is left alone. Surplus artifacts are
// deleted independently: a failed delete is logged and tallied and the
// pass continues. With keep or fewer artifacts present nothing is deleted,
// which makes a second pass a no-op.
func (p *Pruner) Prune(ctx context.Context, loc storage.Location, jobName string, keep int) (*PruneResult, error) {
	names, err := loc.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", loc.Name(), err)
	}

	var artifacts []string
	for _, name := range names {
		if MatchesJob(name, jobName) {
			artifacts = append(artifacts, name)
		}
	}
	SortNewestFirst(artifacts)

	res := &PruneResult{}
	if len(artifacts) <= keep {
		res.Kept = artifacts
		p.logger.Info().
			Str("location", loc.Name()).
			Int("artifacts", len(artifacts)).
			Int("keep", keep).
			Msg("retention satisfied, nothing to prune")
		return res, nil
	}

	res.Kept = artifacts[:keep]
	for _, name := range artifacts[keep:] {
		if err := loc.Remove(ctx, name); err != nil {
			p.logger.Error().Err(err).
				Str("location", loc.Name()).
				Str("artifact", name).
				Msg("failed to delete artifact")
			res.Failed = append(res.Failed, name)
			continue
		}
		p.logger.Info().
			Str("location", loc.Name()).
			Str("artifact", name).
			Msg("deleted old artifact")
		res.Deleted = append(res.Deleted, name)
	}

	p.logger.Info().
		Str("location", loc.Name()).
		Int("kept", len(res.Kept)).
		Int("deleted", len(res.Deleted)).
		Int("failed", len(res.Failed)).
		Msg("prune completed")
	return res, nil
}

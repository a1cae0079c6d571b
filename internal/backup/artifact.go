// Package backup implements the dirhaul pipeline: compress a source
// directory into a timestamped tar.gz artifact, upload it, and prune old
// artifacts locally and remotely to the configured retention.
package backup

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	artifactSep = "-backup-"
	artifactExt = ".tar.gz"

	// TimestampLayout is zero-padded so lexicographic order over artifact
	// names is chronological order.
	TimestampLayout = "20060102-150405"
)

// Artifact is a parsed backup artifact name.
type Artifact struct {
	Name      string
	Job       string
	Timestamp time.Time
}

// ArtifactName builds the artifact file name for a job at the given time,
// e.g. "media-rig-backup-20250105-031500.tar.gz".
func ArtifactName(jobName string, ts time.Time) string {
	return jobName + artifactSep + ts.Format(TimestampLayout) + artifactExt
}

// ParseArtifactName splits an artifact file name back into job and
// timestamp. The name splits on the last "-backup-" occurrence, so the
// round trip is exact for any job name that does not itself end in a
// separator-plus-timestamp tail; names are only guaranteed unambiguous for
// jobs without "-backup-" in them.
func ParseArtifactName(name string) (Artifact, error) {
	base := strings.TrimSuffix(name, artifactExt)
	if base == name {
		return Artifact{}, fmt.Errorf("artifact %q: missing %s suffix", name, artifactExt)
	}

	idx := strings.LastIndex(base, artifactSep)
	if idx <= 0 {
		return Artifact{}, fmt.Errorf("artifact %q: missing job or %q separator", name, artifactSep)
	}

	job := base[:idx]
	stamp := base[idx+len(artifactSep):]
	ts, err := time.ParseInLocation(TimestampLayout, stamp, time.Local)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact %q: invalid timestamp %q", name, stamp)
	}

	return Artifact{Name: name, Job: job, Timestamp: ts}, nil
}

// MatchesJob reports whether name is a backup artifact of the given job:
// right prefix, right suffix, and a well-formed timestamp in between.
// Anything else at the same location is left alone.
func MatchesJob(name, jobName string) bool {
	prefix := jobName + artifactSep
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, artifactExt) {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), artifactExt)
	_, err := time.ParseInLocation(TimestampLayout, stamp, time.Local)
	return err == nil
}

// SortNewestFirst orders artifact names newest first in place.
func SortNewestFirst(names []string) {
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
}

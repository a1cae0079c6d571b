package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dirhaul/dirhaul/internal/command"
	"github.com/dirhaul/dirhaul/internal/config"
	"github.com/dirhaul/dirhaul/internal/models"
	"github.com/dirhaul/dirhaul/internal/storage"
)

// fakeRemote is an in-memory Remote on top of fakeLocation. Uploads append
// the artifact name so a later List sees it.
type fakeRemote struct {
	fakeLocation
	checkErr  error
	uploadErr error
	checks    int
	uploads   []string
}

func (f *fakeRemote) Check(_ context.Context) error {
	f.checks++
	return f.checkErr
}

func (f *fakeRemote) Upload(_ context.Context, path string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, path)
	f.files = append(f.files, filepath.Base(path))
	return nil
}

type fakeStore struct {
	reports []*models.RunReport
	err     error
}

func (f *fakeStore) RecordRun(_ context.Context, rep *models.RunReport) error {
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, rep)
	return nil
}

type fakeNotifier struct {
	reports []*models.RunReport
	err     error
}

func (f *fakeNotifier) NotifyRun(_ context.Context, rep *models.RunReport) error {
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, rep)
	return nil
}

type fakeMetrics struct {
	reports []*models.RunReport
	err     error
}

func (f *fakeMetrics) WriteRun(rep *models.RunReport) error {
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, rep)
	return nil
}

type fakePreflight struct {
	err error
}

func (f *fakePreflight) Check(_ context.Context) error {
	return f.err
}

func testJobConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		JobName:         "media-rig",
		Source:          "/backup_source",
		BackupDir:       t.TempDir(),
		LocalRetention:  2,
		RemoteRetention: 2,
	}
}

// newTestJob wires a Job with a fixed clock so the artifact name and
// report timestamps are deterministic.
func newTestJob(cfg *config.Config, runner command.Runner, remote storage.Remote) *Job {
	j := NewJob(cfg, NewArchiver(runner, "tar", zerolog.Nop()), storage.NewDir(cfg.BackupDir), remote, zerolog.Nop())
	j.now = func() time.Time {
		return time.Date(2025, 1, 5, 2, 0, 0, 0, time.Local)
	}
	return j
}

func seedArtifacts(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("old"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestJob_Run(t *testing.T) {
	older := mediaRigArtifacts()[:4] // 20250101 through 20250104
	const newArtifact = "media-rig-backup-20250105-020000.tar.gz"

	t.Run("archives, uploads, and prunes both sides", func(t *testing.T) {
		cfg := testJobConfig(t)
		seedArtifacts(t, cfg.BackupDir, older...)
		remote := &fakeRemote{fakeLocation: fakeLocation{label: "b2:backups", files: append([]string(nil), older...)}}
		runner := &fakeRunner{fn: tarSuccess([]byte("tar-bytes"))}

		rep, err := newTestJob(cfg, runner, remote).Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if !rep.Succeeded() {
			t.Errorf("Status = %s, want %s", rep.Status, models.RunCompleted)
		}
		if rep.Artifact != newArtifact {
			t.Errorf("Artifact = %q, want %q", rep.Artifact, newArtifact)
		}
		if rep.ArchiveBytes != int64(len("tar-bytes")) {
			t.Errorf("ArchiveBytes = %d, want %d", rep.ArchiveBytes, len("tar-bytes"))
		}

		wantUpload := filepath.Join(cfg.BackupDir, newArtifact)
		if !reflect.DeepEqual(remote.uploads, []string{wantUpload}) {
			t.Errorf("uploads = %v, want [%s]", remote.uploads, wantUpload)
		}

		// Five artifacts on each side after the upload, retention 2.
		if rep.PrunedLocal != 3 || rep.PrunedRemote != 3 {
			t.Errorf("pruned local/remote = %d/%d, want 3/3", rep.PrunedLocal, rep.PrunedRemote)
		}
		if rep.PruneFailures != 0 {
			t.Errorf("PruneFailures = %d, want 0", rep.PruneFailures)
		}

		wantRemaining := []string{newArtifact, "media-rig-backup-20250104-020000.tar.gz"}
		entries, err := os.ReadDir(cfg.BackupDir)
		if err != nil {
			t.Fatal(err)
		}
		var local []string
		for _, e := range entries {
			local = append(local, e.Name())
		}
		SortNewestFirst(local)
		if !reflect.DeepEqual(local, wantRemaining) {
			t.Errorf("local artifacts = %v, want %v", local, wantRemaining)
		}
		SortNewestFirst(remote.files)
		if !reflect.DeepEqual(remote.files, wantRemaining) {
			t.Errorf("remote artifacts = %v, want %v", remote.files, wantRemaining)
		}

		wantTime := time.Date(2025, 1, 5, 2, 0, 0, 0, time.Local)
		if !rep.StartedAt.Equal(wantTime) || !rep.FinishedAt.Equal(wantTime) {
			t.Errorf("timestamps = %v/%v, want %v", rep.StartedAt, rep.FinishedAt, wantTime)
		}
	})

	t.Run("preflight failure aborts before any work", func(t *testing.T) {
		cfg := testJobConfig(t)
		remote := &fakeRemote{}
		runner := &fakeRunner{}
		j := newTestJob(cfg, runner, remote)
		j.SetPreflight(&fakePreflight{err: errors.New("source not readable")})

		rep, err := j.Run(context.Background())
		if err == nil {
			t.Fatal("Run() expected error")
		}
		if !strings.Contains(err.Error(), "preflight") {
			t.Errorf("error = %v, want preflight wrap", err)
		}
		if rep.Status != models.RunFailed {
			t.Errorf("Status = %s, want %s", rep.Status, models.RunFailed)
		}
		if remote.checks != 0 || len(runner.calls) != 0 {
			t.Errorf("checks = %d, tar calls = %d, want none", remote.checks, len(runner.calls))
		}
	})

	t.Run("remote check failure aborts before archiving", func(t *testing.T) {
		cfg := testJobConfig(t)
		remote := &fakeRemote{checkErr: errors.New("bad credentials")}
		runner := &fakeRunner{}

		rep, err := newTestJob(cfg, runner, remote).Run(context.Background())
		if err == nil {
			t.Fatal("Run() expected error")
		}
		if len(runner.calls) != 0 {
			t.Errorf("tar calls = %d, want 0", len(runner.calls))
		}
		if rep.Artifact != "" {
			t.Errorf("Artifact = %q, want empty", rep.Artifact)
		}
	})

	t.Run("archive failure aborts before upload", func(t *testing.T) {
		cfg := testJobConfig(t)
		remote := &fakeRemote{}
		runner := &fakeRunner{fn: func(command.Cmd) (command.Result, error) {
			return command.Result{ExitCode: 2}, errors.New("tar: exit status 2")
		}}

		rep, err := newTestJob(cfg, runner, remote).Run(context.Background())
		if err == nil {
			t.Fatal("Run() expected error")
		}
		if len(remote.uploads) != 0 {
			t.Errorf("uploads = %v, want none", remote.uploads)
		}
		if rep.Error == "" {
			t.Error("report Error is empty")
		}
	})

	t.Run("upload failure aborts before pruning", func(t *testing.T) {
		cfg := testJobConfig(t)
		seedArtifacts(t, cfg.BackupDir, older...)
		remote := &fakeRemote{uploadErr: errors.New("b2 5xx")}
		runner := &fakeRunner{fn: tarSuccess([]byte("tar-bytes"))}

		rep, err := newTestJob(cfg, runner, remote).Run(context.Background())
		if err == nil {
			t.Fatal("Run() expected error")
		}
		if !strings.Contains(err.Error(), "upload") {
			t.Errorf("error = %v, want upload wrap", err)
		}
		if rep.PrunedLocal != 0 || rep.PrunedRemote != 0 {
			t.Errorf("pruned = %d/%d, want 0/0", rep.PrunedLocal, rep.PrunedRemote)
		}
		// The seeded artifacts survive because retention never ran.
		entries, err := os.ReadDir(cfg.BackupDir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != len(older)+1 {
			t.Errorf("local artifacts = %d, want %d", len(entries), len(older)+1)
		}
	})

	t.Run("prune failures never fail the run", func(t *testing.T) {
		cfg := testJobConfig(t)
		remote := &fakeRemote{fakeLocation: fakeLocation{listErr: errors.New("bucket unreachable")}}
		runner := &fakeRunner{fn: tarSuccess([]byte("tar-bytes"))}

		rep, err := newTestJob(cfg, runner, remote).Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !rep.Succeeded() {
			t.Errorf("Status = %s, want %s", rep.Status, models.RunCompleted)
		}
		if rep.PruneFailures != 1 {
			t.Errorf("PruneFailures = %d, want 1", rep.PruneFailures)
		}
		if rep.PrunedRemote != 0 {
			t.Errorf("PrunedRemote = %d, want 0", rep.PrunedRemote)
		}
	})

	t.Run("stuck artifacts are tallied but recoverable", func(t *testing.T) {
		cfg := testJobConfig(t)
		stuck := "media-rig-backup-20250101-020000.tar.gz"
		remote := &fakeRemote{fakeLocation: fakeLocation{
			files:  append([]string(nil), older...),
			failOn: map[string]error{stuck: errors.New("delete forbidden")},
		}}
		runner := &fakeRunner{fn: tarSuccess([]byte("tar-bytes"))}

		rep, err := newTestJob(cfg, runner, remote).Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if rep.PruneFailures != 1 {
			t.Errorf("PruneFailures = %d, want 1", rep.PruneFailures)
		}
		if rep.PrunedRemote != 2 {
			t.Errorf("PrunedRemote = %d, want 2", rep.PrunedRemote)
		}
	})

	t.Run("sinks receive the finished report", func(t *testing.T) {
		cfg := testJobConfig(t)
		remote := &fakeRemote{}
		runner := &fakeRunner{fn: tarSuccess([]byte("tar-bytes"))}
		store := &fakeStore{}
		metrics := &fakeMetrics{}
		notifier := &fakeNotifier{}

		j := newTestJob(cfg, runner, remote)
		j.SetRunStore(store)
		j.SetMetrics(metrics)
		j.SetNotifier(notifier)

		rep, err := j.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		for name, got := range map[string][]*models.RunReport{
			"store":    store.reports,
			"metrics":  metrics.reports,
			"notifier": notifier.reports,
		} {
			if len(got) != 1 || got[0].ID != rep.ID {
				t.Errorf("%s reports = %v, want the finished report", name, got)
			}
		}
	})

	t.Run("sinks receive failed runs too", func(t *testing.T) {
		cfg := testJobConfig(t)
		remote := &fakeRemote{checkErr: errors.New("bad credentials")}
		store := &fakeStore{}

		j := newTestJob(cfg, &fakeRunner{}, remote)
		j.SetRunStore(store)

		if _, err := j.Run(context.Background()); err == nil {
			t.Fatal("Run() expected error")
		}
		if len(store.reports) != 1 || store.reports[0].Status != models.RunFailed {
			t.Errorf("store reports = %v, want one failed report", store.reports)
		}
	})

	t.Run("sink failures do not change the outcome", func(t *testing.T) {
		cfg := testJobConfig(t)
		remote := &fakeRemote{}
		runner := &fakeRunner{fn: tarSuccess([]byte("tar-bytes"))}

		j := newTestJob(cfg, runner, remote)
		j.SetRunStore(&fakeStore{err: errors.New("db locked")})
		j.SetNotifier(&fakeNotifier{err: errors.New("webhook 500")})
		j.SetMetrics(&fakeMetrics{err: errors.New("disk full")})

		rep, err := j.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !rep.Succeeded() {
			t.Errorf("Status = %s, want %s", rep.Status, models.RunCompleted)
		}
	})
}

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dirhaul/dirhaul/internal/command"
)

// fakeRunner records invocations; fn, when set, controls the outcome. The
// default behaves like a tar that produces an empty archive.
type fakeRunner struct {
	calls []command.Cmd
	fn    func(c command.Cmd) (command.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, c command.Cmd) (command.Result, error) {
	f.calls = append(f.calls, c)
	if f.fn != nil {
		return f.fn(c)
	}
	return command.Result{}, nil
}

// tarSuccess simulates tar by writing content at the destination argument.
func tarSuccess(content []byte) func(c command.Cmd) (command.Result, error) {
	return func(c command.Cmd) (command.Result, error) {
		if err := os.WriteFile(c.Args[1], content, 0644); err != nil {
			return command.Result{ExitCode: -1}, err
		}
		return command.Result{ExitCode: 0}, nil
	}
}

func TestArchiver_Create(t *testing.T) {
	t.Run("invokes tar and stats the artifact", func(t *testing.T) {
		backupDir := filepath.Join(t.TempDir(), "backups")
		fake := &fakeRunner{fn: tarSuccess([]byte("tar-bytes"))}
		a := NewArchiver(fake, "tar", zerolog.Nop())

		stats, err := a.Create(context.Background(), "/backup_source", backupDir, "media-rig-backup-20250105-020000.tar.gz")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		wantPath := filepath.Join(backupDir, "media-rig-backup-20250105-020000.tar.gz")
		wantArgs := []string{"-czf", wantPath, "-C", "/backup_source", "."}
		if !reflect.DeepEqual(fake.calls[0].Args, wantArgs) {
			t.Errorf("args = %v, want %v", fake.calls[0].Args, wantArgs)
		}
		if stats.Path != wantPath {
			t.Errorf("Path = %q, want %q", stats.Path, wantPath)
		}
		if stats.SizeBytes != int64(len("tar-bytes")) {
			t.Errorf("SizeBytes = %d, want %d", stats.SizeBytes, len("tar-bytes"))
		}
	})

	t.Run("creates the backup directory", func(t *testing.T) {
		backupDir := filepath.Join(t.TempDir(), "nested", "backups")
		fake := &fakeRunner{fn: tarSuccess(nil)}
		a := NewArchiver(fake, "tar", zerolog.Nop())

		if _, err := a.Create(context.Background(), "/src", backupDir, "j-backup-20250105-020000.tar.gz"); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := os.Stat(backupDir); err != nil {
			t.Errorf("backup directory not created: %v", err)
		}
	})

	t.Run("tar failure aborts", func(t *testing.T) {
		fake := &fakeRunner{fn: func(c command.Cmd) (command.Result, error) {
			return command.Result{ExitCode: 2, Stderr: "tar: /missing: No such file or directory"},
				errors.New("tar: exit status 2: tar: /missing: No such file or directory")
		}}
		a := NewArchiver(fake, "tar", zerolog.Nop())

		_, err := a.Create(context.Background(), "/missing", t.TempDir(), "j-backup-20250105-020000.tar.gz")
		if err == nil {
			t.Fatal("Create() expected error")
		}
	})

	t.Run("missing artifact after success is an error", func(t *testing.T) {
		fake := &fakeRunner{fn: func(c command.Cmd) (command.Result, error) {
			return command.Result{ExitCode: 0}, nil
		}}
		a := NewArchiver(fake, "tar", zerolog.Nop())

		if _, err := a.Create(context.Background(), "/src", t.TempDir(), "j-backup-20250105-020000.tar.gz"); err == nil {
			t.Fatal("Create() expected error when artifact was never written")
		}
	})

	t.Run("defaults binary to tar", func(t *testing.T) {
		fake := &fakeRunner{fn: tarSuccess(nil)}
		a := NewArchiver(fake, "", zerolog.Nop())

		if _, err := a.Create(context.Background(), "/src", t.TempDir(), "j-backup-20250105-020000.tar.gz"); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if fake.calls[0].Name != "tar" {
			t.Errorf("binary = %q, want tar", fake.calls[0].Name)
		}
	})
}

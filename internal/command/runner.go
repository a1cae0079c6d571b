// Package command executes external binaries and captures structured results.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Cmd describes a single external command invocation.
type Cmd struct {
	Name string
	Args []string
	// Env is appended to the parent process environment. Credentials travel
	// here, never in Args, so Args stay safe to log.
	Env map[string]string
	Dir string
}

// Result captures the outcome of a command invocation. ExitCode is -1 when
// the process could not be started or was killed before exiting.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes commands. Implementations must be safe for sequential
// reuse; the production implementation is System, tests inject fakes.
type Runner interface {
	Run(ctx context.Context, c Cmd) (Result, error)
}

// System runs commands via os/exec.
type System struct {
	logger zerolog.Logger
}

// NewSystem creates a Runner backed by the operating system.
func NewSystem(logger zerolog.Logger) *System {
	return &System{
		logger: logger.With().Str("component", "command").Logger(),
	}
}

// Run executes the command and waits for it to finish. A nonzero exit yields
// both a populated Result and an error carrying the trimmed stderr (stdout
// when stderr is empty). Callers can distinguish "ran and failed" from
// "could not run" via Result.ExitCode and errors.Is(err, exec.ErrNotFound).
func (s *System) Run(ctx context.Context, c Cmd) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	cmd.Env = cmd.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug().
		Str("binary", c.Name).
		Strs("args", c.Args).
		Msg("executing command")

	start := time.Now()
	err := cmd.Run()

	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			errMsg := strings.TrimSpace(res.Stderr)
			if errMsg == "" {
				errMsg = strings.TrimSpace(res.Stdout)
			}
			if errMsg == "" {
				return res, fmt.Errorf("%s: %w", c.Name, err)
			}
			return res, fmt.Errorf("%s: %w: %s", c.Name, err, errMsg)
		}
		return res, fmt.Errorf("start %s: %w", c.Name, err)
	}

	s.logger.Debug().
		Str("binary", c.Name).
		Dur("duration", res.Duration).
		Msg("command completed")

	return res, nil
}

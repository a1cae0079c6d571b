// Package logging builds the per-job logger: JSON lines appended to
// {logDir}/{job}.log, teed to a human-readable console writer. The log file
// has no rotation or size cap; trimming it is the operator's concern.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Open creates the log directory if needed, opens the job's log file for
// append, and returns a logger writing to both the file and console. The
// returned closer owns the file handle.
func Open(logDir, jobName string, console io.Writer) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(logDir, jobName+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}

	writer := zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339})
	logger := zerolog.New(writer).With().Timestamp().Str("job", jobName).Logger()

	return logger, f, nil
}

// ABOUTME: Job processors: the interface plus the exec-based implementation
// ABOUTME: Conversion work happens in external binaries, payload on stdin

package workers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/harborbot/harbor/internal/store"
)

// Processor runs one claimed job. Implementations are opaque to the pool: a
// nil return completes the job, an error fails it (and may requeue it). The
// note is a short human-readable result, such as a link the converter
// printed; it may be empty.
type Processor interface {
	Process(ctx context.Context, job *store.Job) (note string, err error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *store.Job) (string, error)

func (f ProcessorFunc) Process(ctx context.Context, job *store.Job) (string, error) {
	return f(ctx, job)
}

// ExecProcessor shells out to a converter binary. The job payload is written
// to the child's stdin; a non-zero exit fails the job.
type ExecProcessor struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecProcessor creates an ExecProcessor for the given argv. The command
// must not be empty.
func NewExecProcessor(command []string, timeout time.Duration, logger *slog.Logger) (*ExecProcessor, error) {
	if len(command) == 0 {
		return nil, errors.New("processor command is empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecProcessor{
		command: command,
		timeout: timeout,
		logger:  logger.With("component", "processor"),
	}, nil
}

// Process runs the converter. Whatever the converter prints on stdout, such
// as a link to the delivered artifact, becomes the job's result note; stderr
// is kept for the error message on a non-zero exit.
func (p *ExecProcessor) Process(ctx context.Context, job *store.Job) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Stdin = bytes.NewReader(job.Payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := stderr.Bytes()
		if len(detail) == 0 {
			detail = stdout.Bytes()
		}
		return "", fmt.Errorf("running %s for job %s: %w: %s",
			p.command[0], job.ID, err, truncate(detail, 200))
	}

	note := strings.TrimSpace(stdout.String())
	p.logger.Debug("job processed", "job_id", job.ID, "command", p.command[0])
	return truncate([]byte(note), 300), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

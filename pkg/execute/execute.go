// pkg/execute/execute.go

package execute

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every command that does not set its own timeout.
// Package downloads and registration calls are the slow ones.
const DefaultTimeout = 5 * time.Minute

// Options describes one command invocation. Commands are never run through a shell.
type Options struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Stdin   string
	Timeout time.Duration
	Retries int
	Delay   time.Duration
	// RetryIf, when set, decides whether a failed attempt is worth repeating.
	// It sees the error wrapped with the tail of the command output.
	RetryIf func(error) bool
	Capture bool     // return combined output
	Echo    bool     // stream output to stderr while running
	Secrets []string // masked wherever the command line or output is logged
	Logger  *zap.Logger
}

// Runner executes host commands. Bootstrap steps only talk to the host
// through a Runner so that runs can be simulated.
type Runner interface {
	Run(ctx context.Context, opts Options) (string, error)
}

// ExecRunner runs real processes with os/exec.
type ExecRunner struct {
	Logger *zap.Logger
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(log *zap.Logger) *ExecRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecRunner{Logger: log}
}

// Run executes a command with structured logging and proper error handling.
// Expiry of the timeout is reported as an error like any other failure.
func (r *ExecRunner) Run(ctx context.Context, opts Options) (string, error) {
	cmdStr := mask(buildCommandString(opts.Command, opts.Args...), opts.Secrets)

	logger := opts.Logger
	if logger == nil {
		logger = r.Logger
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := telemetry.Start(ctx, "execute.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("command", opts.Command),
		attribute.String("args", strings.Join(opts.Args, " ")),
	)

	logger.Debug("Starting execution", zap.String("command", cmdStr))

	var output string
	var err error
	attempts := max(1, opts.Retries)
	tried := 0

	for i := 1; i <= attempts; i++ {
		tried = i
		output, err = runOnce(ctx, opts)
		if err == nil {
			logger.Debug("Execution succeeded", zap.String("command", cmdStr))
			break
		}

		span.RecordError(err)
		logger.Warn("Execution failed",
			zap.Int("attempt", i),
			zap.String("command", cmdStr),
			zap.String("summary", mask(ExtractSummary(output, 2), opts.Secrets)),
			zap.Error(err),
		)

		if ctx.Err() != nil || i == attempts {
			break
		}
		if opts.RetryIf != nil && !opts.RetryIf(cerr.Wrap(err, ExtractSummary(output, 2))) {
			break
		}
		select {
		case <-time.After(opts.Delay):
		case <-ctx.Done():
		}
	}

	if err != nil {
		return output, cerr.Wrapf(err, "%s failed after %d attempt(s): %s",
			cmdStr, tried, mask(ExtractSummary(output, 2), opts.Secrets))
	}

	if opts.Capture {
		return output, nil
	}
	return "", nil
}

func runOnce(ctx context.Context, opts Options) (string, error) {
	rc, cancel := context.WithTimeout(ctx, defaultTimeout(opts.Timeout))
	defer cancel()

	cmd := exec.CommandContext(rc, opts.Command, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var buf bytes.Buffer
	var writer io.Writer = &buf
	if opts.Echo {
		writer = io.MultiWriter(os.Stderr, &buf)
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	err := cmd.Run()
	if rc.Err() == context.DeadlineExceeded {
		return buf.String(), cerr.Wrapf(rc.Err(), "timed out after %s", defaultTimeout(opts.Timeout))
	}
	return buf.String(), err
}

// IsNotFound reports whether err means the executable itself is absent.
func IsNotFound(err error) bool {
	return cerr.Is(err, exec.ErrNotFound)
}

// ExtractSummary returns the last n non-empty lines of command output.
func ExtractSummary(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			kept = append([]string{l}, kept...)
		}
	}
	return strings.Join(kept, " | ")
}

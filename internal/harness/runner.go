package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"protoloop/internal/snapshot"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxOutput = 64 * 1024
	maxCommandLength = 4096
)

// Runner materializes snapshots into a transient execution
// directory and runs the project's configured test command there.
// The directory is removed after every run regardless of outcome.
type Runner struct {
	timeout        time.Duration
	maxOutputBytes int
	allowedEnv     []string
}

// NewRunner creates a runner with default timeout and output caps.
func NewRunner() *Runner {
	return &Runner{
		timeout:        defaultTimeout,
		maxOutputBytes: defaultMaxOutput,
		allowedEnv:     []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TERM", "TMPDIR"},
	}
}

// WithTimeout sets the wall-clock bound for one run.
func (r *Runner) WithTimeout(timeout time.Duration) *Runner {
	r.timeout = timeout
	return r
}

// WithMaxOutputBytes sets the per-stream capture cap.
func (r *Runner) WithMaxOutputBytes(maxBytes int) *Runner {
	r.maxOutputBytes = maxBytes
	return r
}

// Run executes command against snap. The snapshot is checked out
// into a fresh temp directory which is always cleaned up. A timeout
// yields StatusTimedOut; a command that cannot start yields
// StatusExecError. Neither is returned as an error: the loop treats
// both as feedback. The returned error covers infrastructure
// faults only (checkout failure, temp dir creation).
func (r *Runner) Run(ctx context.Context, snap *snapshot.Snapshot, command string) (*TestResult, error) {
	if err := validateCommand(command); err != nil {
		return &TestResult{Status: StatusExecError, ExitCode: -1, Stderr: err.Error()}, nil
	}
	argv, err := shellquote.Split(command)
	if err != nil || len(argv) == 0 {
		return &TestResult{Status: StatusExecError, ExitCode: -1, Stderr: fmt.Sprintf("unparseable test command: %v", err)}, nil
	}

	execDir, err := os.MkdirTemp("", "protoloop-run-")
	if err != nil {
		return nil, fmt.Errorf("failed to create execution directory: %w", err)
	}
	defer os.RemoveAll(execDir)

	if err := snap.Checkout(execDir); err != nil {
		return nil, fmt.Errorf("failed to materialize snapshot: %w", err)
	}

	return r.execute(ctx, execDir, argv), nil
}

func (r *Runner) execute(ctx context.Context, dir string, argv []string) *TestResult {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = r.filterEnvironment()

	var stdoutBuf, stderrBuf limitedBuffer
	stdoutBuf.limit = r.maxOutputBytes
	stderrBuf.limit = r.maxOutputBytes
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	err := cmd.Run()
	result := &TestResult{
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Truncated: stdoutBuf.truncated || stderrBuf.truncated,
		Duration:  time.Since(start),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.Status = StatusTimedOut
		result.ExitCode = -1
	case err == nil:
		result.Status = StatusPassed
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = StatusFailed
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Status = StatusExecError
			result.ExitCode = -1
			result.Stderr = appendLine(result.Stderr, err.Error())
		}
	}

	if result.Status == StatusPassed || result.Status == StatusFailed {
		result.Cases = ExtractCases(result.Combined())
	}
	return result
}

func validateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("empty test command")
	}
	if len(command) > maxCommandLength {
		return fmt.Errorf("test command too long (max %d characters)", maxCommandLength)
	}
	for _, c := range []string{"\x00", "\r", "\n"} {
		if strings.Contains(command, c) {
			return fmt.Errorf("control character in test command")
		}
	}
	return nil
}

// filterEnvironment passes through only the allow-listed variables
// so project test runs never see credentials from the host.
func (r *Runner) filterEnvironment() []string {
	allowed := make(map[string]bool, len(r.allowedEnv))
	for _, key := range r.allowedEnv {
		allowed[key] = true
	}

	var filtered []string
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 && allowed[parts[0]] {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}

// limitedBuffer caps captured output at limit bytes. The buffer is
// a named field, not embedded: embedding would promote
// bytes.Buffer's ReadFrom, which io.Copy (used by os/exec) prefers
// over Write, bypassing the cap.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (lb *limitedBuffer) String() string {
	return lb.buf.String()
}

func (lb *limitedBuffer) Write(p []byte) (int, error) {
	if lb.buf.Len()+len(p) > lb.limit {
		remaining := lb.limit - lb.buf.Len()
		if remaining > 0 {
			lb.buf.Write(p[:remaining])
		}
		lb.truncated = true
		return len(p), nil
	}
	return lb.buf.Write(p)
}

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Execute runs command through a shell under the sandbox's permission scope
// and constraints.
//
// The call blocks until the process exits, the supervisory timeout kills
// its process tree, or the spawn fails. It never returns a Go error and
// never panics across the boundary: every failure mode is a Result value,
// so a caller orchestrating many independent commands cannot be
// destabilized by a single bad one. Concurrent calls on the same sandbox
// are fully independent.
func (s *Sandbox) Execute(ctx context.Context, req Request) *Result {
	execID := uuid.NewString()

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.String("sandbox.skill", s.name),
				attribute.String("sandbox.command", req.Command),
			))
		defer span.End()
	}

	s.logger.Info("execution started",
		slog.String("skill", s.name),
		slog.String("command", req.Command),
		slog.String("execution_id", execID),
	)

	if !s.rules.Allows(req.Command) {
		s.logger.Warn("execution blocked: permission denied",
			slog.String("skill", s.name),
			slog.String("command", req.Command),
			slog.String("execution_id", execID),
		)
		return s.finish(ctx, &Result{
			ExitCode:     -1,
			Command:      req.Command,
			Kind:         FailurePermissionDenied,
			ErrorMessage: fmt.Sprintf("command not allowed: %s", req.Command),
		})
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaults.MaxExecutionTime
	}
	memMB := req.MaxMemoryMB
	if memMB <= 0 {
		memMB = s.defaults.MaxMemoryMB
	}
	workDir := req.WorkingDir
	if workDir == "" {
		workDir = s.defaults.WorkingDirectory
	}
	if workDir == "" {
		workDir = s.root
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := buildCommand(cctx, req.Command, memMB)
	cmd.Dir = workDir
	cmd.Env = s.buildEnv(req.Env)

	// The child runs in its own process group so the timeout kill reaches
	// every descendant, not just the top-level shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = kill the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	res := &Result{
		Command:  req.Command,
		Duration: duration,
	}

	if runErr != nil {
		switch {
		case errors.Is(cctx.Err(), context.DeadlineExceeded):
			// Output captured up to the kill is undefined; report empty
			// streams rather than a truncated prefix.
			res.ExitCode = -1
			res.Kind = FailureTimeout
			res.ErrorMessage = fmt.Sprintf("command timed out after %s", timeout)
			s.logger.Error("execution timeout",
				slog.String("skill", s.name),
				slog.String("command", req.Command),
				slog.Duration("timeout", timeout),
				slog.String("execution_id", execID),
			)
		case cctx.Err() != nil:
			res.ExitCode = -1
			res.Kind = FailureExecutionError
			res.ErrorMessage = "execution canceled"
		default:
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				// Non-zero exit is a result, not an engine failure.
				res.ExitCode = exitErr.ExitCode()
				res.Stdout = stdoutBuf.String()
				res.Stderr = stderrBuf.String()
				res.ErrorMessage = fmt.Sprintf("command failed with exit code %d", res.ExitCode)
			} else {
				res.ExitCode = -1
				res.Kind = FailureExecutionError
				res.ErrorMessage = fmt.Sprintf("execution failed: %v", runErr)
				s.logger.Error("execution failed",
					slog.String("skill", s.name),
					slog.String("command", req.Command),
					slog.String("error", runErr.Error()),
					slog.String("execution_id", execID),
				)
			}
		}
	} else {
		res.ExitCode = 0
		res.Stdout = stdoutBuf.String()
		res.Stderr = stderrBuf.String()
	}

	res.Success = res.Kind == "" && res.ExitCode == 0

	s.logger.Info("execution completed",
		slog.String("skill", s.name),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("success", res.Success),
		slog.Duration("duration", duration),
		slog.String("execution_id", execID),
	)
	return s.finish(ctx, res)
}

// finish records metrics and span status for a finished execution.
func (s *Sandbox) finish(ctx context.Context, res *Result) *Result {
	res.Success = res.Kind == "" && res.ExitCode == 0

	s.recordStats(res)
	if s.metrics != nil {
		s.metrics.observe(s.name, res)
	}
	if s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.Int("sandbox.exit_code", res.ExitCode))
		if !res.Success {
			span.SetStatus(codes.Error, res.ErrorMessage)
		}
	}
	return res
}

// buildCommand spawns through a shell so caller scripts keep pipes and
// redirection. When a memory limit applies the command is double-wrapped:
// the outer shell applies ulimit, then execs an inner shell that interprets
// the user's command string. Positional parameters keep the user's command
// out of the outer shell string. Where ulimit -v is unsupported the
// redirect to /dev/null swallows the complaint and the limit is skipped.
func buildCommand(ctx context.Context, command string, memMB int) *exec.Cmd {
	if memMB <= 0 {
		return exec.CommandContext(ctx, "/bin/sh", "-c", command)
	}
	script := fmt.Sprintf("ulimit -v %d 2>/dev/null; exec \"$@\"", memMB*1024)
	return exec.CommandContext(ctx, "/bin/sh", "-c", script, "_", "/bin/sh", "-c", command)
}

// buildEnv merges caller overrides over the ambient process environment,
// then pins the sandbox identity keys so they always win.
func (s *Sandbox) buildEnv(extra map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	merged[EnvSkillName] = s.name
	merged[EnvSkillDir] = s.root
	merged[EnvScriptsDir] = s.scriptsDir

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded (not an error — just capped).
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil // Silently discard.
	}
	chunk := p
	if len(chunk) > lw.remaining {
		chunk = chunk[:lw.remaining]
	}
	n, err := lw.w.Write(chunk)
	lw.remaining -= n
	if err != nil {
		return n, err
	}
	// Report the full length so io.Copy keeps draining the pipe instead
	// of failing with a short write once the cap is hit.
	return len(p), nil
}

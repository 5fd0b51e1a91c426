package sandbox

import "time"

// FailureKind classifies failures that prevented a command from running to
// completion. The zero value means the process ran and exited on its own.
type FailureKind string

const (
	// FailurePermissionDenied: the command did not pass the permission
	// gate. No process was spawned.
	FailurePermissionDenied FailureKind = "permission_denied"

	// FailureTimeout: the supervisory timer fired and the process tree was
	// killed. Partial output is discarded.
	FailureTimeout FailureKind = "timeout"

	// FailureExecutionError: a spawn-level OS failure (binary not found,
	// bad working directory, resource exhaustion) or external cancellation.
	FailureExecutionError FailureKind = "execution_error"
)

// Constraints bound one execution. Defaults are safe-by-default: a five
// minute timeout, no network claim, no working-directory override.
type Constraints struct {
	// MaxExecutionTime is the wall-clock bound. Zero = 300s default.
	MaxExecutionTime time.Duration

	// MaxMemoryMB limits the child's virtual memory (ulimit -v).
	// Best-effort: silently ignored where the platform has no such
	// primitive. Zero = unlimited.
	MaxMemoryMB int

	// NetworkAccess is advisory only; this engine does not enforce it.
	NetworkAccess bool

	// WorkingDirectory overrides the child's working directory.
	// Empty = sandbox root.
	WorkingDirectory string
}

// Request describes one command execution. Zero-valued fields fall back to
// the sandbox's default constraints.
type Request struct {
	// Command is the shell command line to run. Pipes and redirection are
	// preserved — the command is interpreted by /bin/sh.
	Command string

	// Env is merged over the ambient process environment. The sandbox
	// identity keys always win over entries supplied here.
	Env map[string]string

	// WorkingDir overrides the working directory for this call.
	WorkingDir string

	// Timeout overrides Constraints.MaxExecutionTime for this call.
	Timeout time.Duration

	// MaxMemoryMB overrides Constraints.MaxMemoryMB for this call.
	MaxMemoryMB int
}

// Result captures the outcome of one execution. Execute never returns a Go
// error: every failure mode is reported here as a value.
//
// Invariant: Success == (Kind == "" && ExitCode == 0).
type Result struct {
	Success      bool
	ExitCode     int
	Stdout       string
	Stderr       string
	Duration     time.Duration
	Command      string
	Kind         FailureKind // Empty when a process ran and exited.
	ErrorMessage string      // Human-readable cause when not successful.
}

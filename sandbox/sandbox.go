// Package sandbox executes skill commands under a permission scope with
// bounded time and resources. All external commands run through a Sandbox —
// never directly with the host process's working directory or identity.
package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/skillbox/permission"
)

const (
	// defaultScriptsSubdir is where runnable skill scripts must live,
	// relative to the sandbox root.
	defaultScriptsSubdir = "scripts"

	defaultTimeout = 300 * time.Second

	// maxOutputBytes caps stdout/stderr to prevent OOM from chatty commands.
	maxOutputBytes = 1 << 20 // 1 MB
)

// Environment variables injected into every spawned process. They always
// overwrite caller-supplied values of the same name, so a caller cannot
// spoof the sandbox identity.
const (
	EnvSkillName  = "SKILL_NAME"
	EnvSkillDir   = "SKILL_DIR"
	EnvScriptsDir = "SCRIPTS_DIR"
)

// Config configures a Sandbox.
type Config struct {
	// Name identifies the logical unit of work (the skill) this sandbox
	// belongs to. Exposed to children via SKILL_NAME.
	Name string

	// Root is the sandbox root directory. It must exist; it is
	// canonicalized (symlinks resolved) once at construction.
	Root string

	// ScriptsSubdir is the subdirectory of Root that runnable scripts must
	// live in. Default: "scripts".
	ScriptsSubdir string

	// AllowedTools is the raw permission specification, e.g.
	// "Bash(python:*),Read,Write". Empty = deny all commands.
	AllowedTools string

	// Defaults are the execution constraints applied when a request does
	// not override them. Zero values fall back to safe defaults.
	Defaults Constraints

	// Metrics receives Prometheus metrics when non-nil.
	Metrics *Metrics

	// Tracer emits one span per execution when non-nil.
	Tracer trace.Tracer
}

// Sandbox is an immutable execution scope for one skill.
//
// Construction canonicalizes the root and parses the permission grammar
// once; a malformed spec or unresolvable root fails here, never at
// execution time. After construction the sandbox configuration never
// changes, so Execute and ResolveScript are safe to call concurrently from
// any goroutine without locking.
type Sandbox struct {
	name       string
	root       string
	scriptsDir string
	rules      permission.RuleSet
	defaults   Constraints
	metrics    *Metrics
	tracer     trace.Tracer
	logger     *slog.Logger

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Sandbox from a root directory and a permission spec.
func New(cfg Config, logger *slog.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("sandbox root is required")
	}

	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", cfg.Root, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", cfg.Root, err)
	}

	rules, err := permission.Parse(cfg.AllowedTools)
	if err != nil {
		return nil, fmt.Errorf("parsing allowed tools for skill %q: %w", cfg.Name, err)
	}

	sub := cfg.ScriptsSubdir
	if sub == "" {
		sub = defaultScriptsSubdir
	}
	scriptsDir := filepath.Join(root, sub)
	// If the scripts directory exists and is itself a symlink, containment
	// checks must compare against its canonical form.
	if canon, err := filepath.EvalSymlinks(scriptsDir); err == nil {
		scriptsDir = canon
	}

	defaults := cfg.Defaults
	if defaults.MaxExecutionTime <= 0 {
		defaults.MaxExecutionTime = defaultTimeout
	}

	s := &Sandbox{
		name:       cfg.Name,
		root:       root,
		scriptsDir: scriptsDir,
		rules:      rules,
		defaults:   defaults,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		logger:     logger,
	}

	logger.Info("sandbox initialized",
		slog.String("skill", s.name),
		slog.String("root", s.root),
		slog.Int("rules", len(s.rules)),
		slog.Duration("timeout", defaults.MaxExecutionTime),
	)
	return s, nil
}

// Name returns the logical skill name.
func (s *Sandbox) Name() string { return s.name }

// Root returns the canonical sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// ScriptsDir returns the canonical scripts directory.
func (s *Sandbox) ScriptsDir() string { return s.scriptsDir }

// Rules returns the parsed permission rule set.
func (s *Sandbox) Rules() permission.RuleSet { return s.rules }

// Allows reports whether command would pass the permission gate.
func (s *Sandbox) Allows(command string) bool {
	return s.rules.Allows(command)
}

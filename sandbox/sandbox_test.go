package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/skillbox/permission"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSandbox builds a sandbox over a fresh temp root with a scripts/
// subdirectory already in place.
func newTestSandbox(t *testing.T, allowed string) *Sandbox {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "scripts"), 0o750); err != nil {
		t.Fatal(err)
	}
	s, err := New(Config{
		Name:         "test-skill",
		Root:         root,
		AllowedTools: allowed,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_CanonicalizesRoot(t *testing.T) {
	tmp := t.TempDir()
	real := filepath.Join(tmp, "real")
	if err := os.Mkdir(real, 0o750); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(tmp, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{Name: "x", Root: link}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want, err := filepath.EvalSymlinks(real)
	if err != nil {
		t.Fatal(err)
	}
	if s.Root() != want {
		t.Errorf("Root() = %q, want canonical %q", s.Root(), want)
	}
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := New(Config{Name: "x", Root: filepath.Join(t.TempDir(), "nope")}, testLogger())
	if err == nil {
		t.Fatal("New with missing root succeeded, want error")
	}
}

func TestNew_BadGrammarFailsConstruction(t *testing.T) {
	_, err := New(Config{
		Name:         "x",
		Root:         t.TempDir(),
		AllowedTools: "Bash(git:*,Read",
	}, testLogger())
	if err == nil {
		t.Fatal("New with malformed spec succeeded, want error")
	}
	if !errors.Is(err, permission.ErrBadGrammar) {
		t.Errorf("error = %v, want ErrBadGrammar", err)
	}
}

func TestNew_DefaultScriptsSubdir(t *testing.T) {
	s := newTestSandbox(t, "")
	want := filepath.Join(s.Root(), "scripts")
	if s.ScriptsDir() != want {
		t.Errorf("ScriptsDir() = %q, want %q", s.ScriptsDir(), want)
	}
}

func TestNew_CustomScriptsSubdir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o750); err != nil {
		t.Fatal(err)
	}
	s, err := New(Config{Name: "x", Root: root, ScriptsSubdir: "bin"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	want, err := filepath.EvalSymlinks(filepath.Join(root, "bin"))
	if err != nil {
		t.Fatal(err)
	}
	if s.ScriptsDir() != want {
		t.Errorf("ScriptsDir() = %q, want %q", s.ScriptsDir(), want)
	}
}

func TestNew_DefaultTimeout(t *testing.T) {
	s := newTestSandbox(t, "")
	if s.defaults.MaxExecutionTime != 300*time.Second {
		t.Errorf("default timeout = %s, want 300s", s.defaults.MaxExecutionTime)
	}
}

func TestAllowsPassthrough(t *testing.T) {
	s := newTestSandbox(t, "Bash(echo:*)")
	if !s.Allows("echo hi") {
		t.Error("Allows(echo hi) = false, want true")
	}
	if s.Allows("rm -rf /") {
		t.Error("Allows(rm -rf /) = true, want false")
	}
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	if m := NewMetrics(nil); m != nil {
		t.Errorf("NewMetrics(nil) = %v, want nil", m)
	}
}

func TestMetrics_RecordsExecutions(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	root := t.TempDir()
	s, err := New(Config{
		Name:         "metrics-skill",
		Root:         root,
		AllowedTools: "Bash(true:*)",
		Metrics:      metrics,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if res := s.Execute(context.Background(), Request{Command: "true"}); !res.Success {
		t.Fatalf("execute: %+v", res)
	}
	if res := s.Execute(context.Background(), Request{Command: "rm -rf /"}); res.Kind != FailurePermissionDenied {
		t.Fatalf("expected denial, got %+v", res)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"skillbox_sandbox_executions_total",
		"skillbox_sandbox_execution_duration_seconds",
		"skillbox_sandbox_permission_denials_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestStats_Counters(t *testing.T) {
	s := newTestSandbox(t, "Bash(true:*),Bash(false:*)")

	s.Execute(context.Background(), Request{Command: "true"})
	s.Execute(context.Background(), Request{Command: "false"})
	s.Execute(context.Background(), Request{Command: "denied-cmd"})

	st := s.Stats()
	if st.TotalExecutions != 3 {
		t.Errorf("TotalExecutions = %d, want 3", st.TotalExecutions)
	}
	if st.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", st.Succeeded)
	}
	if st.Failed != 2 {
		t.Errorf("Failed = %d, want 2", st.Failed)
	}
	if st.PermissionDenials != 1 {
		t.Errorf("PermissionDenials = %d, want 1", st.PermissionDenials)
	}
}

func TestStats_AverageDuration(t *testing.T) {
	var st Stats
	if st.AverageDuration() != 0 {
		t.Error("empty stats should average to zero")
	}
	st = Stats{TotalExecutions: 2, TotalDuration: 4 * time.Second}
	if st.AverageDuration() != 2*time.Second {
		t.Errorf("AverageDuration = %s, want 2s", st.AverageDuration())
	}
}

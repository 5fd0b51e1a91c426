package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors returned by ResolveScript.
var (
	ErrPathTraversal     = errors.New("path escapes sandbox root")
	ErrScriptNotFound    = errors.New("script not found")
	ErrOutsideScriptsDir = errors.New("script outside scripts directory")
)

// ResolveScript validates rel against the sandbox root and returns the
// canonical absolute path of the script.
//
// The checks, in order: the cleaned join must stay under the root (this
// catches traversal even when the target does not exist), the target must
// exist, its symlink-resolved form must still be under the canonical root,
// and it must live inside the scripts subdirectory. ResolveScript has no
// side effects and runs before any execution of a script path.
func (s *Sandbox) ResolveScript(rel string) (string, error) {
	joined := filepath.Join(s.root, rel)

	// filepath.Join cleans ".." sequences, so an escaping path is
	// detectable lexically before touching the filesystem.
	if !within(joined, s.root) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, rel)
	}

	canon, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %q (expected at %s)", ErrScriptNotFound, rel, joined)
		}
		return "", fmt.Errorf("%w: %q: %v", ErrScriptNotFound, rel, err)
	}

	// A raw string-prefix check on the unresolved path is not enough:
	// symlinks inside the root may point anywhere. The canonical form must
	// still be contained in the canonical root.
	if !within(canon, s.root) {
		return "", fmt.Errorf("%w: %q resolves to %s", ErrPathTraversal, rel, canon)
	}
	if !within(canon, s.scriptsDir) {
		return "", fmt.Errorf("%w: %q (must be under %s)", ErrOutsideScriptsDir, rel, s.scriptsDir)
	}
	return canon, nil
}

// within reports whether path is dir or a descendant of dir. Both arguments
// must be cleaned absolute paths; containment is per path component, never
// a raw string prefix.
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(os.PathSeparator))
}

//go:build !unix

package isolate

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

var warnOnce sync.Once

// applyPlatformAttrs is a no-op on non-Unix platforms; process-group
// detachment has no portable equivalent wired here.
func applyPlatformAttrs(cmd *exec.Cmd) {}

// RunReexecedChild on non-Unix platforms cannot apply rlimit-style resource
// limits (no setrlimit equivalent is wired here; Windows Job Objects would
// be the correct primitive but are out of scope for this build). This is
// the documented best-effort gap called for by spec.md §9: the command
// still runs, but memory/CPU/file-handle/process-count enforcement is not
// performed on this platform.
func RunReexecedChild(target string, args []string) error {
	warnOnce.Do(func() {
		slog.Warn("resource limit enforcement is not implemented on this platform; running unconfined")
	})
	cmd := exec.Command(target, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("isolate: run %q: %w", target, err)
	}
	os.Exit(0)
	return nil
}

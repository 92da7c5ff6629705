//go:build unix

package isolate

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// applyPlatformAttrs detaches the re-exec'd child from the controlling
// terminal, grounded on the teacher's BuildSysProcAttr in linux/namespace.go.
func applyPlatformAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// RunReexecedChild is the entry point for the hidden "__isolate_exec__"
// subcommand: apply resource limits and an unprivileged uid/gid (when
// running as root), then replace this process image with the real target
// via exec so no extra process remains in the tree. This is the in-child
// pre-exec path chosen to resolve spec.md §9's rlimit ambiguity: limits are
// applied to the child that will run the target, never to the long-lived
// parent.
func RunReexecedChild(target string, args []string) error {
	if err := applyResourceLimits(); err != nil {
		return err
	}
	if unix.Getuid() == 0 {
		if err := dropToNobody(); err != nil {
			return err
		}
	}
	if err := unix.Setsid(); err != nil {
		// Already a session leader (e.g. re-exec under a test harness); not fatal.
		_ = err
	}

	binary, err := exec.LookPath(target)
	if err != nil {
		return fmt.Errorf("isolate: resolve %q: %w", target, err)
	}
	return unix.Exec(binary, append([]string{target}, args...), os.Environ())
}

func applyResourceLimits() error {
	memMB := envUint64(ReexecEnvPrefix + "MEM_MB")
	cpuMS := envUint64(ReexecEnvPrefix + "CPU_MS")
	nofile := envUint64(ReexecEnvPrefix + "NOFILE")
	nproc := envUint64(ReexecEnvPrefix + "NPROC")

	if memMB > 0 {
		bytes := memMB * 1024 * 1024
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("isolate: set memory limit: %w", err)
		}
	}
	if cpuMS > 0 {
		seconds := cpuMS / 1000
		if seconds == 0 {
			seconds = 1
		}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: seconds, Max: seconds}); err != nil {
			return fmt.Errorf("isolate: set CPU limit: %w", err)
		}
	}
	if nofile > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: nofile, Max: nofile}); err != nil {
			return fmt.Errorf("isolate: set file handle limit: %w", err)
		}
	}
	if nproc > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: nproc, Max: nproc}); err != nil {
			return fmt.Errorf("isolate: set process limit: %w", err)
		}
	}
	return nil
}

func dropToNobody() error {
	const nobody = 65534
	if err := unix.Setgid(nobody); err != nil {
		return fmt.Errorf("isolate: drop gid: %w", err)
	}
	if err := unix.Setuid(nobody); err != nil {
		return fmt.Errorf("isolate: drop uid: %w", err)
	}
	return nil
}

func envUint64(name string) uint64 {
	v, err := strconv.ParseUint(os.Getenv(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

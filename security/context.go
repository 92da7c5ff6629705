package security

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	secerr "sandboxexec/errors"
)

// Context is the per-session security policy: a set of held capabilities,
// resource limits, an execution timeout, allowed/restricted path roots, and
// an environment-variable allowlist. Restricted paths take precedence over
// allowed paths; a path is accessible only if its canonical form lies
// under some allowed root and under no restricted root.
type Context struct {
	Capabilities         map[Capability]struct{}
	ResourceLimits       ResourceLimits
	ExecutionTimeout     time.Duration
	AllowedPaths         []string
	RestrictedPaths      []string
	EnvironmentAllowlist map[string]struct{}
}

// New builds the baseline security context: temp dir and cwd allowed, the
// standard OS-sensitive directories restricted, a small environment
// allowlist, and a 60s execution timeout.
func New() *Context {
	allowed := []string{os.TempDir()}
	if cwd, err := os.Getwd(); err == nil {
		allowed = append(allowed, cwd)
	}

	restricted := []string{"/etc", "/sys", "/proc", "/dev", "/root",
		`C:\Windows\System32`, `C:\Windows\SysWOW64`}

	env := map[string]struct{}{}
	for _, name := range []string{"PATH", "HOME", "USER", "TEMP", "TMP", "NODE_ENV"} {
		env[name] = struct{}{}
	}

	return &Context{
		Capabilities:         map[Capability]struct{}{},
		ResourceLimits:       DefaultResourceLimits(),
		ExecutionTimeout:     60 * time.Second,
		AllowedPaths:         allowed,
		RestrictedPaths:      restricted,
		EnvironmentAllowlist: env,
	}
}

// ForFileOperations builds a context scoped to read/write/temp access under
// basePath, with a tighter memory limit and timeout than the baseline.
func ForFileOperations(basePath string) *Context {
	ctx := New()
	ctx.AddCapability(CapFileRead(basePath))
	ctx.AddCapability(CapFileWrite(basePath))
	ctx.AddCapability(CapTempFileAccess())
	ctx.AllowedPaths = []string{basePath, os.TempDir()}
	ctx.ResourceLimits.MaxMemoryMB = 256
	ctx.ExecutionTimeout = 30 * time.Second
	return ctx
}

// ForCommandExecution builds a context scoped to process spawning, with a
// higher memory allowance, a tighter child-process cap, and a longer timeout.
func ForCommandExecution() *Context {
	ctx := New()
	ctx.AddCapability(CapProcessSpawn())
	ctx.AddCapability(CapTempFileAccess())
	ctx.ResourceLimits.MaxMemoryMB = 1024
	ctx.ResourceLimits.MaxChildProcesses = 3
	ctx.ExecutionTimeout = 120 * time.Second
	return ctx
}

// Minimal builds the most restrictive context: temp access only, low
// resource caps, a short timeout, and no path beyond the OS temp directory.
func Minimal() *Context {
	ctx := New()
	ctx.AddCapability(CapTempFileAccess())
	ctx.ResourceLimits.MaxMemoryMB = 128
	ctx.ResourceLimits.MaxCPUTimeMS = 10000
	ctx.ExecutionTimeout = 15 * time.Second
	ctx.AllowedPaths = []string{os.TempDir()}
	return ctx
}

// AddCapability grants cap to the context.
func (c *Context) AddCapability(cap Capability) {
	c.Capabilities[cap] = struct{}{}
}

// AddAllowedPath appends an additional allowed root.
func (c *Context) AddAllowedPath(path string) {
	c.AllowedPaths = append(c.AllowedPaths, path)
}

// AddRestrictedPath appends an additional restricted root.
func (c *Context) AddRestrictedPath(path string) {
	c.RestrictedPaths = append(c.RestrictedPaths, path)
}

// SetResourceLimits replaces the context's resource limits wholesale.
func (c *Context) SetResourceLimits(limits ResourceLimits) {
	c.ResourceLimits = limits
}

// canonicalize resolves symlinks and makes path absolute; if that fails
// (e.g. the path does not exist yet), it falls back to the cleaned,
// absolute form of the literal path.
func canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		if abs, err := filepath.Abs(resolved); err == nil {
			return abs
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

func hasPrefix(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// ValidatePathAccess denies any path under a restricted root, then allows
// any path under an allowed root; any other path is denied.
func (c *Context) ValidatePathAccess(path string) error {
	canonical := canonicalize(path)

	for _, restricted := range c.RestrictedPaths {
		if hasPrefix(canonical, canonicalize(restricted)) {
			return secerr.ErrPathNotAllowed.WithDetail("path", path)
		}
	}
	for _, allowed := range c.AllowedPaths {
		if hasPrefix(canonical, canonicalize(allowed)) {
			return nil
		}
	}
	return secerr.ErrPathNotAllowed.WithDetail("path", path)
}

// ValidateCapability checks cap against path validation (for file
// capabilities) plus either a held-capability prefix match (file
// capabilities) or exact set membership (all other capabilities).
func (c *Context) ValidateCapability(cap Capability) error {
	switch cap.Kind {
	case FileRead, FileWrite:
		if err := c.ValidatePathAccess(cap.Path); err != nil {
			return err
		}
		requested := canonicalize(cap.Path)
		for held := range c.Capabilities {
			if held.Kind != cap.Kind {
				continue
			}
			if hasPrefix(requested, canonicalize(held.Path)) {
				return nil
			}
		}
		return secerr.ErrCapabilityDenied.WithDetail("capability", cap.Kind.String()).WithDetail("path", cap.Path)
	default:
		if _, ok := c.Capabilities[cap.exactKey()]; ok {
			return nil
		}
		return secerr.ErrCapabilityDenied.WithDetail("capability", cap.Kind.String())
	}
}

// ValidateEnvironmentAccess denies any variable name not on the allowlist.
func (c *Context) ValidateEnvironmentAccess(name string) error {
	if _, ok := c.EnvironmentAllowlist[name]; ok {
		return nil
	}
	return secerr.ErrEnvironmentNotAllowed.WithDetail("variable", name)
}

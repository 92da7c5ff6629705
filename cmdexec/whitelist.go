package cmdexec

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"sandboxexec/logging"
	"sandboxexec/security"
)

// DefaultAllowedCommands is the built-in command whitelist, used when
// COMMAND_ALLOWLIST_FILE is unset or cannot be loaded. security.Context
// carries no command list of its own, so it is not consulted here.
var DefaultAllowedCommands = []string{
	"ls", "cat", "echo", "pwd", "whoami", "date", "wc", "sort", "uniq", "head", "tail",
	"grep", "find", "which", "file", "du", "df", "ps", "env",
	"git", "npm", "node", "python", "python3", "pip", "pip3",
	"go", "make", "cargo", "rustc",
}

// DefaultAllowedEnvVars lists common environment-variable names. Executors
// do not read it; environment names are checked against
// security.Context.EnvironmentAllowlist.
var DefaultAllowedEnvVars = []string{
	"PATH", "HOME", "USER", "LANG", "LC_ALL", "TERM", "PWD", "TMPDIR", "SHELL",
}

// Whitelist holds the live set of allowed command names, optionally
// reloaded from a JSON file on disk.
type Whitelist struct {
	mu       sync.RWMutex
	commands map[string]struct{}
	watcher  *fsnotify.Watcher
	path     string
}

// NewWhitelist builds a Whitelist seeded from initial.
func NewWhitelist(initial []string) *Whitelist {
	w := &Whitelist{commands: toSet(initial)}
	return w
}

// NewWhitelistFromEnv builds a Whitelist from the COMMAND_ALLOWLIST_FILE
// environment variable if set (a JSON array of command names), falling
// back to DefaultAllowedCommands. When the file is present, changes to it
// are live-reloaded via fsnotify.
func NewWhitelistFromEnv() *Whitelist {
	path := os.Getenv("COMMAND_ALLOWLIST_FILE")
	if path == "" {
		return NewWhitelist(DefaultAllowedCommands)
	}
	commands, err := loadAllowlistFile(path)
	if err != nil {
		logging.Warn("failed to load command allowlist file, using defaults", "path", path, "error", err)
		return NewWhitelist(DefaultAllowedCommands)
	}
	w := NewWhitelist(commands)
	w.path = path
	w.watch()
	return w
}

func loadAllowlistFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var commands []string
	if err := json.Unmarshal(data, &commands); err != nil {
		return nil, err
	}
	for _, c := range commands {
		if err := security.Validate(c); err != nil {
			return nil, fmt.Errorf("allowlist entry %q rejected: %w", c, err)
		}
	}
	return commands, nil
}

func (w *Whitelist) watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("failed to start allowlist watcher", "error", err)
		return
	}
	if err := watcher.Add(w.path); err != nil {
		logging.Warn("failed to watch allowlist file", "path", w.path, "error", err)
		watcher.Close()
		return
	}
	w.watcher = watcher
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					w.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("allowlist watcher error", "error", err)
			}
		}
	}()
}

func (w *Whitelist) reload() {
	commands, err := loadAllowlistFile(w.path)
	if err != nil {
		logging.Warn("failed to reload command allowlist", "path", w.path, "error", err)
		return
	}
	w.mu.Lock()
	w.commands = toSet(commands)
	w.mu.Unlock()
	logging.Info("reloaded command allowlist", "path", w.path, "count", len(commands))
}

// Close stops the underlying file watcher, if any.
func (w *Whitelist) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

// Allowed reports whether command is on the whitelist.
func (w *Whitelist) Allowed(command string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.commands[command]
	return ok
}

// Add grants command access, mirroring add_allowed_command in the
// reference executor.
func (w *Whitelist) Add(command string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commands[command] = struct{}{}
}

// Remove revokes command access, mirroring remove_allowed_command.
func (w *Whitelist) Remove(command string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.commands, command)
}

// List returns the currently allowed commands, unsorted.
func (w *Whitelist) List() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.commands))
	for c := range w.commands {
		out = append(out, c)
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

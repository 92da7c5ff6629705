package security

import (
	"strings"
	"unicode"

	secerr "sandboxexec/errors"
)

// MaxInputLength is the maximum accepted length, in bytes, for any
// user-supplied string passed through Validate.
const MaxInputLength = 10 * 1024

// shellMetacharacters are rejected unconditionally in any validated string.
const shellMetacharacters = ";&|`$><!*?~(){}[]'\""

// dangerousSequences are blocked substrings regardless of surrounding
// context, matched case-insensitively after the metacharacter check. Some
// entries ("curl|sh", "wget|sh", "> /dev/") contain a metacharacter and are
// already rejected by that check; the others (e.g. "rm -rf") are built
// only from characters that pass it one by one and are caught here as a
// whole.
var dangerousSequences = []string{
	"rm -rf",
	"curl|sh",
	"wget|sh",
	"chmod 777",
	"sudo",
	"su ",
	"passwd",
	"useradd",
	"userdel",
	"usermod",
	"> /dev/",
	// Carried forward from the Rust original's broader pattern list; not
	// named explicitly in spec.md but not excluded by its Non-goals.
	"/dev/tcp/",
	"nc -e",
	"bash -i",
}

// Validate rejects strings containing shell metacharacters, control
// characters, null bytes, recognized dangerous sequences, or that exceed
// MaxInputLength. It does not inspect path-specific rules; see ValidatePath.
func Validate(s string) error {
	if len(s) > MaxInputLength {
		return secerr.ErrInputTooLarge.WithDetail("length", len(s))
	}
	for _, r := range s {
		if r == 0 {
			return secerr.ErrInputMalformed.WithDetail("reason", "null byte")
		}
		if unicode.IsControl(r) {
			return secerr.ErrInputMalformed.WithDetail("reason", "control character")
		}
	}
	if strings.ContainsAny(s, shellMetacharacters) {
		return secerr.ErrInputMalformed.WithDetail("reason", "shell metacharacter")
	}
	lower := strings.ToLower(s)
	for _, seq := range dangerousSequences {
		if strings.Contains(lower, seq) {
			return secerr.ErrInputMalformed.WithDetail("reason", "dangerous sequence").WithDetail("sequence", seq)
		}
	}
	return nil
}

// ValidatePath additionally rejects ".." path traversal segments and
// absolute paths into recognized sensitive directories, on top of the
// general string validation above.
func ValidatePath(path string) error {
	if err := Validate(path); err != nil {
		return err
	}
	if strings.Contains(path, "..") {
		return secerr.ErrPathTraversal.WithDetail("path", path)
	}
	for _, sensitive := range []string{"/etc", "/sys", "/proc", "/dev", "/root"} {
		if strings.HasPrefix(path, sensitive) {
			return secerr.ErrPathNotAllowed.WithDetail("path", path)
		}
	}
	return nil
}

// sanitizeEscapes are the characters Sanitize backslash-escapes; distinct
// from validation, which rejects rather than rewrites.
const sanitizeEscapes = "\\\"'`$"

// Sanitize escapes backslash, double quote, single quote, backtick, and
// dollar sign, leaving all other characters untouched. Sanitize is a
// separate step from Validate: validated input is rejected outright on a
// dangerous pattern, sanitized input is made safe to embed literally.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(sanitizeEscapes, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

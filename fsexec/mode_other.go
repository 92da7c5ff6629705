//go:build !unix

package fsexec

import "os"

// modeString has no reliable POSIX permission bits to report on this
// platform, so it falls back to the conventional defaults.
func modeString(info os.FileInfo) string {
	if info.IsDir() {
		return "0755"
	}
	return "0644"
}

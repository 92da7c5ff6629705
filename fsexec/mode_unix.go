//go:build unix

package fsexec

import (
	"fmt"
	"os"
)

// modeString renders the POSIX permission bits as an octal string. The
// "0644"/"0755" fallback is in mode_other.go, for platforms without real
// bits.
func modeString(info os.FileInfo) string {
	return fmt.Sprintf("%04o", info.Mode().Perm())
}

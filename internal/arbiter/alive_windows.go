//go:build windows

package arbiter

import "os"

// processAlive reports whether a process with the given PID exists. On
// Windows, FindProcess fails for PIDs that cannot be opened.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

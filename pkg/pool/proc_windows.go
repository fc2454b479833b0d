//go:build windows

package pool

import "os"

// Orphan detection by command line is not implemented on Windows; eviction
// falls back to the PID marker alone.
func findBrowserPID(profileDir string) int {
	return 0
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess succeeds for dead PIDs on Windows too; Release is the
	// closest cheap liveness probe we have here.
	defer proc.Release()
	return true
}

func killProcess(pid int) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}

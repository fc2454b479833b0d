package pool

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// pidFileName is the marker written next to each slot's profile data. It is
// the only durable state the pool owns, used to detect and terminate an
// orphaned browser process during eviction or re-allocation.
const pidFileName = "browser.pid"

func writePIDFile(profileDir string, pid int) error {
	path := filepath.Join(profileDir, pidFileName)
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0600)
}

// readPIDFile returns the recorded PID, or 0 when the marker is absent or
// unreadable.
func readPIDFile(profileDir string) int {
	raw, err := os.ReadFile(filepath.Join(profileDir, pidFileName))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func removePIDFile(profileDir string) {
	_ = os.Remove(filepath.Join(profileDir, pidFileName))
}

package common

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/maxgio92/xstat/internal/settings"
)

// ReadPid returns the pid stored in the daemon pid file.
func ReadPid() (int, bool) {
	pidData, err := os.ReadFile(settings.PidFile)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return 0, false
	}

	return pid, true
}

func IsDaemonRunning() bool {
	pid, ok := ReadPid()
	if !ok {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Check if process exists
	return process.Signal(syscall.Signal(0)) == nil
}

// WritePid stores pid in the daemon pid file.
func WritePid(pid int) error {
	return os.WriteFile(settings.PidFile, []byte(strconv.Itoa(pid)), 0644)
}

// Network returns the network of a daemon address: paths are Unix sockets.
func Network(addr string) string {
	if strings.Contains(addr, "/") {
		return "unix"
	}
	return "tcp"
}

package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TouchNotifySignal writes a revision ("<pid>:<unix nanos>") to the signal file
// so fsnotify watchers in other processes can detect cache changes. Creates
// parent dir and file if needed.
func TouchNotifySignal(signalPath string) error {
	if signalPath == "" {
		return nil
	}
	dir := filepath.Dir(signalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signal file dir: %w", err)
	}
	rev := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
	return os.WriteFile(signalPath, []byte(rev), 0644)
}

// SignalOwner returns the pid that wrote rev.
func SignalOwner(rev string) (int, bool) {
	pid, _, ok := strings.Cut(strings.TrimSpace(rev), ":")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(pid)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsOwnSignal reports whether rev was written by this process.
func IsOwnSignal(rev string) bool {
	pid, ok := SignalOwner(rev)
	return ok && pid == os.Getpid()
}

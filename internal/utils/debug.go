package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	debugOnce    sync.Once
	debugFile    *os.File
	debugMu      sync.Mutex
	debugEnabled bool
)

func init() {
	debugEnabled = os.Getenv("FETCHCORE_DEBUG") != ""
}

// EnableDebug turns Debug logging on or off for the lifetime of the process.
func EnableDebug(on bool) {
	debugMu.Lock()
	debugEnabled = on
	debugMu.Unlock()
}

// logsDir returns the directory debug logs are written to. Kept as a
// variable (not a constant) so tests can redirect it.
var logsDir = filepath.Join(os.TempDir(), "fetchcore", "logs")

// Debug writes a formatted, timestamped line to a dated log file under
// logsDir. It never writes to stdout/stderr: those streams belong to the
// caller's UI. Debug is a no-op unless EnableDebug(true) was called or
// FETCHCORE_DEBUG is set in the environment.
func Debug(format string, args ...any) {
	debugMu.Lock()
	enabled := debugEnabled
	debugMu.Unlock()
	if !enabled {
		return
	}

	debugOnce.Do(func() {
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return
		}
		name := fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))
		f, err := os.OpenFile(filepath.Join(logsDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			debugFile = f
		}
	})

	if debugFile == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
	debugMu.Lock()
	_, _ = debugFile.WriteString(line)
	debugMu.Unlock()
}

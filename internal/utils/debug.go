package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Polonium-salts/OpenStore/internal/config"
)

// Verbose is not consulted by Debug, which writes every line regardless of
// its value, and nothing in this module sets it.
var Verbose bool

var (
	debugOnce sync.Once
	debugFile *os.File
	debugMu   sync.Mutex
)

func openDebugLog() {
	_ = config.EnsureDir()
	path := filepath.Join(config.Dir(), "debug.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	debugFile = f
}

// Debug appends a timestamped line to {user-config}/OpenStore/debug.log,
// opening it lazily on first use. It is silent if the log can't be opened.
func Debug(format string, args ...any) {
	debugOnce.Do(openDebugLog)
	if debugFile == nil {
		return
	}

	debugMu.Lock()
	defer debugMu.Unlock()

	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	if _, err := debugFile.WriteString(line); err != nil {
		return
	}
	_ = debugFile.Sync()
}

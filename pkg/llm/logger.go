package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	logPath string
	logMu   sync.Mutex
)

// SetLogPath configures the prompt history file. Empty disables history.
func SetLogPath(path string) {
	logMu.Lock()
	defer logMu.Unlock()
	logPath = path
}

// Log appends a prompt and its response (or error) to the history file.
// It is shared by all providers so the file has one format.
func Log(provider, model, prompt, response string, err error) {
	logMu.Lock()
	defer logMu.Unlock()

	if logPath == "" {
		return
	}
	if mkErr := os.MkdirAll(filepath.Dir(logPath), 0o755); mkErr != nil {
		return
	}

	f, openErr := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		return
	}
	defer f.Close()

	if err != nil {
		response = fmt.Sprintf("ERROR: %v", err)
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf("[%s] [%s] MODEL: %s\nPROMPT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		timestamp, provider, model, prompt, WordWrap(response, 100), strings.Repeat("-", 80))

	_, _ = f.WriteString(entry)
}

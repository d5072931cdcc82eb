package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	logPath = "logs/tts.log"
	mu      sync.RWMutex
)

// SetLogPath configures the path for the TTS log file. An empty path disables it.
func SetLogPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	logPath = path
}

// Log appends the spoken text and outcome of one synthesis call to the TTS log.
func Log(provider, speaker, text string, res Result, err error) {
	mu.RLock()
	path := logPath
	mu.RUnlock()
	if path == "" {
		return
	}

	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, fileErr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if fileErr != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	status := fmt.Sprintf("OK %d bytes, %d Hz, %s", res.Bytes, res.SampleRate, res.Duration.Round(time.Millisecond))
	if err != nil {
		status = fmt.Sprintf("ERROR(%v)", err)
	}

	// Format: [TIMESTAMP] [PROVIDER] speaker=<file> STATUS: <status> | TEXT: <text>
	entry := fmt.Sprintf("[%s] [%s] speaker=%s STATUS: %s\nTEXT:\n%s\n--------------------------------------------------\n",
		timestamp, provider, filepath.Base(speaker), status, text)

	_, _ = f.WriteString(entry)
}

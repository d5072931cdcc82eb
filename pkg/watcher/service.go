// Package watcher notices output files that change outside the worker, for
// example images written by sdbatch or files removed by hand.
package watcher

import (
	"context"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Service polls a set of directories and reports when their contents change.
type Service struct {
	paths    []string
	interval time.Duration

	mu   sync.Mutex
	last uint64
}

// NewService creates a watcher over paths. The current contents are the
// baseline, so the first check after startup reports no change.
func NewService(paths []string, interval time.Duration) *Service {
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			slog.Warn("Watcher: Directory does not exist", "path", path)
		}
	}
	s := &Service{paths: paths, interval: interval}
	s.last = s.fingerprint()
	return s
}

// CheckChanged reports whether any watched directory gained, lost or
// rewrote a file since the previous check.
func (s *Service) CheckChanged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := s.fingerprint()
	if fp == s.last {
		return false
	}
	s.last = fp
	return true
}

// Run polls until ctx is done, calling onChange after every detected change.
// A non-positive interval disables polling.
func (s *Service) Run(ctx context.Context, onChange func()) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.CheckChanged() {
				slog.Debug("Watcher: Output files changed")
				onChange()
			}
		}
	}
}

// fingerprint hashes name, size and mtime of every regular file.
func (s *Service) fingerprint() uint64 {
	var lines []string
	for _, path := range s.paths {
		entries, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			lines = append(lines, filepath.Join(path, entry.Name())+"|"+
				strconv.FormatInt(info.Size(), 10)+"|"+
				strconv.FormatInt(info.ModTime().UnixNano(), 10))
		}
	}
	sort.Strings(lines)

	h := fnv.New64a()
	for _, l := range lines {
		_, _ = h.Write([]byte(l))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

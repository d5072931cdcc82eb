package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"storyforge/pkg/logging"
)

const maxParamLen = 20

// Regex to capture key=value or key="value with spaces"
var logRegex = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"([^"]*)"|([^ ]+))`)

const maxTailLines = 50

type latestLogResponse struct {
	Log   string   `json:"log"`
	Lines []string `json:"lines,omitempty"`
}

// handleLatestLog returns the last captured log line, plus the last n lines
// when ?n= is given.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	resp := latestLogResponse{Log: formatLogLine(logging.GlobalLogCapture.GetLastLine())}
	if n, err := strconv.Atoi(r.URL.Query().Get("n")); err == nil && n > 0 {
		if n > maxTailLines {
			n = maxTailLines
		}
		for _, line := range logging.GlobalLogCapture.Tail(n) {
			resp.Lines = append(resp.Lines, formatLogLine(line))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("Failed to write log response", "error", err)
	}
}

// formatLogLine parses the raw log line and applies filtering rules.
// The result is "HH:MM:SS msg (k=v, ...)" with params sorted and values
// longer than maxParamLen dropped.
func formatLogLine(raw string) string {
	matches := logRegex.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw
	}

	var msg string
	var timeStr string
	var params []string

	for _, m := range matches {
		key := m[1]
		val := m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		if key == "time" {
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				timeStr = t.Format("15:04:05")
			}
			continue
		}

		if key == "level" {
			continue
		}

		if key == "msg" {
			msg = val
			continue
		}

		if len(val) > maxParamLen {
			continue
		}

		params = append(params, fmt.Sprintf("%s=%s", key, val))
	}

	if msg == "" {
		return raw
	}

	sort.Strings(params)

	output := msg
	if timeStr != "" {
		output = fmt.Sprintf("%s %s", timeStr, msg)
	}

	if len(params) > 0 {
		return fmt.Sprintf("%s (%s)", output, strings.Join(params, ", "))
	}
	return output
}

package model

import (
	"time"
)

// EventType classifies entries on the status event stream.
type EventType string

const (
	EventJob           EventType = "job"
	EventStatus        EventType = "status"
	EventProgressStart EventType = "progress_start"
	EventProgressStop  EventType = "progress_stop"
	EventFilesChanged  EventType = "files_changed"
	EventPlayback      EventType = "playback"
)

// Level hints how a UI should colour a status message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one entry on the status stream consumed by the web UI and desktop shell.
type Event struct {
	Seq     uint64     `json:"seq"`
	Type    EventType  `json:"type"`
	Time    time.Time  `json:"time"`
	JobID   string     `json:"job_id,omitempty"`
	Message string     `json:"message,omitempty"`
	Level   Level      `json:"level,omitempty"`
	Job     *JobStatus `json:"job,omitempty"`
}

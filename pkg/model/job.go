package model

import (
	"time"
)

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	JobQueued                JobState = "queued"
	JobRunning               JobState = "running"
	JobCancelling            JobState = "cancelling"
	JobCancelled             JobState = "cancelled"
	JobCompleted             JobState = "completed"
	JobCompletedWithWarnings JobState = "completed_with_warnings"
	JobFailed                JobState = "failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobCancelled, JobCompleted, JobCompletedWithWarnings, JobFailed:
		return true
	}
	return false
}

// Mode selects the prompt template.
type Mode string

const (
	ModeStory        Mode = "story"
	ModeConversation Mode = "conversation"
)

// JobRequest is one user-submitted generation request.
type JobRequest struct {
	Prompt         string   `json:"prompt"`
	Count          int      `json:"count"`
	Speaker        string   `json:"speaker"` // file name inside the speaker directory
	Mode           Mode     `json:"mode"`
	Character      string   `json:"character,omitempty"`
	Model          string   `json:"model"`
	SDCheckpoint   string   `json:"sd_checkpoint,omitempty"`
	SDVAE          string   `json:"sd_vae,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Styles         []string `json:"styles,omitempty"`
	LoraSyntax     string   `json:"lora_syntax,omitempty"`
}

// JobStatus is the externally visible state of a job.
type JobStatus struct {
	ID         string     `json:"id"`
	Request    JobRequest `json:"request"`
	State      JobState   `json:"status"`
	ItemsTotal int        `json:"items_total"`
	ItemsDone  int        `json:"items_done"`
	Errors     int        `json:"errors"`
	Warnings   int        `json:"warnings"`
	Message    string     `json:"message,omitempty"`
	BaseNames  []string   `json:"base_names,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s JobStatus) Clone() JobStatus {
	c := s
	if s.Request.Styles != nil {
		c.Request.Styles = append([]string(nil), s.Request.Styles...)
	}
	if s.BaseNames != nil {
		c.BaseNames = append([]string(nil), s.BaseNames...)
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

package model

import (
	"time"
)

// Story is one generated artifact set: text, narration audio and an optional image.
type Story struct {
	BaseName    string        `json:"basename"`
	Script      string        `json:"script"`
	ImagePrompt string        `json:"image_prompt,omitempty"`
	TextPath    string        `json:"text_path"`
	AudioPath   string        `json:"audio_path"`
	ImagePath   string        `json:"image_path,omitempty"`
	SampleRate  int           `json:"sample_rate"`
	Duration    time.Duration `json:"duration"`
	Latency     time.Duration `json:"generation_latency"`
	JobID       string        `json:"job_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ArtifactEntry describes one artifact set on disk, keyed by its audio file.
type ArtifactEntry struct {
	Name     string    `json:"name"`
	BaseName string    `json:"basename"`
	Title    string    `json:"title"`
	HasImage bool      `json:"has_image"`
	HasText  bool      `json:"has_text"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

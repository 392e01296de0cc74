package entities

import "time"

type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type JobRecord struct {
	ID            int64     `json:"id"`
	JobID         string    `json:"job_id"`
	EngineURL     string    `json:"engine_url"`
	Prompt        string    `json:"prompt"`
	Seed          uint64    `json:"seed"`
	SamplerName   string    `json:"sampler_name"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Status        JobStatus `json:"status"`
	ImageFilename string    `json:"image_filename"`
	FailureReason string    `json:"failure_reason"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

package models

import "time"

// JobStatus tracks a scrape invocation through its lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ScrapeJob records one cache-miss stage invocation.
type ScrapeJob struct {
	ID           string     `json:"id"`
	TargetURL    string     `json:"target_url"`
	TargetType   Stage      `json:"target_type"`
	Status       JobStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorLog     string     `json:"error_log,omitempty"`
	ItemsScraped int        `json:"items_scraped"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

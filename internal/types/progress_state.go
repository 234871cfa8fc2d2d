package types

import "time"

// ProgressState is the live state of an in-flight generation job.
// It is ephemeral: held in process by the tracker and mirrored into a
// short-TTL slot in the local store so another process can poll it.
type ProgressState struct {
	IsGenerating              bool       `json:"is_generating"`
	Progress                  int        `json:"progress"`
	Stage                     string     `json:"stage"`
	EstimatedSecondsRemaining *int       `json:"estimated_seconds_remaining,omitempty"`
	StartedAt                 *time.Time `json:"started_at,omitempty"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

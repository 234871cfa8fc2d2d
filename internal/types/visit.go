package types

import "time"

// Visit is the input shape consumed by analysis generation. Visit
// records come from the place directory and are never persisted by
// this subsystem.
type Visit struct {
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Category  string    `json:"category"`
	VisitedAt time.Time `json:"visited_at"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Rating    *float64  `json:"rating,omitempty"`
}

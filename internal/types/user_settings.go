package types

import (
	"time"

	"github.com/google/uuid"
)

const DefaultRefreshIntervalSeconds = 24 * 60 * 60

// UserSettings is the single per-user configuration row backing both
// the quota limiter and the refresh scheduler. It is created with
// defaults on first access and mutated in place afterwards.
type UserSettings struct {
	UserID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	LastUpdatedAt          int64      `gorm:"column:last_updated_at;not null;default:0" json:"last_updated_at"`
	RefreshIntervalSeconds int64      `gorm:"column:refresh_interval_seconds;not null;default:86400" json:"refresh_interval_seconds"`
	RequestCount           int        `gorm:"column:request_count;not null;default:0" json:"request_count"`
	LastRequestAt          *time.Time `gorm:"column:last_request_at" json:"last_request_at,omitempty"`
	NextAvailableAt        *time.Time `gorm:"column:next_available_at" json:"next_available_at,omitempty"`
	CreatedAt              time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"not null" json:"updated_at"`
}

func (UserSettings) TableName() string { return "user_settings" }

func (s *UserSettings) RefreshInterval() time.Duration {
	if s == nil || s.RefreshIntervalSeconds <= 0 {
		return time.Duration(DefaultRefreshIntervalSeconds) * time.Second
	}
	return time.Duration(s.RefreshIntervalSeconds) * time.Second
}

// LastUpdated converts the stored epoch-millis commit timestamp back
// to a time.Time. Zero means "never committed".
func (s *UserSettings) LastUpdated() time.Time {
	if s == nil || s.LastUpdatedAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastUpdatedAt)
}

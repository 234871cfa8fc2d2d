package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TravelAnalysis is one committed analysis record. Rows are append-only
// per user: regeneration inserts a new row and the latest created_at
// wins. Nothing updates or deletes a committed row.
type TravelAnalysis struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Temporal        datatypes.JSON `gorm:"column:temporal;type:jsonb" json:"temporal"`
	Spatial         datatypes.JSON `gorm:"column:spatial;type:jsonb" json:"spatial"`
	Behavioral      datatypes.JSON `gorm:"column:behavioral;type:jsonb" json:"behavioral"`
	Predictive      datatypes.JSON `gorm:"column:predictive;type:jsonb" json:"predictive"`
	Insights        datatypes.JSON `gorm:"column:insights;type:jsonb" json:"insights"`
	Comparative     datatypes.JSON `gorm:"column:comparative;type:jsonb" json:"comparative"`
	BasedOnPlaces   int            `gorm:"column:based_on_places;not null;default:0" json:"based_on_places"`
	AnalysisQuality int            `gorm:"column:analysis_quality;not null;default:0" json:"analysis_quality"`
	ConfidenceScore int            `gorm:"column:confidence_score;not null;default:0" json:"confidence_score"`
	LastRefreshedAt time.Time      `gorm:"column:last_refreshed_at;not null" json:"last_refreshed_at"`
	NextRefreshDue  time.Time      `gorm:"column:next_refresh_due;not null" json:"next_refresh_due"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`

	// Set on the transient placeholder served while a generation is in
	// flight; never persisted.
	IsGenerating bool `gorm:"-" json:"is_generating,omitempty"`
}

func (TravelAnalysis) TableName() string { return "travel_analysis" }

package models

import (
	"time"
)

// ActivitySummary holds only derived aggregate fields. Raw time-series
// payloads are confined to the compliance cache and must never land here.
type ActivitySummary struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubjectID    string    `gorm:"uniqueIndex:idx_subject_resource;not null" json:"subject_id"`
	ResourceID   string    `gorm:"uniqueIndex:idx_subject_resource;not null" json:"resource_id"`
	ResourceType string    `gorm:"index" json:"resource_type"`
	ActivityDate string    `json:"activity_date"`
	Steps        int       `json:"steps"`
	DistanceM    float64   `json:"distance_m"`
	Calories     int       `json:"calories"`
	ActiveMins   int       `json:"active_mins"`
	SyncedAt     time.Time `json:"synced_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (ActivitySummary) TableName() string {
	return "activity_summaries"
}

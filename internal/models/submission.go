package models

import "time"

// Submission is a collected snapshot of a grouping's repository at a
// revision. The row with VersionUsed set is the one being graded.
type Submission struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	GroupingID         uint      `gorm:"not null;index" json:"grouping_id"`
	RevisionIdentifier string    `gorm:"size:255" json:"revision_identifier"`
	RevisionTimestamp  time.Time `json:"revision_timestamp"`
	VersionUsed        bool      `gorm:"not null;default:false" json:"version_used"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

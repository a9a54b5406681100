package models

import "time"

// Group names a shared repository. Groupings bind it to assignments, so
// one group can carry work for several assignments.
type Group struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GroupName string    `gorm:"size:255;not null;uniqueIndex" json:"group_name"`
	RepoName  string    `gorm:"size:255;not null" json:"repo_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

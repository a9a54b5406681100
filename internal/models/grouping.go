package models

import "time"

// Grouping pairs a Group with an Assignment. It is the unit that submits
// work, receives grades, and spends test tokens.
type Grouping struct {
	ID                            uint      `gorm:"primaryKey" json:"id"`
	AssignmentID                  uint      `gorm:"not null;uniqueIndex:idx_groupings_pair" json:"assignment_id"`
	GroupID                       uint      `gorm:"not null;uniqueIndex:idx_groupings_pair" json:"group_id"`
	AdminApproved                 bool      `gorm:"not null;default:false" json:"admin_approved"`
	TestTokens                    int       `gorm:"not null;default:0" json:"test_tokens"`
	CriteriaCoverageCount         int       `gorm:"not null;default:0" json:"criteria_coverage_count"`
	StarterCodeRevisionIdentifier *string   `gorm:"size:255" json:"starter_code_revision_identifier"`
	IsCollected                   bool      `gorm:"not null;default:false" json:"is_collected"`
	CreatedAt                     time.Time `json:"created_at"`
	UpdatedAt                     time.Time `json:"updated_at"`

	Assignment  Assignment   `json:"assignment,omitempty"`
	Group       Group        `json:"group,omitempty"`
	Memberships []Membership `gorm:"constraint:OnDelete:CASCADE" json:"memberships,omitempty"`
	TestRuns    []TestRun    `gorm:"constraint:OnDelete:CASCADE" json:"test_runs,omitempty"`
	Extension   *Extension   `gorm:"constraint:OnDelete:CASCADE" json:"extension,omitempty"`
}

// Extension grants a grouping extra time past the assignment due date.
// At most one extension exists per grouping.
type Extension struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	GroupingID uint          `gorm:"not null;uniqueIndex" json:"grouping_id"`
	TimeDelta  time.Duration `gorm:"not null" json:"time_delta"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

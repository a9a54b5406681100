package models

import (
	"math"
	"time"
)

// Assignment defines the group-formation constraints and the automated
// test token policy that apply to every grouping working on it.
type Assignment struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	ShortIdentifier     string    `gorm:"size:255;uniqueIndex;not null" json:"short_identifier"`
	Description         string    `gorm:"type:text" json:"description"`
	DueDate             time.Time `gorm:"not null" json:"due_date"`
	GroupMin            int       `gorm:"not null;default:1" json:"group_min"`
	GroupMax            int       `gorm:"not null;default:1" json:"group_max"`
	SectionGroupsOnly   bool      `gorm:"not null;default:false" json:"section_groups_only"`
	SectionDueDatesType bool      `gorm:"not null;default:false" json:"section_due_dates_type"`
	InvalidOverride     bool      `gorm:"not null;default:false" json:"invalid_override"`
	VcsSubmit           bool      `gorm:"not null;default:false" json:"vcs_submit"`
	RepositoryFolder    string    `gorm:"size:255;not null" json:"repository_folder"`

	UnlimitedTokens       bool      `gorm:"not null;default:false" json:"unlimited_tokens"`
	TokensPerPeriod       int       `gorm:"not null;default:0" json:"tokens_per_period"`
	TokenPeriodHours      float64   `gorm:"not null;default:24" json:"token_period_hours"`
	TokenStartDate        time.Time `json:"token_start_date"`
	NonRegeneratingTokens bool      `gorm:"not null;default:false" json:"non_regenerating_tokens"`

	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	SectionDueDates []SectionDueDate `json:"section_due_dates,omitempty"`
}

// IsGroupAssignment reports whether students may work in groups of more
// than one, either by forming them or by instructor override.
func (a Assignment) IsGroupAssignment() bool {
	return a.InvalidOverride || a.GroupMax > 1
}

// StudentsFormGroups reports whether students are allowed to build their
// own groups for this assignment.
func (a Assignment) StudentsFormGroups() bool {
	return !a.InvalidOverride && a.GroupMax > 1
}

// TokenPeriod returns the regeneration window as a duration.
func (a Assignment) TokenPeriod() time.Duration {
	return time.Duration(a.TokenPeriodHours * float64(time.Hour))
}

// CurrentTokenWindowStart computes the beginning of the regeneration
// window containing the reference time. Non-regenerating policies have a
// single window that starts at the token start date and never rolls over.
func (a Assignment) CurrentTokenWindowStart(reference time.Time) time.Time {
	if a.NonRegeneratingTokens {
		return a.TokenStartDate
	}

	period := a.TokenPeriod()
	if period <= 0 {
		return a.TokenStartDate
	}

	elapsed := reference.Sub(a.TokenStartDate)
	periods := math.Floor(float64(elapsed) / float64(period))
	return a.TokenStartDate.Add(time.Duration(periods) * period)
}

// SectionDueDate overrides the assignment due date for one section.
type SectionDueDate struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AssignmentID uint      `gorm:"not null;uniqueIndex:idx_section_due_dates" json:"assignment_id"`
	SectionID    uint      `gorm:"not null;uniqueIndex:idx_section_due_dates" json:"section_id"`
	DueDate      time.Time `gorm:"not null" json:"due_date"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

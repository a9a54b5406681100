package models

import "time"

const (
	// RoleStudent marks course participants who form groups and submit.
	RoleStudent = "student"
	// RoleTA marks graders assigned to groupings.
	RoleTA = "ta"
	// RoleAdmin marks course instructors.
	RoleAdmin = "admin"
)

// User is a course member: a student, TA, or admin.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserName     string    `gorm:"size:255;not null;uniqueIndex" json:"user_name"`
	FirstName    string    `gorm:"size:255" json:"first_name"`
	LastName     string    `gorm:"size:255" json:"last_name"`
	Role         string    `gorm:"size:32;not null;index" json:"role"`
	Hidden       bool      `gorm:"not null;default:false" json:"hidden"`
	SectionID    *uint     `gorm:"index" json:"section_id"`
	GraceCredits int       `gorm:"not null;default:0" json:"grace_credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Section *Section `json:"section,omitempty"`
}

// IsStudent reports whether the user holds the student role.
func (u User) IsStudent() bool { return u.Role == RoleStudent }

// IsTA reports whether the user holds the TA role.
func (u User) IsTA() bool { return u.Role == RoleTA }

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// HasSection reports whether the user belongs to a course section.
func (u User) HasSection() bool { return u.SectionID != nil }

// Section is a lecture or lab section students belong to.
type Section struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

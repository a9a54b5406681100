package models

import "time"

const (
	// MembershipStatusPending marks an invitation that has not been
	// answered yet.
	MembershipStatusPending = "pending"
	// MembershipStatusAccepted marks a member that joined the grouping.
	MembershipStatusAccepted = "accepted"
	// MembershipStatusInviter marks the member that created the grouping.
	MembershipStatusInviter = "inviter"
	// MembershipStatusRejected marks a declined invitation.
	MembershipStatusRejected = "rejected"
)

const (
	// MembershipRoleStudent tags memberships held by students.
	MembershipRoleStudent = "student"
	// MembershipRoleTA tags memberships held by graders.
	MembershipRoleTA = "ta"
)

// Membership records one user's relationship to a grouping. Student and
// TA memberships share the same table and are told apart by the Role
// discriminator.
type Membership struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	GroupingID uint      `gorm:"not null;uniqueIndex:idx_memberships_pair" json:"grouping_id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_memberships_pair" json:"user_id"`
	Status     string    `gorm:"size:32;not null" json:"status"`
	Role       string    `gorm:"size:32;not null" json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	User                  User                   `json:"user,omitempty"`
	GracePeriodDeductions []GracePeriodDeduction `gorm:"constraint:OnDelete:CASCADE" json:"grace_period_deductions,omitempty"`
}

// IsAccepted reports whether the membership counts toward the accepted
// member set (the inviter is always an accepted member).
func (m Membership) IsAccepted() bool {
	return m.Status == MembershipStatusAccepted || m.Status == MembershipStatusInviter
}

// GracePeriodDeduction is the grace-credit cost one member pays for a
// late submission. All members of a grouping carry the same deduction for
// a given assignment.
type GracePeriodDeduction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	MembershipID uint      `gorm:"not null;index" json:"membership_id"`
	Deduction    int       `gorm:"not null;default:0" json:"deduction"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

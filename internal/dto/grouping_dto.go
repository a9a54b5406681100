package dto

import (
	"time"

	"github.com/courseforge/courseforge-api/internal/models"
)

// InviteRequest asks to invite students into a grouping by username.
type InviteRequest struct {
	Members []string `json:"members" validate:"required,min=1,dive,required"`
}

// InviteResponse reports the per-member errors of an invite batch.
// Members absent from Errors were invited successfully.
type InviteResponse struct {
	Errors []string `json:"errors"`
}

// AssignTAsRequest asks to bulk-assign TAs to groupings.
type AssignTAsRequest struct {
	GroupingIDs []uint     `json:"grouping_ids" validate:"required,min=1"`
	TaIDs       []uint     `json:"ta_ids" validate:"required,min=1"`
	Strategy    string     `json:"strategy" validate:"required,oneof=round_robin cartesian custom"`
	Pairs       [][2]uint  `json:"pairs" validate:"required_if=Strategy custom"`
}

// UnassignTAsRequest asks to remove TA memberships by id.
type UnassignTAsRequest struct {
	MembershipIDs []uint `json:"membership_ids" validate:"required,min=1"`
	GroupingIDs   []uint `json:"grouping_ids" validate:"required,min=1"`
}

// MembershipResponse is the serialized form of one membership.
type MembershipResponse struct {
	ID       uint   `json:"id"`
	UserID   uint   `json:"user_id"`
	UserName string `json:"user_name"`
	Status   string `json:"status"`
	Role     string `json:"role"`
}

// GroupingResponse is the serialized form of one grouping.
type GroupingResponse struct {
	ID                    uint                 `json:"id"`
	AssignmentID          uint                 `json:"assignment_id"`
	GroupID               uint                 `json:"group_id"`
	AdminApproved         bool                 `json:"admin_approved"`
	TestTokens            int                  `json:"test_tokens"`
	CriteriaCoverageCount int                  `json:"criteria_coverage_count"`
	IsCollected           bool                 `json:"is_collected"`
	DueDate               time.Time            `json:"due_date"`
	Memberships           []MembershipResponse `json:"memberships,omitempty"`
}

// NewMembershipResponse maps a membership model to its response shape.
func NewMembershipResponse(membership models.Membership) MembershipResponse {
	return MembershipResponse{
		ID:       membership.ID,
		UserID:   membership.UserID,
		UserName: membership.User.UserName,
		Status:   membership.Status,
		Role:     membership.Role,
	}
}

// NewGroupingResponse maps a grouping model and its computed due date to
// the response shape.
func NewGroupingResponse(grouping models.Grouping, dueDate time.Time, memberships []models.Membership) GroupingResponse {
	response := GroupingResponse{
		ID:                    grouping.ID,
		AssignmentID:          grouping.AssignmentID,
		GroupID:               grouping.GroupID,
		AdminApproved:         grouping.AdminApproved,
		TestTokens:            grouping.TestTokens,
		CriteriaCoverageCount: grouping.CriteriaCoverageCount,
		IsCollected:           grouping.IsCollected,
		DueDate:               dueDate,
	}

	for _, membership := range memberships {
		response.Memberships = append(response.Memberships, NewMembershipResponse(membership))
	}

	return response
}

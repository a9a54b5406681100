package models

import "time"

const (
	// CriterionTypeRubric marks rubric-based marking criteria.
	CriterionTypeRubric = "rubric"
	// CriterionTypeFlexible marks free-form numeric criteria.
	CriterionTypeFlexible = "flexible"
	// CriterionTypeCheckbox marks pass/fail criteria.
	CriterionTypeCheckbox = "checkbox"
)

// Criterion is one marking criterion of an assignment's rubric.
type Criterion struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AssignmentID  uint      `gorm:"not null;index" json:"assignment_id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	CriterionType string    `gorm:"size:32;not null" json:"criterion_type"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CriterionTaAssociation assigns one TA to grade one criterion. Coverage
// counts are derived from these rows joined with TA memberships.
type CriterionTaAssociation struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CriterionID   uint      `gorm:"not null;index" json:"criterion_id"`
	CriterionType string    `gorm:"size:32;not null" json:"criterion_type"`
	TaID          uint      `gorm:"not null;index" json:"ta_id"`
	AssignmentID  uint      `gorm:"not null;index" json:"assignment_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

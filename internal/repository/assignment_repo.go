package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
)

// AssignmentRepository defines data operations for assignments.
type AssignmentRepository interface {
	GetByID(ctx context.Context, id uint) (models.Assignment, error)
	// SectionDueDate returns the due date override for one section of
	// the assignment, if one is defined.
	SectionDueDate(ctx context.Context, assignmentID, sectionID uint) (models.SectionDueDate, error)
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository instantiates the repository.
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).
		Preload("SectionDueDates").
		First(&assignment, id).Error; err != nil {
		return models.Assignment{}, err
	}

	return assignment, nil
}

func (r *assignmentRepository) SectionDueDate(ctx context.Context, assignmentID, sectionID uint) (models.SectionDueDate, error) {
	var dueDate models.SectionDueDate
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("section_id = ?", sectionID).
		First(&dueDate).Error; err != nil {
		return models.SectionDueDate{}, err
	}

	return dueDate, nil
}

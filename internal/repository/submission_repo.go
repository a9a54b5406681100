package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
)

// SubmissionRepository defines data operations for collected
// submissions.
type SubmissionRepository interface {
	// CurrentByGrouping returns the grouping's submission marked as the
	// version being graded.
	CurrentByGrouping(ctx context.Context, groupingID uint) (models.Submission, error)
	// GetByGroupAndAssignment resolves the current submission through
	// the (assignment, group) pair.
	GetByGroupAndAssignment(ctx context.Context, assignmentID, groupID uint) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) CurrentByGrouping(ctx context.Context, groupingID uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Where("grouping_id = ?", groupingID).
		Where("version_used = ?", true).
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) GetByGroupAndAssignment(ctx context.Context, assignmentID, groupID uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Joins("JOIN groupings ON groupings.id = submissions.grouping_id").
		Where("groupings.assignment_id = ?", assignmentID).
		Where("groupings.group_id = ?", groupID).
		Where("submissions.version_used = ?", true).
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

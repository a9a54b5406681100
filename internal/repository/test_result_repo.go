package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
)

// TestResultRepository defines data operations for the test-result CRUD
// surface. Every lookup is scoped through the submission chain so a
// result can never be read or written across groupings.
type TestResultRepository interface {
	// GroupResultForSubmission resolves a test group result that belongs
	// to a run attached to the given submission.
	GroupResultForSubmission(ctx context.Context, submissionID, groupResultID uint) (models.TestGroupResult, error)
	// ResultInGroupResult resolves one test result inside a group result.
	ResultInGroupResult(ctx context.Context, groupResultID, resultID uint) (models.TestResult, error)
	ResultsForGroupResult(ctx context.Context, groupResultID uint) ([]models.TestResult, error)
	Create(ctx context.Context, result *models.TestResult) error
	Save(ctx context.Context, result *models.TestResult) error
	Delete(ctx context.Context, id uint) error
}

type testResultRepository struct {
	db *gorm.DB
}

// NewTestResultRepository instantiates the repository.
func NewTestResultRepository(db *gorm.DB) TestResultRepository {
	return &testResultRepository{db: db}
}

func (r *testResultRepository) GroupResultForSubmission(ctx context.Context, submissionID, groupResultID uint) (models.TestGroupResult, error) {
	var groupResult models.TestGroupResult
	if err := r.db.WithContext(ctx).
		Joins("JOIN test_runs ON test_runs.id = test_group_results.test_run_id").
		Where("test_runs.submission_id = ?", submissionID).
		Where("test_group_results.id = ?", groupResultID).
		First(&groupResult).Error; err != nil {
		return models.TestGroupResult{}, err
	}

	return groupResult, nil
}

func (r *testResultRepository) ResultInGroupResult(ctx context.Context, groupResultID, resultID uint) (models.TestResult, error) {
	var result models.TestResult
	if err := r.db.WithContext(ctx).
		Where("test_group_result_id = ?", groupResultID).
		Where("id = ?", resultID).
		First(&result).Error; err != nil {
		return models.TestResult{}, err
	}

	return result, nil
}

func (r *testResultRepository) ResultsForGroupResult(ctx context.Context, groupResultID uint) ([]models.TestResult, error) {
	var results []models.TestResult
	if err := r.db.WithContext(ctx).
		Where("test_group_result_id = ?", groupResultID).
		Order("id").
		Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

func (r *testResultRepository) Create(ctx context.Context, result *models.TestResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

func (r *testResultRepository) Save(ctx context.Context, result *models.TestResult) error {
	return r.db.WithContext(ctx).Save(result).Error
}

func (r *testResultRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.TestResult{}, id).Error
}

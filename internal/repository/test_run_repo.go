package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
)

// TestRunRow is one flattened tuple of the run/result join used by the
// history aggregator. Result-side fields are pointers because the joins
// are outer: a run with no results yet still produces one row.
type TestRunRow struct {
	RunID         uint       `gorm:"column:run_id"`
	RunCreatedAt  time.Time  `gorm:"column:run_created_at"`
	Problems      string     `gorm:"column:problems"`
	UserName      string     `gorm:"column:user_name"`
	TestGroupName *string    `gorm:"column:test_group_name"`
	DisplayOutput *string    `gorm:"column:display_output"`
	ExtraInfo     *string    `gorm:"column:extra_info"`
	GroupTime     *int64     `gorm:"column:group_time"`
	ResultName    *string    `gorm:"column:result_name"`
	ResultStatus  *string    `gorm:"column:result_status"`
	MarksEarned   *float64   `gorm:"column:marks_earned"`
	MarksTotal    *float64   `gorm:"column:marks_total"`
	Output        *string    `gorm:"column:output"`
	ResultTime    *int64     `gorm:"column:result_time"`
}

// TestRunFilter narrows the flat-row history query.
type TestRunFilter struct {
	// AdminOnly restricts to runs started by instructors.
	AdminOnly bool
	// SubmissionID restricts to runs attached to one submission.
	SubmissionID *uint
	// UserIDs restricts to runs started by the given users.
	UserIDs []uint
}

// TestRunRepository defines data operations for test runs and their
// results.
type TestRunRepository interface {
	Create(ctx context.Context, run *models.TestRun) error
	// FlatRows returns the joined run/result tuples for a grouping,
	// newest run first.
	FlatRows(ctx context.Context, groupingID uint, filter TestRunFilter) ([]TestRunRow, error)
	// StudentRuns returns runs started by the given users for a
	// grouping, newest first, without result data.
	StudentRuns(ctx context.Context, groupingID uint, userIDs []uint) ([]models.TestRun, error)
	// Statuses derives each run's status from its stored results:
	// in_progress until results arrive, problems when any result
	// errored or the run recorded problems, complete otherwise.
	Statuses(ctx context.Context, runIDs []uint) (map[uint]string, error)
	// HasResults reports whether any test group result came back for
	// the run.
	HasResults(ctx context.Context, runID uint) (bool, error)
}

type testRunRepository struct {
	db *gorm.DB
}

// NewTestRunRepository instantiates the repository.
func NewTestRunRepository(db *gorm.DB) TestRunRepository {
	return &testRunRepository{db: db}
}

func (r *testRunRepository) Create(ctx context.Context, run *models.TestRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *testRunRepository) FlatRows(ctx context.Context, groupingID uint, filter TestRunFilter) ([]TestRunRow, error) {
	query := r.db.WithContext(ctx).
		Table("test_runs").
		Select(`test_runs.id AS run_id,
			test_runs.created_at AS run_created_at,
			test_runs.problems AS problems,
			users.user_name AS user_name,
			test_groups.name AS test_group_name,
			test_groups.display_output AS display_output,
			test_group_results.extra_info AS extra_info,
			test_group_results.time AS group_time,
			test_results.name AS result_name,
			test_results.status AS result_status,
			test_results.marks_earned AS marks_earned,
			test_results.marks_total AS marks_total,
			test_results.output AS output,
			test_results.time AS result_time`).
		Joins("LEFT JOIN users ON users.id = test_runs.user_id").
		Joins("LEFT JOIN test_group_results ON test_group_results.test_run_id = test_runs.id").
		Joins("LEFT JOIN test_groups ON test_groups.id = test_group_results.test_group_id").
		Joins("LEFT JOIN test_results ON test_results.test_group_result_id = test_group_results.id").
		Where("test_runs.grouping_id = ?", groupingID).
		Order("test_runs.created_at DESC, test_runs.id DESC")

	if filter.AdminOnly {
		query = query.Where("users.role = ?", models.RoleAdmin)
	}

	if filter.SubmissionID != nil {
		query = query.Where("test_runs.submission_id = ?", *filter.SubmissionID)
	}

	if filter.UserIDs != nil {
		query = query.Where("test_runs.user_id IN ?", filter.UserIDs)
	}

	var rows []TestRunRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *testRunRepository) StudentRuns(ctx context.Context, groupingID uint, userIDs []uint) ([]models.TestRun, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	var runs []models.TestRun
	if err := r.db.WithContext(ctx).
		Where("grouping_id = ?", groupingID).
		Where("user_id IN ?", userIDs).
		Order("created_at DESC, id DESC").
		Find(&runs).Error; err != nil {
		return nil, err
	}

	return runs, nil
}

func (r *testRunRepository) Statuses(ctx context.Context, runIDs []uint) (map[uint]string, error) {
	statuses := make(map[uint]string, len(runIDs))
	if len(runIDs) == 0 {
		return statuses, nil
	}

	var runs []models.TestRun
	if err := r.db.WithContext(ctx).
		Preload("TestGroupResults").
		Preload("TestGroupResults.TestResults").
		Where("id IN ?", runIDs).
		Find(&runs).Error; err != nil {
		return nil, err
	}

	for _, run := range runs {
		statuses[run.ID] = deriveStatus(run)
	}

	return statuses, nil
}

func (r *testRunRepository) HasResults(ctx context.Context, runID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.TestGroupResult{}).
		Where("test_run_id = ?", runID).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func deriveStatus(run models.TestRun) string {
	if len(run.TestGroupResults) == 0 {
		return models.TestRunStatusInProgress
	}

	if run.Problems != "" {
		return models.TestRunStatusProblems
	}

	for _, groupResult := range run.TestGroupResults {
		for _, result := range groupResult.TestResults {
			if result.Status == models.TestResultStatusError {
				return models.TestRunStatusProblems
			}
		}
	}

	return models.TestRunStatusComplete
}

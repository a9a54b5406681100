package service

import (
	"context"
	"errors"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/dto"
	"github.com/courseforge/courseforge-api/internal/models"
	"github.com/courseforge/courseforge-api/internal/repository"
)

var (
	// ErrAssignmentNotFound indicates the assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrGroupNotFound indicates the group does not exist.
	ErrGroupNotFound = errors.New("group not found")
	// ErrSubmissionNotFound indicates the group has no current
	// submission for the assignment.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrTestGroupResultNotFound indicates the test group result does
	// not belong to the submission.
	ErrTestGroupResultNotFound = errors.New("test group result not found")
	// ErrTestResultNotFound indicates the test result does not belong to
	// the test group result.
	ErrTestResultNotFound = errors.New("test result not found")
)

// TestResultScope identifies one test group result through its full
// ownership chain so cross-grouping access is structurally impossible.
type TestResultScope struct {
	AssignmentID      uint
	GroupID           uint
	TestGroupResultID uint
}

// TestResultService manages test results pushed back by the autotest
// worker, always scoped through assignment, group, and submission.
type TestResultService interface {
	List(ctx context.Context, scope TestResultScope) ([]models.TestResult, error)
	Get(ctx context.Context, scope TestResultScope, resultID uint) (models.TestResult, error)
	Create(ctx context.Context, scope TestResultScope, req dto.TestResultCreateRequest) (models.TestResult, error)
	Update(ctx context.Context, scope TestResultScope, resultID uint, req dto.TestResultUpdateRequest) (models.TestResult, error)
	Delete(ctx context.Context, scope TestResultScope, resultID uint) error
}

type testResultService struct {
	assignments repository.AssignmentRepository
	groups      repository.GroupRepository
	submissions repository.SubmissionRepository
	results     repository.TestResultRepository
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
}

// NewTestResultService constructs a TestResultService instance.
func NewTestResultService(assignments repository.AssignmentRepository, groups repository.GroupRepository, submissions repository.SubmissionRepository, results repository.TestResultRepository, logger zerolog.Logger) TestResultService {
	return &testResultService{
		assignments: assignments,
		groups:      groups,
		submissions: submissions,
		results:     results,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "test_result_service").Logger(),
	}
}

// resolveGroupResult walks assignment, group, submission, and group
// result in order, translating each missing link into its own sentinel.
func (s *testResultService) resolveGroupResult(ctx context.Context, scope TestResultScope) (models.TestGroupResult, error) {
	if _, err := s.assignments.GetByID(ctx, scope.AssignmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TestGroupResult{}, ErrAssignmentNotFound
		}
		return models.TestGroupResult{}, err
	}

	if _, err := s.groups.GetByID(ctx, scope.GroupID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TestGroupResult{}, ErrGroupNotFound
		}
		return models.TestGroupResult{}, err
	}

	submission, err := s.submissions.GetByGroupAndAssignment(ctx, scope.AssignmentID, scope.GroupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TestGroupResult{}, ErrSubmissionNotFound
		}
		return models.TestGroupResult{}, err
	}

	groupResult, err := s.results.GroupResultForSubmission(ctx, submission.ID, scope.TestGroupResultID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TestGroupResult{}, ErrTestGroupResultNotFound
		}
		return models.TestGroupResult{}, err
	}

	return groupResult, nil
}

func (s *testResultService) List(ctx context.Context, scope TestResultScope) ([]models.TestResult, error) {
	groupResult, err := s.resolveGroupResult(ctx, scope)
	if err != nil {
		return nil, err
	}

	return s.results.ResultsForGroupResult(ctx, groupResult.ID)
}

func (s *testResultService) Get(ctx context.Context, scope TestResultScope, resultID uint) (models.TestResult, error) {
	groupResult, err := s.resolveGroupResult(ctx, scope)
	if err != nil {
		return models.TestResult{}, err
	}

	result, err := s.results.ResultInGroupResult(ctx, groupResult.ID, resultID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TestResult{}, ErrTestResultNotFound
		}
		return models.TestResult{}, err
	}

	return result, nil
}

func (s *testResultService) Create(ctx context.Context, scope TestResultScope, req dto.TestResultCreateRequest) (models.TestResult, error) {
	groupResult, err := s.resolveGroupResult(ctx, scope)
	if err != nil {
		return models.TestResult{}, err
	}

	result := models.TestResult{
		TestGroupResultID: groupResult.ID,
		Name:              req.Name,
		Status:            req.Status,
		MarksEarned:       req.MarksEarned,
		MarksTotal:        req.MarksTotal,
		Output:            s.sanitizer.Sanitize(req.Output),
		Time:              req.Time,
	}
	if err := s.results.Create(ctx, &result); err != nil {
		return models.TestResult{}, err
	}

	s.logger.Debug().
		Uint("test_group_result_id", groupResult.ID).
		Str("name", result.Name).
		Str("status", result.Status).
		Msg("test result recorded")

	return result, nil
}

func (s *testResultService) Update(ctx context.Context, scope TestResultScope, resultID uint, req dto.TestResultUpdateRequest) (models.TestResult, error) {
	result, err := s.Get(ctx, scope, resultID)
	if err != nil {
		return models.TestResult{}, err
	}

	if req.Name != nil {
		result.Name = *req.Name
	}
	if req.Status != nil {
		result.Status = *req.Status
	}
	if req.MarksEarned != nil {
		result.MarksEarned = *req.MarksEarned
	}
	if req.MarksTotal != nil {
		result.MarksTotal = *req.MarksTotal
	}
	if req.Output != nil {
		result.Output = s.sanitizer.Sanitize(*req.Output)
	}
	if req.Time != nil {
		result.Time = *req.Time
	}

	if err := s.results.Save(ctx, &result); err != nil {
		return models.TestResult{}, err
	}

	return result, nil
}

func (s *testResultService) Delete(ctx context.Context, scope TestResultScope, resultID uint) error {
	result, err := s.Get(ctx, scope, resultID)
	if err != nil {
		return err
	}

	return s.results.Delete(ctx, result.ID)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/dto"
	"github.com/courseforge/courseforge-api/internal/models"
	"github.com/courseforge/courseforge-api/internal/observability"
	"github.com/courseforge/courseforge-api/internal/repository"
	"github.com/courseforge/courseforge-api/pkg/vcs"
)

// ErrUserNotFound indicates the requested user does not exist.
var ErrUserNotFound = errors.New("user not found")

// TestRunService creates automated test runs and aggregates their
// results into per-viewer history reports.
type TestRunService interface {
	// InstructorRuns returns the unredacted history of instructor runs,
	// optionally restricted to one submission.
	InstructorRuns(ctx context.Context, grouping models.Grouping, submissionID *uint) ([]dto.RunReport, error)
	// InstructorRunsReleased returns the instructor history with output
	// and extra info redacted per each test group's display policy.
	InstructorRunsReleased(ctx context.Context, grouping models.Grouping, submissionID *uint) ([]dto.RunReport, error)
	// StudentRuns returns the history of the grouping's accepted
	// students' runs, redacted for student eyes.
	StudentRuns(ctx context.Context, grouping models.Grouping) ([]dto.RunReport, error)
	// StudentRunsSimple returns the raw, unaggregated runs of accepted
	// students, newest first. Cheap query used for token decisions.
	StudentRunsSimple(ctx context.Context, grouping models.Grouping) ([]models.TestRun, error)
	// Create records a run against the grouping's latest repository
	// revision and notifies the autotest worker.
	Create(ctx context.Context, grouping models.Grouping, userID uint, payload dto.CreateTestRunRequest) (dto.TestRunResponse, error)
}

type testRunService struct {
	testRuns    repository.TestRunRepository
	memberships repository.MembershipRepository
	users       repository.UserRepository
	repos       vcs.Provider
	nats        *nats.Conn
	natsSubject string
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewTestRunService constructs a TestRunService instance.
func NewTestRunService(testRuns repository.TestRunRepository, memberships repository.MembershipRepository, users repository.UserRepository, repos vcs.Provider, natsConn *nats.Conn, natsSubject string, cache *redis.Client, cacheTTL time.Duration, logger zerolog.Logger) TestRunService {
	return &testRunService{
		testRuns:    testRuns,
		memberships: memberships,
		users:       users,
		repos:       repos,
		nats:        natsConn,
		natsSubject: natsSubject,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger.With().Str("component", "test_run_service").Logger(),
		tracer:      otel.Tracer("github.com/courseforge/courseforge-api/internal/service/testrun"),
	}
}

func (s *testRunService) InstructorRuns(ctx context.Context, grouping models.Grouping, submissionID *uint) ([]dto.RunReport, error) {
	rows, err := s.testRuns.FlatRows(ctx, grouping.ID, repository.TestRunFilter{
		AdminOnly:    true,
		SubmissionID: submissionID,
	})
	if err != nil {
		return nil, err
	}

	return s.aggregate(ctx, rows, nil)
}

func (s *testRunService) InstructorRunsReleased(ctx context.Context, grouping models.Grouping, submissionID *uint) ([]dto.RunReport, error) {
	rows, err := s.testRuns.FlatRows(ctx, grouping.ID, repository.TestRunFilter{
		AdminOnly:    true,
		SubmissionID: submissionID,
	})
	if err != nil {
		return nil, err
	}

	return s.aggregate(ctx, rows, redactReleased)
}

func (s *testRunService) StudentRuns(ctx context.Context, grouping models.Grouping) ([]dto.RunReport, error) {
	cacheKey := fmt.Sprintf("test-history:grouping:%d:students", grouping.ID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var reports []dto.RunReport
			if unmarshalErr := json.Unmarshal([]byte(cached), &reports); unmarshalErr == nil {
				s.logger.Debug().Uint("grouping_id", grouping.ID).Msg("test history cache hit")
				return reports, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read test history cache")
		}
	}

	studentIDs, err := s.acceptedStudentIDs(ctx, grouping.ID)
	if err != nil {
		return nil, err
	}

	rows, err := s.testRuns.FlatRows(ctx, grouping.ID, repository.TestRunFilter{UserIDs: studentIDs})
	if err != nil {
		return nil, err
	}

	reports, err := s.aggregate(ctx, rows, redactStudent)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(reports); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store test history cache")
			}
		}
	}

	return reports, nil
}

func (s *testRunService) StudentRunsSimple(ctx context.Context, grouping models.Grouping) ([]models.TestRun, error) {
	studentIDs, err := s.acceptedStudentIDs(ctx, grouping.ID)
	if err != nil {
		return nil, err
	}

	return s.testRuns.StudentRuns(ctx, grouping.ID, studentIDs)
}

func (s *testRunService) Create(ctx context.Context, grouping models.Grouping, userID uint, payload dto.CreateTestRunRequest) (dto.TestRunResponse, error) {
	ctx, span := s.tracer.Start(ctx, "testrun.create", trace.WithAttributes(
		attribute.Int64("grouping_id", int64(grouping.ID)),
		attribute.Int64("user_id", int64(userID)),
	))
	defer span.End()

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.TestRunResponse{}, ErrUserNotFound
		}
		return dto.TestRunResponse{}, err
	}

	var revisionIdentifier string
	err := s.repos.Open(grouping.Group.RepoName, func(repo vcs.Repo) error {
		revision, err := repo.LatestRevision()
		if err != nil {
			return err
		}
		revisionIdentifier = revision.Identifier()
		return nil
	})
	if err != nil {
		return dto.TestRunResponse{}, fmt.Errorf("failed to read repository revision: %w", err)
	}

	run := models.TestRun{
		GroupingID:         grouping.ID,
		UserID:             userID,
		RevisionIdentifier: revisionIdentifier,
		TestBatchID:        payload.TestBatchID,
		SubmissionID:       payload.SubmissionID,
	}

	if err := s.testRuns.Create(ctx, &run); err != nil {
		return dto.TestRunResponse{}, err
	}

	observability.TestRunsStarted().Inc()
	s.invalidateHistoryCache(ctx, grouping.ID)
	s.publishRunCreated(run)

	s.logger.Info().Uint("test_run_id", run.ID).Uint("grouping_id", grouping.ID).Msg("test run created")

	return dto.TestRunResponse{
		ID:                 run.ID,
		GroupingID:         run.GroupingID,
		UserID:             run.UserID,
		RevisionIdentifier: run.RevisionIdentifier,
		TestBatchID:        run.TestBatchID,
		CreatedAt:          run.CreatedAt,
	}, nil
}

func (s *testRunService) invalidateHistoryCache(ctx context.Context, groupingID uint) {
	if s.cache == nil {
		return
	}
	cacheKey := fmt.Sprintf("test-history:grouping:%d:students", groupingID)
	if err := s.cache.Del(ctx, cacheKey).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate test history cache")
	}
}

type runCreatedEvent struct {
	TestRunID          uint      `json:"test_run_id"`
	GroupingID         uint      `json:"grouping_id"`
	RevisionIdentifier string    `json:"revision_identifier"`
	TestBatchID        *uint     `json:"test_batch_id"`
	CreatedAt          time.Time `json:"created_at"`
}

func (s *testRunService) publishRunCreated(run models.TestRun) {
	if s.nats == nil || s.natsSubject == "" {
		return
	}

	payload, err := json.Marshal(runCreatedEvent{
		TestRunID:          run.ID,
		GroupingID:         run.GroupingID,
		RevisionIdentifier: run.RevisionIdentifier,
		TestBatchID:        run.TestBatchID,
		CreatedAt:          run.CreatedAt,
	})
	if err != nil {
		return
	}

	if err := s.nats.Publish(s.natsSubject, payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish test run event")
	}
}

func (s *testRunService) acceptedStudentIDs(ctx context.Context, groupingID uint) ([]uint, error) {
	memberships, err := s.memberships.StudentMemberships(ctx, groupingID)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(memberships))
	for _, membership := range memberships {
		if membership.IsAccepted() {
			ids = append(ids, membership.UserID)
		}
	}

	return ids, nil
}

type reportKey struct {
	runID     uint
	createdAt int64
	problems  string
	userName  string
	groupName string
}

// aggregate folds flat result rows into one report per (run, test
// group) slice. The optional redact hook blanks fields the viewer must
// not see before the rows are folded.
func (s *testRunService) aggregate(ctx context.Context, rows []repository.TestRunRow, redact func(*repository.TestRunRow)) ([]dto.RunReport, error) {
	reports := make([]dto.RunReport, 0)
	index := make(map[reportKey]int)

	for i := range rows {
		row := rows[i]
		if redact != nil {
			redact(&row)
		}

		groupName := ""
		if row.TestGroupName != nil {
			groupName = *row.TestGroupName
		}

		key := reportKey{
			runID:     row.RunID,
			createdAt: row.RunCreatedAt.UnixNano(),
			problems:  row.Problems,
			userName:  row.UserName,
			groupName: groupName,
		}

		at, ok := index[key]
		if !ok {
			reports = append(reports, dto.RunReport{
				RunID:         row.RunID,
				CreatedAt:     row.RunCreatedAt,
				Problems:      row.Problems,
				UserName:      row.UserName,
				TestGroupName: row.TestGroupName,
			})
			at = len(reports) - 1
			index[key] = at
		}

		reports[at].TestData = append(reports[at].TestData, dto.TestCaseData{
			TestGroupName: row.TestGroupName,
			DisplayOutput: row.DisplayOutput,
			ExtraInfo:     row.ExtraInfo,
			GroupTime:     row.GroupTime,
			Name:          row.ResultName,
			Status:        row.ResultStatus,
			MarksEarned:   row.MarksEarned,
			MarksTotal:    row.MarksTotal,
			Output:        row.Output,
			Time:          row.ResultTime,
		})
	}

	runIDs := make([]uint, 0, len(reports))
	seen := make(map[uint]struct{}, len(reports))
	for _, report := range reports {
		if _, ok := seen[report.RunID]; ok {
			continue
		}
		seen[report.RunID] = struct{}{}
		runIDs = append(runIDs, report.RunID)
	}

	statuses, err := s.testRuns.Statuses(ctx, runIDs)
	if err != nil {
		return nil, err
	}

	for i := range reports {
		reports[i].Status = statuses[reports[i].RunID]
	}

	return reports, nil
}

func redactReleased(row *repository.TestRunRow) {
	if row.DisplayOutput != nil &&
		(*row.DisplayOutput == models.DisplayOutputInstructors ||
			*row.DisplayOutput == models.DisplayOutputInstructorsAndStudentTests) {
		row.Output = nil
	}
	row.ExtraInfo = nil
}

func redactStudent(row *repository.TestRunRow) {
	if row.DisplayOutput != nil && *row.DisplayOutput == models.DisplayOutputInstructors {
		row.Output = nil
	}
	row.ExtraInfo = nil
}

package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/dto"
	"github.com/courseforge/courseforge-api/internal/models"
	"github.com/courseforge/courseforge-api/internal/repository"
	"github.com/courseforge/courseforge-api/pkg/vcs"
)

func newTestRunServiceForTest(t *testing.T, db *gorm.DB, cache *redis.Client) (TestRunService, *vcs.MemoryProvider) {
	t.Helper()

	provider := vcs.NewMemoryProvider()
	svc := NewTestRunService(
		repository.NewTestRunRepository(db),
		repository.NewMembershipRepository(db),
		repository.NewUserRepository(db),
		provider,
		nil, "",
		cache, time.Minute,
		zerolog.Nop(),
	)
	return svc, provider
}

func createTestGroup(t *testing.T, db *gorm.DB, assignmentID uint, name, displayOutput string) models.TestGroup {
	t.Helper()

	group := models.TestGroup{
		AssignmentID:  assignmentID,
		Name:          name,
		DisplayOutput: displayOutput,
	}
	require.NoError(t, db.Create(&group).Error)
	return group
}

func attachResults(t *testing.T, db *gorm.DB, runID uint, group models.TestGroup, results ...models.TestResult) models.TestGroupResult {
	t.Helper()

	groupResult := models.TestGroupResult{
		TestRunID:   runID,
		TestGroupID: group.ID,
		ExtraInfo:   "worker diagnostics",
		Time:        120,
	}
	require.NoError(t, db.Create(&groupResult).Error)

	for i := range results {
		results[i].TestGroupResultID = groupResult.ID
		require.NoError(t, db.Create(&results[i]).Error)
	}
	return groupResult
}

func TestCreateTestRunRecordsLatestRevision(t *testing.T) {
	db := openTestDB(t)
	svc, provider := newTestRunServiceForTest(t, db, nil)

	assignment := createAssignment(t, db, nil)
	grouping := createGrouping(t, db, assignment.ID)
	student := createStudent(t, db, "alice")
	addMembership(t, db, grouping.ID, student.ID, models.MembershipStatusInviter)

	committed := provider.CommitAt(loadGrouping(t, db, grouping.ID).Group.RepoName,
		time.Now().Add(-time.Minute), "a1/main.go")

	response, err := svc.Create(context.Background(), loadGrouping(t, db, grouping.ID),
		student.ID, dto.CreateTestRunRequest{})
	require.NoError(t, err)
	require.Equal(t, committed.Identifier(), response.RevisionIdentifier)

	var run models.TestRun
	require.NoError(t, db.First(&run, response.ID).Error)
	require.Equal(t, grouping.ID, run.GroupingID)
	require.Equal(t, student.ID, run.UserID)
	require.Equal(t, committed.Identifier(), run.RevisionIdentifier)
}

func TestCreateTestRunUnknownUser(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestRunServiceForTest(t, db, nil)

	assignment := createAssignment(t, db, nil)
	grouping := createGrouping(t, db, assignment.ID)

	_, err := svc.Create(context.Background(), loadGrouping(t, db, grouping.ID),
		9999, dto.CreateTestRunRequest{})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestStudentRunsRedactsInstructorOnlyOutput(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestRunServiceForTest(t, db, nil)

	assignment := createAssignment(t, db, nil)
	grouping := createGrouping(t, db, assignment.ID)
	student := createStudent(t, db, "alice")
	addMembership(t, db, grouping.ID, student.ID, models.MembershipStatusInviter)

	public := createTestGroup(t, db, assignment.ID, "public suite", models.DisplayOutputPublic)
	private := createTestGroup(t, db, assignment.ID, "secret suite", models.DisplayOutputInstructors)

	run := createRunAt(t, db, grouping.ID, student.ID, time.Now().Add(-time.Hour))
	attachResults(t, db, run.ID, public, models.TestResult{
		Name: "adds", Status: models.TestResultStatusPass,
		MarksEarned: 1, MarksTotal: 1, Output: "1 + 1 = 2",
	})
	attachResults(t, db, run.ID, private, models.TestResult{
		Name: "hidden edge case", Status: models.TestResultStatusFail,
		MarksEarned: 0, MarksTotal: 2, Output: "expected 7, got 3",
	})

	reports, err := svc.StudentRuns(context.Background(), loadGrouping(t, db, grouping.ID))
	require.NoError(t, err)
	require.Len(t, reports, 2)

	byGroup := map[string]dto.RunReport{}
	for _, report := range reports {
		require.NotNil(t, report.TestGroupName)
		require.Equal(t, "alice", report.UserName)
		require.Equal(t, models.TestRunStatusComplete, report.Status)
		byGroup[*report.TestGroupName] = report
	}

	visible := byGroup["public suite"]
	require.Len(t, visible.TestData, 1)
	require.NotNil(t, visible.TestData[0].Output)
	require.Equal(t, "1 + 1 = 2", *visible.TestData[0].Output)
	require.Nil(t, visible.TestData[0].ExtraInfo)

	redacted := byGroup["secret suite"]
	require.Len(t, redacted.TestData, 1)
	require.Nil(t, redacted.TestData[0].Output)
	require.Nil(t, redacted.TestData[0].ExtraInfo)
}

func TestStudentRunsIgnoreOtherUsers(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestRunServiceForTest(t, db, nil)

	assignment := createAssignment(t, db, nil)
	grouping := createGrouping(t, db, assignment.ID)
	student := createStudent(t, db, "alice")
	admin := createUser(t, db, "prof", models.RoleAdmin)
	addMembership(t, db, grouping.ID, student.ID, models.MembershipStatusInviter)

	createRunAt(t, db, grouping.ID, student.ID, time.Now().Add(-2*time.Hour))
	createRunAt(t, db, grouping.ID, admin.ID, time.Now().Add(-time.Hour))

	reports, err := svc.StudentRuns(context.Background(), loadGrouping(t, db, grouping.ID))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, "alice", reports[0].UserName)

	// A run with no results yet still appears, flagged in progress.
	require.Equal(t, models.TestRunStatusInProgress, reports[0].Status)
}

func TestStudentRunsCaching(t *testing.T) {
	db := openTestDB(t)

	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	svc, _ := newTestRunServiceForTest(t, db, redisClient)

	assignment := createAssignment(t, db, nil)
	grouping := createGrouping(t, db, assignment.ID)
	student := createStudent(t, db, "alice")
	addMembership(t, db, grouping.ID, student.ID, models.MembershipStatusInviter)
	createRunAt(t, db, grouping.ID, student.ID, time.Now().Add(-time.Hour))

	ctx := context.Background()
	reports, err := svc.StudentRuns(ctx, loadGrouping(t, db, grouping.ID))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	// A run inserted behind the cache's back stays invisible until the
	// entry expires or a new run invalidates it.
	createRunAt(t, db, grouping.ID, student.ID, time.Now())
	reports, err = svc.StudentRuns(ctx, loadGrouping(t, db, grouping.ID))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	_, err = svc.Create(ctx, loadGrouping(t, db, grouping.ID), student.ID, dto.CreateTestRunRequest{})
	require.NoError(t, err)

	reports, err = svc.StudentRuns(ctx, loadGrouping(t, db, grouping.ID))
	require.NoError(t, err)
	require.Len(t, reports, 3)
}

func TestInstructorRunsFilterAndRedaction(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestRunServiceForTest(t, db, nil)

	assignment := createAssignment(t, db, nil)
	grouping := createGrouping(t, db, assignment.ID)
	student := createStudent(t, db, "alice")
	admin := createUser(t, db, "prof", models.RoleAdmin)
	addMembership(t, db, grouping.ID, student.ID, models.MembershipStatusInviter)

	private := createTestGroup(t, db, assignment.ID, "secret suite", models.DisplayOutputInstructors)

	createRunAt(t, db, grouping.ID, student.ID, time.Now().Add(-2*time.Hour))
	adminRun := createRunAt(t, db, grouping.ID, admin.ID, time.Now().Add(-time.Hour))
	attachResults(t, db, adminRun.ID, private, models.TestResult{
		Name: "hidden edge case", Status: models.TestResultStatusPass,
		MarksEarned: 2, MarksTotal: 2, Output: "all good",
	})

	ctx := context.Background()

	// The unredacted view keeps output and worker diagnostics.
	reports, err := svc.InstructorRuns(ctx, loadGrouping(t, db, grouping.ID), nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, "prof", reports[0].UserName)
	require.Len(t, reports[0].TestData, 1)
	require.NotNil(t, reports[0].TestData[0].Output)
	require.NotNil(t, reports[0].TestData[0].ExtraInfo)

	// The released view redacts instructor-only output.
	reports, err = svc.InstructorRunsReleased(ctx, loadGrouping(t, db, grouping.ID), nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Nil(t, reports[0].TestData[0].Output)
	require.Nil(t, reports[0].TestData[0].ExtraInfo)
}

func TestInstructorRunsSubmissionFilter(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestRunServiceForTest(t, db, nil)

	assignment := createAssignment(t, db, nil)
	grouping := createGrouping(t, db, assignment.ID)
	admin := createUser(t, db, "prof", models.RoleAdmin)

	submission := models.Submission{
		GroupingID:  grouping.ID,
		VersionUsed: true,
	}
	require.NoError(t, db.Create(&submission).Error)

	run := createRunAt(t, db, grouping.ID, admin.ID, time.Now().Add(-time.Hour))
	require.NoError(t, db.Model(&models.TestRun{}).Where("id = ?", run.ID).
		Update("submission_id", submission.ID).Error)
	createRunAt(t, db, grouping.ID, admin.ID, time.Now())

	reports, err := svc.InstructorRuns(context.Background(),
		loadGrouping(t, db, grouping.ID), &submission.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, run.ID, reports[0].RunID)
}

func TestRunStatusDerivation(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestRunServiceForTest(t, db, nil)

	assignment := createAssignment(t, db, nil)
	grouping := createGrouping(t, db, assignment.ID)
	admin := createUser(t, db, "prof", models.RoleAdmin)

	group := createTestGroup(t, db, assignment.ID, "suite", models.DisplayOutputPublic)
	run := createRunAt(t, db, grouping.ID, admin.ID, time.Now().Add(-time.Hour))
	attachResults(t, db, run.ID, group, models.TestResult{
		Name: "broken", Status: models.TestResultStatusError,
		Output: "compile error",
	})

	reports, err := svc.InstructorRuns(context.Background(), loadGrouping(t, db, grouping.ID), nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, models.TestRunStatusProblems, reports[0].Status)
}

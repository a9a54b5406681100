package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
)

func newPolicyServiceForTest(t *testing.T, db *gorm.DB, now time.Time) *policyService {
	t.Helper()

	groupings, _ := newGroupingServiceForTest(t, db, now)
	tokens := newTokenServiceForTest(t, db, now)

	svc := NewPolicyService(groupings, tokens).(*policyService)
	svc.now = func() time.Time { return now }
	return svc
}

func TestCanRunTestsAllowsStaffUnconditionally(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newPolicyServiceForTest(t, db, now)

	assignment := createAssignment(t, db, func(a *models.Assignment) {
		a.DueDate = now.Add(-time.Hour)
	})
	grouping := createGrouping(t, db, assignment.ID)
	admin := createUser(t, db, "prof", models.RoleAdmin)
	ta := createUser(t, db, "grader", models.RoleTA)

	ctx := context.Background()
	loaded := loadGrouping(t, db, grouping.ID)

	// Due dates and token balances never apply to staff.
	allowed, err := svc.CanRunTests(ctx, loaded, admin)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = svc.CanRunTests(ctx, loaded, ta)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestCanRunTestsStudentChecks(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newPolicyServiceForTest(t, db, now)

	assignment := createAssignment(t, db, func(a *models.Assignment) {
		a.DueDate = now.Add(48 * time.Hour)
		a.TokenStartDate = now.Add(-time.Hour)
		a.TokensPerPeriod = 5
		a.TokenPeriodHours = 24
	})
	grouping := createGrouping(t, db, assignment.ID)
	member := createStudent(t, db, "alice")
	outsider := createStudent(t, db, "bob")
	addMembership(t, db, grouping.ID, member.ID, models.MembershipStatusInviter)

	ctx := context.Background()
	loaded := loadGrouping(t, db, grouping.ID)

	allowed, err := svc.CanRunTests(ctx, loaded, member)
	require.NoError(t, err)
	require.True(t, allowed)

	// Non-members cannot run tests against the grouping.
	allowed, err = svc.CanRunTests(ctx, loaded, outsider)
	require.NoError(t, err)
	require.False(t, allowed)

	// A fresh run without results blocks the next one.
	run := createRunAt(t, db, grouping.ID, member.ID, now.Add(-10*time.Minute))
	allowed, err = svc.CanRunTests(ctx, loaded, member)
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, db.Create(&models.TestGroupResult{TestRunID: run.ID, TestGroupID: 1}).Error)
	allowed, err = svc.CanRunTests(ctx, loaded, member)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestCanRunTestsStudentOutOfTokens(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newPolicyServiceForTest(t, db, now)

	assignment := createAssignment(t, db, func(a *models.Assignment) {
		a.DueDate = now.Add(48 * time.Hour)
		a.TokenStartDate = now.Add(-25 * time.Hour)
		a.TokensPerPeriod = 1
		a.TokenPeriodHours = 24
	})
	grouping := createGrouping(t, db, assignment.ID)
	member := createStudent(t, db, "alice")
	addMembership(t, db, grouping.ID, member.ID, models.MembershipStatusInviter)

	// The only token of the current window is already spent: an old run
	// inside the window with results, balance at zero.
	run := createRunAt(t, db, grouping.ID, member.ID, now.Add(-30*time.Minute))
	require.NoError(t, db.Create(&models.TestGroupResult{TestRunID: run.ID, TestGroupID: 1}).Error)

	allowed, err := svc.CanRunTests(context.Background(), loadGrouping(t, db, grouping.ID), member)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestCanRunTestsStudentAfterDueDate(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newPolicyServiceForTest(t, db, now)

	assignment := createAssignment(t, db, func(a *models.Assignment) {
		a.DueDate = now.Add(-time.Hour)
		a.UnlimitedTokens = true
	})
	grouping := createGrouping(t, db, assignment.ID)
	member := createStudent(t, db, "alice")
	addMembership(t, db, grouping.ID, member.ID, models.MembershipStatusInviter)

	allowed, err := svc.CanRunTests(context.Background(), loadGrouping(t, db, grouping.ID), member)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestCanInviteMember(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newPolicyServiceForTest(t, db, now)

	assignment := createAssignment(t, db, func(a *models.Assignment) {
		a.DueDate = now.Add(48 * time.Hour)
	})
	grouping := createGrouping(t, db, assignment.ID)

	ctx := context.Background()

	open, err := svc.CanInviteMember(ctx, loadGrouping(t, db, grouping.ID))
	require.NoError(t, err)
	require.True(t, open)

	// Extensions freeze membership.
	require.NoError(t, db.Create(&models.Extension{
		GroupingID: grouping.ID,
		TimeDelta:  72 * time.Hour,
	}).Error)
	open, err = svc.CanInviteMember(ctx, loadGrouping(t, db, grouping.ID))
	require.NoError(t, err)
	require.False(t, open)
}

func TestCanInviteMemberIndividualAssignment(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newPolicyServiceForTest(t, db, now)

	assignment := createAssignment(t, db, func(a *models.Assignment) {
		a.GroupMax = 1
		a.DueDate = now.Add(48 * time.Hour)
	})
	grouping := createGrouping(t, db, assignment.ID)

	open, err := svc.CanInviteMember(context.Background(), loadGrouping(t, db, grouping.ID))
	require.NoError(t, err)
	require.False(t, open)
}

func TestCanDestroy(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newPolicyServiceForTest(t, db, now)

	assignment := createAssignment(t, db, func(a *models.Assignment) {
		a.DueDate = now.Add(48 * time.Hour)
	})
	grouping := createGrouping(t, db, assignment.ID)
	inviter := createStudent(t, db, "alice")
	addMembership(t, db, grouping.ID, inviter.ID, models.MembershipStatusInviter)

	ctx := context.Background()

	allowed, err := svc.CanDestroy(ctx, loadGrouping(t, db, grouping.ID), inviter)
	require.NoError(t, err)
	require.True(t, allowed)

	// A collected submission pins the grouping.
	require.NoError(t, db.Create(&models.Submission{
		GroupingID:  grouping.ID,
		VersionUsed: true,
	}).Error)
	allowed, err = svc.CanDestroy(ctx, loadGrouping(t, db, grouping.ID), inviter)
	require.NoError(t, err)
	require.False(t, allowed)
}

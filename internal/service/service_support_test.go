package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Section{},
		&models.Group{},
		&models.Assignment{},
		&models.SectionDueDate{},
		&models.Grouping{},
		&models.Extension{},
		&models.Membership{},
		&models.GracePeriodDeduction{},
		&models.Submission{},
		&models.Criterion{},
		&models.CriterionTaAssociation{},
		&models.TestBatch{},
		&models.TestRun{},
		&models.TestGroup{},
		&models.TestGroupResult{},
		&models.TestResult{},
	))

	return db
}

func createUser(t *testing.T, db *gorm.DB, userName, role string) models.User {
	t.Helper()

	user := models.User{UserName: userName, Role: role}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func createStudent(t *testing.T, db *gorm.DB, userName string) models.User {
	return createUser(t, db, userName, models.RoleStudent)
}

func createSection(t *testing.T, db *gorm.DB, name string) models.Section {
	t.Helper()

	section := models.Section{Name: name}
	require.NoError(t, db.Create(&section).Error)
	return section
}

func createAssignment(t *testing.T, db *gorm.DB, mutate func(*models.Assignment)) models.Assignment {
	t.Helper()

	assignment := models.Assignment{
		ShortIdentifier:  "a-" + uuid.NewString()[:8],
		DueDate:          time.Now().Add(7 * 24 * time.Hour),
		GroupMin:         1,
		GroupMax:         3,
		RepositoryFolder: "a1",
		TokensPerPeriod:  5,
		TokenPeriodHours: 24,
		TokenStartDate:   time.Now().Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&assignment)
	}
	require.NoError(t, db.Create(&assignment).Error)
	return assignment
}

func createGrouping(t *testing.T, db *gorm.DB, assignmentID uint) models.Grouping {
	t.Helper()

	group := models.Group{
		GroupName: "g-" + uuid.NewString()[:8],
		RepoName:  "repo-" + uuid.NewString()[:8],
	}
	require.NoError(t, db.Create(&group).Error)

	grouping := models.Grouping{AssignmentID: assignmentID, GroupID: group.ID}
	require.NoError(t, db.Create(&grouping).Error)
	return grouping
}

func addMembership(t *testing.T, db *gorm.DB, groupingID, userID uint, status string) models.Membership {
	t.Helper()

	membership := models.Membership{
		GroupingID: groupingID,
		UserID:     userID,
		Status:     status,
		Role:       models.MembershipRoleStudent,
	}
	require.NoError(t, db.Create(&membership).Error)
	return membership
}

func loadGrouping(t *testing.T, db *gorm.DB, id uint) models.Grouping {
	t.Helper()

	var grouping models.Grouping
	require.NoError(t, db.
		Preload("Assignment").
		Preload("Assignment.SectionDueDates").
		Preload("Group").
		Preload("Extension").
		First(&grouping, id).Error)
	return grouping
}

func createRunAt(t *testing.T, db *gorm.DB, groupingID, userID uint, at time.Time) models.TestRun {
	t.Helper()

	run := models.TestRun{
		GroupingID:         groupingID,
		UserID:             userID,
		RevisionIdentifier: uuid.NewString(),
		CreatedAt:          at,
		UpdatedAt:          at,
	}
	require.NoError(t, db.Create(&run).Error)
	return run
}

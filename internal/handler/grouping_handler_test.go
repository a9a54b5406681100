package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/config"
	"github.com/courseforge/courseforge-api/internal/dto"
	"github.com/courseforge/courseforge-api/internal/handler"
	"github.com/courseforge/courseforge-api/internal/models"
	"github.com/courseforge/courseforge-api/internal/repository"
	"github.com/courseforge/courseforge-api/internal/router"
	"github.com/courseforge/courseforge-api/internal/service"
	"github.com/courseforge/courseforge-api/pkg/vcs"
)

// setupApp builds the full handler stack on an in-memory database. The
// JWT stub authenticates requests from the X-User-Id and X-User-Role
// headers so each test can act as any seeded user.
func setupApp(t *testing.T) (*fiber.App, *gorm.DB) {
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

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)
	provider := vcs.NewMemoryProvider()

	userRepo := repository.NewUserRepository(db)
	groupingRepo := repository.NewGroupingRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	testRunRepo := repository.NewTestRunRepository(db)
	testResultRepo := repository.NewTestResultRepository(db)

	groupingService := service.NewGroupingService(groupingRepo, membershipRepo, userRepo, assignmentRepo, submissionRepo, provider, logger)
	taService := service.NewTAAssignmentService(membershipRepo, groupingRepo, userRepo, provider, logger)
	tokenService := service.NewTokenService(groupingRepo, membershipRepo, testRunRepo, time.Hour, logger)
	testRunService := service.NewTestRunService(testRunRepo, membershipRepo, userRepo, provider, nil, "", nil, time.Minute, logger)
	testResultService := service.NewTestResultService(assignmentRepo, groupRepo, submissionRepo, testResultRepo, logger)
	policyService := service.NewPolicyService(groupingService, tokenService)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "courseforge-test", JWTSecret: "secret"}, router.Dependencies{
		GroupingHandler:   handler.NewGroupingHandler(groupingService, taService, tokenService, testRunService, policyService, userRepo, validate, logger),
		TestResultHandler: handler.NewTestResultHandler(testResultService, validate, logger),
		AssignmentRepo:    assignmentRepo,
		JWTMiddleware: func(c *fiber.Ctx) error {
			if id := c.Get("X-User-Id"); id != "" {
				var parsed uint
				if _, err := fmt.Sscanf(id, "%d", &parsed); err == nil {
					c.Locals("user_id", parsed)
				}
			}
			if role := c.Get("X-User-Role"); role != "" {
				c.Locals("user_role", role)
			}
			return c.Next()
		},
	})

	return app, db
}

func seedUser(t *testing.T, db *gorm.DB, userName, role string) models.User {
	t.Helper()

	user := models.User{UserName: userName, Role: role}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedGrouping(t *testing.T, db *gorm.DB, mutate func(*models.Assignment)) (models.Assignment, models.Grouping) {
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

	group := models.Group{
		GroupName: "g-" + uuid.NewString()[:8],
		RepoName:  "repo-" + uuid.NewString()[:8],
	}
	require.NoError(t, db.Create(&group).Error)

	grouping := models.Grouping{AssignmentID: assignment.ID, GroupID: group.ID}
	require.NoError(t, db.Create(&grouping).Error)
	return assignment, grouping
}

func seedMembership(t *testing.T, db *gorm.DB, groupingID, userID uint, status string) models.Membership {
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

func jsonRequest(t *testing.T, method, target string, payload interface{}, user models.User) *http.Request {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(encoded)
	} else {
		body = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	if user.ID != 0 {
		req.Header.Set("X-User-Id", fmt.Sprintf("%d", user.ID))
		req.Header.Set("X-User-Role", user.Role)
	}
	return req
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(body, target))
}

func TestGroupingInviteAndAcceptFlow(t *testing.T) {
	app, db := setupApp(t)

	_, grouping := seedGrouping(t, db, nil)
	alice := seedUser(t, db, "alice", models.RoleStudent)
	bob := seedUser(t, db, "bob", models.RoleStudent)
	seedMembership(t, db, grouping.ID, alice.ID, models.MembershipStatusInviter)

	req := jsonRequest(t, "POST", fmt.Sprintf("/api/v1/groupings/%d/invite", grouping.ID),
		dto.InviteRequest{Members: []string{"bob"}}, alice)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var inviteBody struct {
		Success bool               `json:"success"`
		Data    dto.InviteResponse `json:"data"`
	}
	decodeResponse(t, resp, &inviteBody)
	require.True(t, inviteBody.Success)
	require.Empty(t, inviteBody.Data.Errors)

	req = jsonRequest(t, "POST", fmt.Sprintf("/api/v1/groupings/%d/accept_invitation", grouping.ID), nil, bob)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var membership models.Membership
	require.NoError(t, db.Where("grouping_id = ? AND user_id = ?", grouping.ID, bob.ID).
		First(&membership).Error)
	require.Equal(t, models.MembershipStatusAccepted, membership.Status)

	// Accepting a second time finds no pending invitation.
	req = jsonRequest(t, "POST", fmt.Sprintf("/api/v1/groupings/%d/accept_invitation", grouping.ID), nil, bob)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGroupingInviteClosedForIndividualWork(t *testing.T) {
	app, db := setupApp(t)

	_, grouping := seedGrouping(t, db, func(a *models.Assignment) { a.GroupMax = 1 })
	alice := seedUser(t, db, "alice", models.RoleStudent)
	seedMembership(t, db, grouping.ID, alice.ID, models.MembershipStatusInviter)
	seedUser(t, db, "bob", models.RoleStudent)

	req := jsonRequest(t, "POST", fmt.Sprintf("/api/v1/groupings/%d/invite", grouping.ID),
		dto.InviteRequest{Members: []string{"bob"}}, alice)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestGroupingAdminInviteBypassesPolicy(t *testing.T) {
	app, db := setupApp(t)

	_, grouping := seedGrouping(t, db, func(a *models.Assignment) { a.GroupMax = 1 })
	admin := seedUser(t, db, "prof", models.RoleAdmin)
	bob := seedUser(t, db, "bob", models.RoleStudent)

	req := jsonRequest(t, "POST", fmt.Sprintf("/api/v1/groupings/%d/invite", grouping.ID),
		dto.InviteRequest{Members: []string{"bob"}}, admin)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Admin-added members skip the pending state.
	var membership models.Membership
	require.NoError(t, db.Where("grouping_id = ? AND user_id = ?", grouping.ID, bob.ID).
		First(&membership).Error)
	require.Equal(t, models.MembershipStatusAccepted, membership.Status)
}

func TestCreateTestRunConsumesStudentToken(t *testing.T) {
	app, db := setupApp(t)

	_, grouping := seedGrouping(t, db, nil)
	alice := seedUser(t, db, "alice", models.RoleStudent)
	seedMembership(t, db, grouping.ID, alice.ID, models.MembershipStatusInviter)

	req := jsonRequest(t, "POST", fmt.Sprintf("/api/v1/groupings/%d/test_runs", grouping.ID),
		dto.CreateTestRunRequest{}, alice)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var stored models.Grouping
	require.NoError(t, db.First(&stored, grouping.ID).Error)
	require.Equal(t, 4, stored.TestTokens)

	// The run just created has no results yet, so another one is
	// rejected until it finishes.
	req = jsonRequest(t, "POST", fmt.Sprintf("/api/v1/groupings/%d/test_runs", grouping.ID),
		dto.CreateTestRunRequest{}, alice)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestListTestRunsByRole(t *testing.T) {
	app, db := setupApp(t)

	_, grouping := seedGrouping(t, db, nil)
	alice := seedUser(t, db, "alice", models.RoleStudent)
	admin := seedUser(t, db, "prof", models.RoleAdmin)
	seedMembership(t, db, grouping.ID, alice.ID, models.MembershipStatusInviter)

	require.NoError(t, db.Create(&models.TestRun{
		GroupingID: grouping.ID, UserID: alice.ID, RevisionIdentifier: uuid.NewString(),
	}).Error)
	require.NoError(t, db.Create(&models.TestRun{
		GroupingID: grouping.ID, UserID: admin.ID, RevisionIdentifier: uuid.NewString(),
	}).Error)

	var listBody struct {
		Success bool            `json:"success"`
		Data    []dto.RunReport `json:"data"`
	}

	// Students see only their group's student runs.
	req := jsonRequest(t, "GET", fmt.Sprintf("/api/v1/groupings/%d/test_runs", grouping.ID), nil, alice)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeResponse(t, resp, &listBody)
	require.Len(t, listBody.Data, 1)
	require.Equal(t, "alice", listBody.Data[0].UserName)

	// Staff see instructor runs.
	req = jsonRequest(t, "GET", fmt.Sprintf("/api/v1/groupings/%d/test_runs", grouping.ID), nil, admin)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeResponse(t, resp, &listBody)
	require.Len(t, listBody.Data, 1)
	require.Equal(t, "prof", listBody.Data[0].UserName)
}

func TestAssignTAsRequiresAdmin(t *testing.T) {
	app, db := setupApp(t)

	assignment, grouping := seedGrouping(t, db, nil)
	ta := seedUser(t, db, "grader", models.RoleTA)
	admin := seedUser(t, db, "prof", models.RoleAdmin)

	payload := dto.AssignTAsRequest{
		GroupingIDs: []uint{grouping.ID},
		TaIDs:       []uint{ta.ID},
		Strategy:    "cartesian",
	}

	req := jsonRequest(t, "POST", fmt.Sprintf("/api/v1/assignments/%d/tas/assign", assignment.ID), payload, ta)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = jsonRequest(t, "POST", fmt.Sprintf("/api/v1/assignments/%d/tas/assign", assignment.ID), payload, admin)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var count int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("grouping_id = ? AND role = ?", grouping.ID, models.MembershipRoleTA).
		Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestGroupingNotFound(t *testing.T) {
	app, db := setupApp(t)
	admin := seedUser(t, db, "prof", models.RoleAdmin)

	req := jsonRequest(t, "GET", "/api/v1/groupings/9999", nil, admin)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

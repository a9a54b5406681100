package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/courseforge/courseforge-api/internal/dto"
	"github.com/courseforge/courseforge-api/internal/models"
	"github.com/courseforge/courseforge-api/internal/repository"
	"github.com/courseforge/courseforge-api/internal/service"
	"github.com/courseforge/courseforge-api/internal/utils"
)

// GroupingHandler wires grouping lifecycle HTTP routes.
type GroupingHandler struct {
	groupings service.GroupingService
	tas       service.TAAssignmentService
	tokens    service.TokenService
	testRuns  service.TestRunService
	policy    service.PolicyService
	users     repository.UserRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGroupingHandler constructs the handler.
func NewGroupingHandler(groupings service.GroupingService, tas service.TAAssignmentService, tokens service.TokenService, testRuns service.TestRunService, policy service.PolicyService, users repository.UserRepository, validator *validator.Validate, logger zerolog.Logger) *GroupingHandler {
	return &GroupingHandler{
		groupings: groupings,
		tas:       tas,
		tokens:    tokens,
		testRuns:  testRuns,
		policy:    policy,
		users:     users,
		validator: validator,
		logger:    logger.With().Str("component", "grouping_handler").Logger(),
	}
}

// Register attaches grouping endpoints to the router group.
func (h *GroupingHandler) Register(router fiber.Router) {
	router.Get("/:id", h.get)
	router.Delete("/:id", h.delete)
	router.Post("/:id/invite", h.invite)
	router.Post("/:id/accept_invitation", h.acceptInvitation)
	router.Post("/:id/decline_invitation", h.declineInvitation)
	router.Delete("/:id/members/:membershipId", h.removeMember)
	router.Delete("/:id/members/:membershipId/rejected", h.removeRejected)
	router.Post("/:id/validate", h.validate)
	router.Post("/:id/invalidate", h.invalidate)
	router.Post("/:id/test_runs", h.createTestRun)
	router.Get("/:id/test_runs", h.listTestRuns)
}

// RegisterAssignmentRoutes attaches the bulk TA assignment endpoints to
// an assignment-scoped router group.
func (h *GroupingHandler) RegisterAssignmentRoutes(router fiber.Router, guard fiber.Handler, assignments repository.AssignmentRepository) {
	router.Post("/:assignmentId/tas/assign", guard, h.assignTAs(assignments))
	router.Post("/:assignmentId/tas/unassign", guard, h.unassignTAs(assignments))
}

func (h *GroupingHandler) get(c *fiber.Ctx) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	ctx := c.Context()
	dueDate, err := h.groupings.DueDate(ctx, grouping)
	if err != nil {
		return h.internalError(c, err)
	}

	memberships, err := h.groupings.StudentMemberships(ctx, grouping)
	if err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "grouping retrieved", dto.NewGroupingResponse(grouping, dueDate, memberships))
}

func (h *GroupingHandler) delete(c *fiber.Ctx) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	user, err := h.currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	ctx := c.Context()
	if !user.IsAdmin() {
		allowed, err := h.policy.CanDestroy(ctx, grouping, user)
		if err != nil {
			return h.internalError(c, err)
		}
		if !allowed {
			return utils.SendError(c, fiber.StatusForbidden, "grouping cannot be deleted")
		}
	}

	if err := h.groupings.DeleteGrouping(ctx, grouping); err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "grouping deleted", nil)
}

func (h *GroupingHandler) invite(c *fiber.Ctx) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	var payload dto.InviteRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	user, err := h.currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	ctx := c.Context()
	invokedByAdmin := user.IsAdmin()
	status := models.MembershipStatusPending
	if invokedByAdmin {
		status = models.MembershipStatusAccepted
	} else {
		open, err := h.policy.CanInviteMember(ctx, grouping)
		if err != nil {
			return h.internalError(c, err)
		}
		if !open {
			return utils.SendError(c, fiber.StatusForbidden, "group membership is closed")
		}
	}

	inviteErrors := h.groupings.Invite(ctx, grouping, payload.Members, status, invokedByAdmin)

	requestLogger(h.logger, c).Info().
		Uint("grouping_id", grouping.ID).
		Int("invited", len(payload.Members)-len(inviteErrors)).
		Int("failed", len(inviteErrors)).
		Msg("invite batch processed")

	return utils.SendSuccess(c, "invitations processed", dto.InviteResponse{Errors: inviteErrors})
}

func (h *GroupingHandler) acceptInvitation(c *fiber.Ctx) error {
	return h.respondToInvitation(c, h.groupings.AcceptInvitation, "invitation accepted")
}

func (h *GroupingHandler) declineInvitation(c *fiber.Ctx) error {
	return h.respondToInvitation(c, h.groupings.DeclineInvitation, "invitation declined")
}

func (h *GroupingHandler) respondToInvitation(c *fiber.Ctx, respond func(context.Context, models.Grouping, models.User) error, message string) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	user, err := h.currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	if err := respond(c.Context(), grouping, user); err != nil {
		if errors.Is(err, service.ErrMembershipNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "membership not found")
		}
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, message, nil)
}

func (h *GroupingHandler) removeMember(c *fiber.Ctx) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	membershipID, err := parseUintParam(c, "membershipId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.groupings.RemoveMember(c.Context(), grouping, membershipID); err != nil {
		if errors.Is(err, service.ErrMembershipNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "membership not found")
		}
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "member removed", nil)
}

func (h *GroupingHandler) removeRejected(c *fiber.Ctx) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	membershipID, err := parseUintParam(c, "membershipId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.groupings.RemoveRejected(c.Context(), grouping, membershipID); err != nil {
		if errors.Is(err, service.ErrMembershipNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "membership not found")
		}
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "rejected membership removed", nil)
}

func (h *GroupingHandler) validate(c *fiber.Ctx) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	if err := h.groupings.Validate(c.Context(), grouping); err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "grouping validated", nil)
}

func (h *GroupingHandler) invalidate(c *fiber.Ctx) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	if err := h.groupings.Invalidate(c.Context(), grouping); err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "grouping invalidated", nil)
}

func (h *GroupingHandler) createTestRun(c *fiber.Ctx) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	var payload dto.CreateTestRunRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	ctx := c.Context()
	allowed, err := h.policy.CanRunTests(ctx, grouping, user)
	if err != nil {
		return h.internalError(c, err)
	}
	if !allowed {
		return utils.SendError(c, fiber.StatusForbidden, "test run not permitted")
	}

	if user.IsStudent() {
		if _, err := h.tokens.Consume(ctx, grouping); err != nil {
			return h.internalError(c, err)
		}
	}

	run, err := h.testRuns.Create(ctx, grouping, user.ID, payload)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "user not found")
		}
		return h.internalError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "test run created", run)
}

func (h *GroupingHandler) listTestRuns(c *fiber.Ctx) error {
	grouping, ok, err := h.resolveGrouping(c)
	if !ok {
		return err
	}

	submissionID, err := parseOptionalUintQuery(c, "submission_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.Context()
	var reports []dto.RunReport
	switch userRoleFromContext(c) {
	case models.RoleStudent:
		reports, err = h.testRuns.StudentRuns(ctx, grouping)
	default:
		if c.QueryBool("released") {
			reports, err = h.testRuns.InstructorRunsReleased(ctx, grouping, submissionID)
		} else {
			reports, err = h.testRuns.InstructorRuns(ctx, grouping, submissionID)
		}
	}
	if err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "test runs retrieved", reports)
}

func (h *GroupingHandler) assignTAs(assignments repository.AssignmentRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		assignment, ok, err := h.resolveAssignment(c, assignments)
		if !ok {
			return err
		}

		var payload dto.AssignTAsRequest
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
		if err := h.validator.Struct(payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}

		strategy, err := strategyFromRequest(payload)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}

		if err := h.tas.AssignTAs(c.Context(), payload.GroupingIDs, payload.TaIDs, assignment, strategy); err != nil {
			return h.internalError(c, err)
		}

		return utils.SendSuccess(c, "tas assigned", nil)
	}
}

func (h *GroupingHandler) unassignTAs(assignments repository.AssignmentRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		assignment, ok, err := h.resolveAssignment(c, assignments)
		if !ok {
			return err
		}

		var payload dto.UnassignTAsRequest
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
		if err := h.validator.Struct(payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}

		if err := h.tas.UnassignTAs(c.Context(), payload.MembershipIDs, payload.GroupingIDs, assignment); err != nil {
			return h.internalError(c, err)
		}

		return utils.SendSuccess(c, "tas unassigned", nil)
	}
}

func strategyFromRequest(payload dto.AssignTAsRequest) (service.AssignmentStrategy, error) {
	switch payload.Strategy {
	case "round_robin":
		return service.NewRoundRobinStrategy(nil), nil
	case "cartesian":
		return service.CartesianStrategy{}, nil
	case "custom":
		pairs := make([]repository.TaPair, 0, len(payload.Pairs))
		for _, pair := range payload.Pairs {
			pairs = append(pairs, repository.TaPair{GroupingID: pair[0], TaID: pair[1]})
		}
		return service.CustomStrategy{Assignments: pairs}, nil
	default:
		return nil, errors.New("unknown assignment strategy")
	}
}

// resolveGrouping loads the grouping named by the :id path parameter.
// On failure it writes the error response and returns ok=false.
func (h *GroupingHandler) resolveGrouping(c *fiber.Ctx) (models.Grouping, bool, error) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return models.Grouping{}, false, utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	grouping, err := h.groupings.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrGroupingNotFound) {
			return models.Grouping{}, false, utils.SendError(c, fiber.StatusNotFound, "grouping not found")
		}
		return models.Grouping{}, false, h.internalError(c, err)
	}

	return grouping, true, nil
}

func (h *GroupingHandler) resolveAssignment(c *fiber.Ctx, assignments repository.AssignmentRepository) (models.Assignment, bool, error) {
	id, err := parseUintParam(c, "assignmentId")
	if err != nil {
		return models.Assignment{}, false, utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assignment, err := assignments.GetByID(c.Context(), id)
	if err != nil {
		return models.Assignment{}, false, utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	}

	return assignment, true, nil
}

func (h *GroupingHandler) currentUser(c *fiber.Ctx) (models.User, error) {
	userID := userIDFromContext(c)
	if userID == 0 {
		return models.User{}, errors.New("missing user")
	}

	return h.users.GetByID(c.Context(), userID)
}

func (h *GroupingHandler) internalError(c *fiber.Ctx, err error) error {
	requestLogger(h.logger, c).Error().Err(err).Msg("grouping request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}

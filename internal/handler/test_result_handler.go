package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/courseforge/courseforge-api/internal/dto"
	"github.com/courseforge/courseforge-api/internal/service"
	"github.com/courseforge/courseforge-api/internal/utils"
)

// TestResultHandler wires the autotest worker's result endpoints. These
// routes are nested under assignment and group so a result can only be
// addressed through its owning submission.
type TestResultHandler struct {
	service   service.TestResultService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewTestResultHandler constructs the handler.
func NewTestResultHandler(service service.TestResultService, validator *validator.Validate, logger zerolog.Logger) *TestResultHandler {
	return &TestResultHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "test_result_handler").Logger(),
	}
}

// Register attaches test-result endpoints to the router group.
func (h *TestResultHandler) Register(router fiber.Router, guard fiber.Handler) {
	base := "/:assignmentId/groups/:groupId/test_group_results/:testGroupResultId/test_results"
	router.Get(base, guard, h.list)
	router.Get(base+"/:id", guard, h.get)
	router.Post(base, guard, h.create)
	router.Put(base+"/:id", guard, h.update)
	router.Delete(base+"/:id", guard, h.delete)
}

func (h *TestResultHandler) list(c *fiber.Ctx) error {
	scope, err := scopeFromParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	results, err := h.service.List(c.Context(), scope)
	if err != nil {
		return h.handleError(c, err)
	}

	return h.render(c, fiber.StatusOK, dto.NewTestResultListResponse(results))
}

func (h *TestResultHandler) get(c *fiber.Ctx) error {
	scope, resultID, err := scopeAndResultFromParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Get(c.Context(), scope, resultID)
	if err != nil {
		return h.handleError(c, err)
	}

	return h.render(c, fiber.StatusOK, dto.NewTestResultResponse(result))
}

func (h *TestResultHandler) create(c *fiber.Ctx) error {
	scope, err := scopeFromParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.TestResultCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Create(c.Context(), scope, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return h.render(c, fiber.StatusCreated, dto.NewTestResultResponse(result))
}

func (h *TestResultHandler) update(c *fiber.Ctx) error {
	scope, resultID, err := scopeAndResultFromParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.TestResultUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Update(c.Context(), scope, resultID, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return h.render(c, fiber.StatusOK, dto.NewTestResultResponse(result))
}

func (h *TestResultHandler) delete(c *fiber.Ctx) error {
	scope, resultID, err := scopeAndResultFromParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Delete(c.Context(), scope, resultID); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "test result deleted", nil)
}

// render serializes the payload as XML when the client asked for it,
// falling back to the standard JSON envelope.
func (h *TestResultHandler) render(c *fiber.Ctx, status int, payload interface{}) error {
	if wantsXML(c) {
		return c.Status(status).XML(payload)
	}

	return utils.SendSuccessWithStatus(c, status, "success", payload)
}

func (h *TestResultHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrGroupNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "group not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrTestGroupResultNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "test group result not found")
	case errors.Is(err, service.ErrTestResultNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "test result not found")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("test result request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func scopeFromParams(c *fiber.Ctx) (service.TestResultScope, error) {
	assignmentID, err := parseUintParam(c, "assignmentId")
	if err != nil {
		return service.TestResultScope{}, err
	}
	groupID, err := parseUintParam(c, "groupId")
	if err != nil {
		return service.TestResultScope{}, err
	}
	groupResultID, err := parseUintParam(c, "testGroupResultId")
	if err != nil {
		return service.TestResultScope{}, err
	}

	return service.TestResultScope{
		AssignmentID:      assignmentID,
		GroupID:           groupID,
		TestGroupResultID: groupResultID,
	}, nil
}

func scopeAndResultFromParams(c *fiber.Ctx) (service.TestResultScope, uint, error) {
	scope, err := scopeFromParams(c)
	if err != nil {
		return service.TestResultScope{}, 0, err
	}

	resultID, err := parseUintParam(c, "id")
	if err != nil {
		return service.TestResultScope{}, 0, err
	}

	return scope, resultID, nil
}

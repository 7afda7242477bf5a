package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bandscale/bandscale-backend/internal/middleware"
	"github.com/bandscale/bandscale-backend/internal/model"
	"github.com/bandscale/bandscale-backend/internal/response"
	"github.com/bandscale/bandscale-backend/internal/service"
)

// PortalHandler serves the student exam portal: attempt listing, the lobby
// overview, and the module gate (enter / state / submit).
type PortalHandler struct {
	attemptService *service.AttemptService
	accessService  *service.AccessService
}

// NewPortalHandler creates a new PortalHandler.
func NewPortalHandler(attemptService *service.AttemptService, accessService *service.AccessService) *PortalHandler {
	return &PortalHandler{
		attemptService: attemptService,
		accessService:  accessService,
	}
}

// ListAttempts godoc
// GET /api/v1/portal/attempts
// Lists all attempts of the authenticated student.
func (h *PortalHandler) ListAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.attemptService.ListByStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// Enroll godoc
// POST /api/v1/portal/tests/:test_id/enroll
// Enrolls the student into a published test. Idempotent.
func (h *PortalHandler) Enroll(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.Enroll(c.Request.Context(), testID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTestNotPublished):
			response.Fail(c, http.StatusConflict, response.ErrTestNotPublished)
		case errors.Is(err, service.ErrCenterMismatch):
			response.Fail(c, http.StatusForbidden, response.ErrCenterMismatch)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// GetOverview godoc
// GET /api/v1/portal/attempts/:attempt_id/overview
// Returns the lobby view: attempt status plus an advisory verdict per module.
func (h *PortalHandler) GetOverview(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	overview, err := h.attemptService.GetOverview(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.failAccessError(c, err)
		return
	}

	response.Success(c, http.StatusOK, overview)
}

// EnterModule godoc
// POST /api/v1/portal/attempts/:attempt_id/modules/:module/enter
// The module gate. Policy denials are 200 responses carrying the structured
// verdict; only identity and infrastructure failures use error status codes.
func (h *PortalHandler) EnterModule(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}
	moduleType := model.ModuleType(c.Param("module"))

	result, err := h.accessService.ValidateAccess(c.Request.Context(), attemptID, moduleType, claims.UserID)
	if err != nil {
		h.failAccessError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetModuleState godoc
// GET /api/v1/portal/attempts/:attempt_id/modules/:module/state
// Advisory countdown state for the client mirror. Never applies transitions.
func (h *PortalHandler) GetModuleState(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}
	moduleType := model.ModuleType(c.Param("module"))

	state, err := h.accessService.GetModuleState(c.Request.Context(), attemptID, moduleType, claims.UserID)
	if err != nil {
		h.failAccessError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// CompleteModule godoc
// POST /api/v1/portal/attempts/:attempt_id/modules/:module/complete
// Submits a module. A late submission is rejected with an EXPIRED verdict;
// a repeated one succeeds idempotently.
func (h *PortalHandler) CompleteModule(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}
	moduleType := model.ModuleType(c.Param("module"))

	result, err := h.accessService.CompleteModule(c.Request.Context(), attemptID, moduleType, claims.UserID)
	if err != nil {
		h.failAccessError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// attemptParams resolves the claims and the :attempt_id path param, writing
// the failure response itself when either is missing.
func (h *PortalHandler) attemptParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}

	return claims, attemptID, true
}

// failAccessError maps access-layer errors onto HTTP responses. Unknown
// attempts and foreign attempts share one generic ACCESS_DENIED so probing
// cannot distinguish them.
func (h *PortalHandler) failAccessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound), errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrAccessDenied)
	case errors.Is(err, service.ErrModuleNotStarted):
		response.Fail(c, http.StatusConflict, response.ErrModuleNotStarted)
	case errors.Is(err, service.ErrStoreUnavailable):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrStoreUnavailable)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

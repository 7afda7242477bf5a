package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bandscale/bandscale-backend/internal/model"
	"github.com/bandscale/bandscale-backend/internal/repository"
	"github.com/bandscale/bandscale-backend/internal/response"
	"github.com/bandscale/bandscale-backend/internal/service"
	"github.com/bandscale/bandscale-backend/internal/validator"
)

// AdminHandler serves the registrar/proctor back office: centers, student
// accounts, test definitions and enrollment.
type AdminHandler struct {
	centerService  *service.CenterService
	studentService *service.StudentService
	testService    *service.TestService
	attemptService *service.AttemptService
	authService    *service.AuthService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	centerService *service.CenterService,
	studentService *service.StudentService,
	testService *service.TestService,
	attemptService *service.AttemptService,
	authService *service.AuthService,
) *AdminHandler {
	return &AdminHandler{
		centerService:  centerService,
		studentService: studentService,
		testService:    testService,
		attemptService: attemptService,
		authService:    authService,
	}
}

// ─── Centers ────────────────────────────────────────────────────────

// ListCenters godoc
// GET /api/v1/centers (public) and /api/v1/admin/centers
func (h *AdminHandler) ListCenters(c *gin.Context) {
	centers, err := h.centerService.List(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"centers": centers})
}

// GetCenter godoc
// GET /api/v1/centers/:slug
func (h *AdminHandler) GetCenter(c *gin.Context) {
	center, err := h.centerService.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"center": center})
}

// CreateCenter godoc
// POST /api/v1/admin/centers
func (h *AdminHandler) CreateCenter(c *gin.Context) {
	var req model.CreateCenterRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	center, err := h.centerService.Create(c.Request.Context(), &req)
	if err != nil {
		h.failCenterError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"center": center})
}

// UpdateCenter godoc
// PUT /api/v1/admin/centers/:id
func (h *AdminHandler) UpdateCenter(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.UpdateCenterRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	center, err := h.centerService.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.failCenterError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"center": center})
}

func (h *AdminHandler) failCenterError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDuplicateSlug):
		response.Fail(c, http.StatusConflict, response.ErrDuplicateSlug)
	case errors.Is(err, service.ErrInvalidTimezone), errors.Is(err, service.ErrInvalidHours):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// ─── Students ───────────────────────────────────────────────────────

// ListStudents godoc
// GET /api/v1/admin/students?center_id=&page=&per_page=
func (h *AdminHandler) ListStudents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	var centerID *int
	if raw := c.Query("center_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		centerID = &id
	}

	students, total, err := h.studentService.List(c.Request.Context(), centerID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	totalPages := (total + perPage - 1) / perPage
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"students": students}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
	})
}

// CreateStudent godoc
// POST /api/v1/admin/students
func (h *AdminHandler) CreateStudent(c *gin.Context) {
	var req model.CreateStudentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	hash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	student, err := h.studentService.Create(c.Request.Context(), &req, hash)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			response.Fail(c, http.StatusConflict, response.ErrConflict)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"student": student})
}

// ResetStudentSession godoc
// POST /api/v1/admin/students/:id/reset-session
// Frees a student's single-device session slot so they can log in again.
func (h *AdminHandler) ResetStudentSession(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.authService.ResetStudentSession(c.Request.Context(), id); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// ─── Tests ──────────────────────────────────────────────────────────

// ListTests godoc
// GET /api/v1/admin/tests
func (h *AdminHandler) ListTests(c *gin.Context) {
	tests, err := h.testService.List(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"tests": tests})
}

// GetTest godoc
// GET /api/v1/admin/tests/:test_id
func (h *AdminHandler) GetTest(c *gin.Context) {
	testID, ok := h.testIDParam(c)
	if !ok {
		return
	}

	test, err := h.testService.GetByID(c.Request.Context(), testID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"test": test})
}

// CreateTest godoc
// POST /api/v1/admin/tests
func (h *AdminHandler) CreateTest(c *gin.Context) {
	var req model.CreateTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	test, err := h.testService.Create(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"test": test})
}

// UpdateTest godoc
// PUT /api/v1/admin/tests/:test_id
func (h *AdminHandler) UpdateTest(c *gin.Context) {
	testID, ok := h.testIDParam(c)
	if !ok {
		return
	}

	var req model.UpdateTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	test, err := h.testService.Update(c.Request.Context(), testID, &req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"test": test})
}

// PublishTest godoc
// POST /api/v1/admin/tests/:test_id/publish
func (h *AdminHandler) PublishTest(c *gin.Context) {
	testID, ok := h.testIDParam(c)
	if !ok {
		return
	}

	if err := h.testService.Publish(c.Request.Context(), testID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// ListTestAttempts godoc
// GET /api/v1/admin/tests/:test_id/attempts
// The proctor's results view: every attempt with per-module outcomes.
func (h *AdminHandler) ListTestAttempts(c *gin.Context) {
	testID, ok := h.testIDParam(c)
	if !ok {
		return
	}

	attempts, err := h.testService.ListAttempts(c.Request.Context(), testID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// EnrollStudent godoc
// POST /api/v1/admin/tests/:test_id/enrollments
// Registrar-driven enrollment of a student into a published test.
func (h *AdminHandler) EnrollStudent(c *gin.Context) {
	testID, ok := h.testIDParam(c)
	if !ok {
		return
	}

	var req model.EnrollRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.Enroll(c.Request.Context(), testID, req.StudentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTestNotPublished):
			response.Fail(c, http.StatusConflict, response.ErrTestNotPublished)
		case errors.Is(err, service.ErrCenterMismatch):
			response.Fail(c, http.StatusConflict, response.ErrCenterMismatch)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"attempt": attempt})
}

func (h *AdminHandler) testIDParam(c *gin.Context) (uuid.UUID, bool) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return testID, true
}

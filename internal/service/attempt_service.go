package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/bandscale/bandscale-backend/internal/model"
	"github.com/bandscale/bandscale-backend/internal/repository"
)

var (
	ErrTestNotPublished = errors.New("test is not published")
	ErrCenterMismatch   = errors.New("student does not belong to the test's center")
)

// AttemptService handles enrollment (attempt creation) and read-side attempt
// views. All module-state mutations go through AccessService; this service
// never touches module records directly.
type AttemptService struct {
	attemptRepo *repository.AttemptRepository
	testRepo    *repository.TestRepository
	studentRepo *repository.StudentRepository
	centers     *CenterService
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	testRepo *repository.TestRepository,
	studentRepo *repository.StudentRepository,
	centers *CenterService,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo: attemptRepo,
		testRepo:    testRepo,
		studentRepo: studentRepo,
		centers:     centers,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// Enroll creates an attempt for a student on a published test. Idempotent:
// re-enrolling returns the existing attempt. The overall deadline is the
// student's center closing time on the enrollment day, per the store clock.
func (s *AttemptService) Enroll(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	test, err := s.testRepo.GetByID(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	if test.Status != model.TestStatusPublished {
		return nil, ErrTestNotPublished
	}

	student, err := s.studentRepo.GetByID(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	if student.CenterID != test.CenterID {
		return nil, ErrCenterMismatch
	}

	center, err := s.centers.GetByID(ctx, student.CenterID)
	if err != nil {
		return nil, fmt.Errorf("get center: %w", err)
	}

	now, err := s.attemptRepo.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("store clock: %w", err)
	}

	attempt := &model.Attempt{
		TestID:          testID,
		StudentID:       studentID,
		Sequential:      test.Sequential,
		OverallDeadline: s.centers.DeadlineFor(center, now),
	}
	created, err := s.attemptRepo.CreateAttempt(ctx, attempt)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.log.Info().
		Str("attempt_id", created.ID.String()).
		Str("test_id", testID.String()).
		Int("student_id", studentID).
		Msg("Student enrolled")

	return created, nil
}

// ListByStudent returns all attempts of a student.
func (s *AttemptService) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	return s.attemptRepo.ListByStudent(ctx, studentID)
}

// ModuleOverview is the advisory per-module line of an attempt overview. The
// verdict preview is computed with the pure decision engine and applies no
// transitions — entering still goes through ValidateAccess.
type ModuleOverview struct {
	ModuleType       model.ModuleType   `json:"module_type"`
	Status           model.ModuleStatus `json:"status"`
	Eligible         bool               `json:"eligible"`
	Reason           DenyReason         `json:"reason,omitempty"`
	RemainingSeconds int64              `json:"remaining_seconds"`
}

// AttemptOverview is the full lobby view of one attempt.
type AttemptOverview struct {
	Attempt model.Attempt    `json:"attempt"`
	Modules []ModuleOverview `json:"modules"`
}

// GetOverview returns the attempt plus an advisory verdict preview for every
// module in sequence order.
func (s *AttemptService) GetOverview(ctx context.Context, attemptID uuid.UUID, studentID int) (*AttemptOverview, error) {
	attempt, err := s.attemptRepo.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrForbidden
	}

	records, err := s.attemptRepo.ListModuleRecords(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list module records: %w", err)
	}

	now, err := s.attemptRepo.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("store clock: %w", err)
	}

	overview := &AttemptOverview{Attempt: *attempt}
	for _, moduleType := range model.ModuleOrder {
		line := ModuleOverview{ModuleType: moduleType, Status: model.ModuleStatusNotStarted}
		if rec := findRecord(records, moduleType); rec != nil {
			line.Status = rec.Status
		}
		verdict := DecideAccess(attempt, records, moduleType, now)
		line.Eligible = verdict.Allowed
		line.Reason = verdict.Reason
		line.RemainingSeconds = int64(verdict.Remaining / time.Second)
		overview.Modules = append(overview.Modules, line)
	}

	return overview, nil
}

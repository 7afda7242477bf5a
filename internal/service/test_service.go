package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bandscale/bandscale-backend/internal/model"
	"github.com/bandscale/bandscale-backend/internal/repository"
)

// TestService handles mock test definition business logic.
type TestService struct {
	repo *repository.TestRepository
	log  zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(repo *repository.TestRepository, log zerolog.Logger) *TestService {
	return &TestService{
		repo: repo,
		log:  log.With().Str("component", "test_service").Logger(),
	}
}

// GetByID retrieves a mock test by ID.
func (s *TestService) GetByID(ctx context.Context, id uuid.UUID) (*model.MockTest, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves all mock tests.
func (s *TestService) List(ctx context.Context) ([]model.MockTest, error) {
	return s.repo.List(ctx)
}

// Create inserts a new DRAFT mock test.
func (s *TestService) Create(ctx context.Context, req *model.CreateTestRequest) (*model.MockTest, error) {
	sequential := true // IELTS default: modules run in order
	if req.Sequential != nil {
		sequential = *req.Sequential
	}
	test := &model.MockTest{
		Title:      req.Title,
		CenterID:   req.CenterID,
		Sequential: sequential,
	}
	if err := s.repo.Create(ctx, test); err != nil {
		return nil, fmt.Errorf("create test: %w", err)
	}
	return test, nil
}

// Update applies partial changes to a DRAFT test.
func (s *TestService) Update(ctx context.Context, id uuid.UUID, req *model.UpdateTestRequest) (*model.MockTest, error) {
	test, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != "" {
		test.Title = req.Title
	}
	if req.Sequential != nil {
		test.Sequential = *req.Sequential
	}
	if err := s.repo.Update(ctx, test); err != nil {
		return nil, fmt.Errorf("update test: %w", err)
	}
	return test, nil
}

// Publish makes a test available for enrollment.
func (s *TestService) Publish(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetStatus(ctx, id, model.TestStatusPublished); err != nil {
		return fmt.Errorf("publish test: %w", err)
	}
	s.log.Info().Str("test_id", id.String()).Msg("Test published")
	return nil
}

// ListAttempts returns all attempts on a test with module breakdowns.
func (s *TestService) ListAttempts(ctx context.Context, id uuid.UUID) ([]repository.AttemptResult, error) {
	return s.repo.ListAttempts(ctx, id)
}

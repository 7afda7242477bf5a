package service

import (
	"context"
	"fmt"

	"github.com/bandscale/bandscale-backend/internal/model"
	"github.com/bandscale/bandscale-backend/internal/repository"
)

// StudentService handles student account business logic.
type StudentService struct {
	repo *repository.StudentRepository
}

// NewStudentService creates a new StudentService.
func NewStudentService(repo *repository.StudentRepository) *StudentService {
	return &StudentService{repo: repo}
}

// GetByID retrieves a student by ID.
func (s *StudentService) GetByID(ctx context.Context, id int) (*model.Student, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByEmail retrieves a student by email.
func (s *StudentService) GetByEmail(ctx context.Context, email string) (*model.Student, error) {
	return s.repo.GetByEmail(ctx, email)
}

// List retrieves students with pagination and optional center filter.
func (s *StudentService) List(ctx context.Context, centerID *int, page, perPage int) ([]model.Student, int, error) {
	offset := (page - 1) * perPage
	return s.repo.ListPaginated(ctx, centerID, perPage, offset)
}

// Create inserts a new student with an already-hashed password.
func (s *StudentService) Create(ctx context.Context, req *model.CreateStudentRequest, passwordHash string) (*model.Student, error) {
	student := &model.Student{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: passwordHash,
		CenterID:     req.CenterID,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, fmt.Errorf("create student: %w", err)
	}
	return student, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bandscale/bandscale-backend/internal/model"
	"github.com/bandscale/bandscale-backend/internal/repository"
)

var (
	ErrDuplicateSlug   = errors.New("center slug already in use")
	ErrInvalidTimezone = errors.New("unknown IANA timezone")
	ErrInvalidHours    = errors.New("operating hours must be HH:MM with opens before closes")
)

// CenterService handles test center business logic, including the derivation
// of an attempt's overall deadline from the center's operating hours.
type CenterService struct {
	repo *repository.CenterRepository
	log  zerolog.Logger
}

// NewCenterService creates a new CenterService.
func NewCenterService(repo *repository.CenterRepository, log zerolog.Logger) *CenterService {
	return &CenterService{
		repo: repo,
		log:  log.With().Str("component", "center_service").Logger(),
	}
}

// List returns all centers.
func (s *CenterService) List(ctx context.Context) ([]model.Center, error) {
	return s.repo.List(ctx)
}

// GetBySlug resolves a center by its routing slug.
func (s *CenterService) GetBySlug(ctx context.Context, slug string) (*model.Center, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// GetByID retrieves a center by ID.
func (s *CenterService) GetByID(ctx context.Context, id int) (*model.Center, error) {
	return s.repo.GetByID(ctx, id)
}

// Create validates and inserts a new center.
func (s *CenterService) Create(ctx context.Context, req *model.CreateCenterRequest) (*model.Center, error) {
	if err := validateHours(req.OpensAt, req.ClosesAt); err != nil {
		return nil, err
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return nil, ErrInvalidTimezone
	}

	center := &model.Center{
		Name:     req.Name,
		Slug:     req.Slug,
		Timezone: req.Timezone,
		OpensAt:  req.OpensAt,
		ClosesAt: req.ClosesAt,
	}
	if err := s.repo.Create(ctx, center); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrDuplicateSlug
		}
		return nil, fmt.Errorf("create center: %w", err)
	}
	return center, nil
}

// Update applies partial changes to a center.
func (s *CenterService) Update(ctx context.Context, id int, req *model.UpdateCenterRequest) (*model.Center, error) {
	center, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		center.Name = req.Name
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return nil, ErrInvalidTimezone
		}
		center.Timezone = req.Timezone
	}
	if req.OpensAt != "" {
		center.OpensAt = req.OpensAt
	}
	if req.ClosesAt != "" {
		center.ClosesAt = req.ClosesAt
	}
	if err := validateHours(center.OpensAt, center.ClosesAt); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, center); err != nil {
		return nil, fmt.Errorf("update center: %w", err)
	}
	return center, nil
}

// DeadlineFor derives the overall attempt deadline: the center's closing time
// on the given day, in the center's timezone. Returns nil if the center record
// carries no usable hours (no deadline is then enforced).
func (s *CenterService) DeadlineFor(center *model.Center, day time.Time) *time.Time {
	loc, err := time.LoadLocation(center.Timezone)
	if err != nil {
		s.log.Warn().Str("timezone", center.Timezone).Int("center_id", center.ID).Msg("Unknown timezone, skipping deadline")
		return nil
	}
	closes, err := time.Parse("15:04", center.ClosesAt)
	if err != nil {
		s.log.Warn().Str("closes_at", center.ClosesAt).Int("center_id", center.ID).Msg("Unparseable closing time, skipping deadline")
		return nil
	}
	local := day.In(loc)
	deadline := time.Date(local.Year(), local.Month(), local.Day(), closes.Hour(), closes.Minute(), 0, 0, loc)
	return &deadline
}

func validateHours(opens, closes string) error {
	o, err := time.Parse("15:04", opens)
	if err != nil {
		return ErrInvalidHours
	}
	c, err := time.Parse("15:04", closes)
	if err != nil {
		return ErrInvalidHours
	}
	if !o.Before(c) {
		return ErrInvalidHours
	}
	return nil
}

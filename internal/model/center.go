package model

import "time"

// Center is a physical test center. Students are scoped to a center and the
// center's closing time bounds an attempt's overall deadline.
type Center struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Timezone  string    `json:"timezone"`
	OpensAt   string    `json:"opens_at"`  // "HH:MM", local to Timezone
	ClosesAt  string    `json:"closes_at"` // "HH:MM", local to Timezone
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateCenterRequest is the payload for creating a new center.
type CreateCenterRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Slug     string `json:"slug" binding:"required,min=2,max=50,lowercase"`
	Timezone string `json:"timezone" binding:"required,min=2,max=64"`
	OpensAt  string `json:"opens_at" binding:"required,clocktime"`
	ClosesAt string `json:"closes_at" binding:"required,clocktime"`
}

// UpdateCenterRequest is the payload for updating an existing center.
type UpdateCenterRequest struct {
	Name     string `json:"name" binding:"omitempty,min=2,max=100"`
	Timezone string `json:"timezone" binding:"omitempty,min=2,max=64"`
	OpensAt  string `json:"opens_at" binding:"omitempty,clocktime"`
	ClosesAt string `json:"closes_at" binding:"omitempty,clocktime"`
}

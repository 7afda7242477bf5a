package model

import (
	"time"

	"github.com/google/uuid"
)

// TestStatus enumerates the publication states of a mock test.
type TestStatus string

const (
	TestStatusDraft     TestStatus = "DRAFT"
	TestStatusPublished TestStatus = "PUBLISHED"
	TestStatusArchived  TestStatus = "ARCHIVED"
)

// MockTest is a test definition students can be enrolled into. The Sequential
// flag enables the sequencing policy: modules must then be completed in
// ModuleOrder before the next becomes eligible.
type MockTest struct {
	ID         uuid.UUID  `json:"id"`
	Title      string     `json:"title"`
	CenterID   int        `json:"center_id"`
	Sequential bool       `json:"sequential"`
	Status     TestStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CreateTestRequest is the payload for creating a new mock test.
type CreateTestRequest struct {
	Title      string `json:"title" binding:"required,min=3,max=255"`
	CenterID   int    `json:"center_id" binding:"required"`
	Sequential *bool  `json:"sequential" binding:"omitempty"`
}

// UpdateTestRequest is the payload for updating an existing mock test.
type UpdateTestRequest struct {
	Title      string `json:"title" binding:"omitempty,min=3,max=255"`
	Sequential *bool  `json:"sequential" binding:"omitempty"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// ModuleType identifies one of the four exam sections.
type ModuleType string

const (
	ModuleListening ModuleType = "listening"
	ModuleReading   ModuleType = "reading"
	ModuleWriting   ModuleType = "writing"
	ModuleSpeaking  ModuleType = "speaking"
)

// ModuleOrder is the fixed sequencing order of the exam sections.
// The sequence index of a module is its position in this slice.
var ModuleOrder = []ModuleType{
	ModuleListening,
	ModuleReading,
	ModuleWriting,
	ModuleSpeaking,
}

// ModuleDurations fixes the allowed duration per module type.
// These are policy constants, never student-configurable.
var ModuleDurations = map[ModuleType]time.Duration{
	ModuleListening: 30 * time.Minute,
	ModuleReading:   60 * time.Minute,
	ModuleWriting:   60 * time.Minute,
	ModuleSpeaking:  15 * time.Minute,
}

// Valid reports whether t is a known module type.
func (t ModuleType) Valid() bool {
	_, ok := ModuleDurations[t]
	return ok
}

// SequenceIndex returns the position of t in ModuleOrder, or -1 if unknown.
func (t ModuleType) SequenceIndex() int {
	for i, m := range ModuleOrder {
		if m == t {
			return i
		}
	}
	return -1
}

// AttemptStatus enumerates the overall lifecycle of an attempt.
type AttemptStatus string

const (
	AttemptStatusNotStarted AttemptStatus = "NOT_STARTED"
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
	AttemptStatusExpired    AttemptStatus = "EXPIRED"
)

// ModuleStatus enumerates the lifecycle of a single module record.
// Transitions are monotonic: NOT_STARTED → IN_PROGRESS → {COMPLETED|EXPIRED}.
type ModuleStatus string

const (
	ModuleStatusNotStarted ModuleStatus = "NOT_STARTED"
	ModuleStatusInProgress ModuleStatus = "IN_PROGRESS"
	ModuleStatusCompleted  ModuleStatus = "COMPLETED"
	ModuleStatusExpired    ModuleStatus = "EXPIRED"
)

// Terminal reports whether no further transition out of s is permitted.
func (s ModuleStatus) Terminal() bool {
	return s == ModuleStatusCompleted || s == ModuleStatusExpired
}

// Attempt is one student's full exam session across all modules,
// one per (student, mock test) pairing.
type Attempt struct {
	ID              uuid.UUID     `json:"id"`
	TestID          uuid.UUID     `json:"test_id"`
	StudentID       int           `json:"student_id"`
	OverallStatus   AttemptStatus `json:"overall_status"`
	Sequential      bool          `json:"sequential"`
	OverallDeadline *time.Time    `json:"overall_deadline,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ModuleRecord tracks one module of one attempt. Created lazily on first
// access, never deleted (audit trail). started_at and completed_at are
// stamped at most once, by the store, using the store's clock.
type ModuleRecord struct {
	AttemptID   uuid.UUID    `json:"attempt_id"`
	ModuleType  ModuleType   `json:"module_type"`
	Status      ModuleStatus `json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// AllowedDuration returns the policy duration for this record's module type.
func (r *ModuleRecord) AllowedDuration() time.Duration {
	return ModuleDurations[r.ModuleType]
}

// EnrollRequest is the admin payload for enrolling a student into a test.
type EnrollRequest struct {
	StudentID int `json:"student_id" binding:"required"`
}

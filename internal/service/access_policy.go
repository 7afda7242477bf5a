package service

import (
	"time"

	"github.com/bandscale/bandscale-backend/internal/model"
)

// DenyReason is the closed set of policy reasons an access check can fail
// with. Callers switch on these exhaustively; there is no catch-all.
type DenyReason string

const (
	DenyAlreadyCompleted DenyReason = "ALREADY_COMPLETED"
	DenyExpired          DenyReason = "EXPIRED"
	DenyNotYetEligible   DenyReason = "NOT_YET_ELIGIBLE"
	DenyAttemptExpired   DenyReason = "ATTEMPT_EXPIRED"
	DenyUnknownModule    DenyReason = "UNKNOWN_MODULE"
)

// Transition is the state change the decision requires the caller to apply
// atomically against the Attempt Store. The engine itself never mutates
// anything.
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionStart: stamp started_at and move NOT_STARTED → IN_PROGRESS.
	TransitionStart
	// TransitionExpireModule: the module overran its duration; persist EXPIRED.
	TransitionExpireModule
	// TransitionExpireAttempt: the overall deadline passed; persist EXPIRED
	// on the attempt.
	TransitionExpireAttempt
)

// Verdict is the outcome of a single access decision.
type Verdict struct {
	Allowed    bool
	Reason     DenyReason // Set only when !Allowed.
	Remaining  time.Duration
	Transition Transition
}

// DecideAccess is the access decision engine: a deterministic, side-effect-free
// mapping of (attempt, module records, module type, now) to a verdict.
// Rules are evaluated in order, first match wins:
//
//  1. Completed module  → ALREADY_COMPLETED (anti-replay, unconditional)
//  2. Attempt expired or past its overall deadline → ATTEMPT_EXPIRED
//  3. Sequencing enabled and an earlier module not completed → NOT_YET_ELIGIBLE
//  4. Module already expired → EXPIRED
//  5. Not started → allowed with the full duration (caller stamps started_at)
//  6. In progress → allowed with the remainder, or EXPIRED once
//     now - started_at ≥ allowed duration
//
// records must contain every existing module record of the attempt; modules
// with no record yet count as NOT_STARTED for sequencing.
func DecideAccess(attempt *model.Attempt, records []model.ModuleRecord, moduleType model.ModuleType, now time.Time) Verdict {
	if !moduleType.Valid() {
		return Verdict{Allowed: false, Reason: DenyUnknownModule}
	}

	byType := make(map[model.ModuleType]*model.ModuleRecord, len(records))
	for i := range records {
		byType[records[i].ModuleType] = &records[i]
	}
	rec := byType[moduleType]

	// Rule 1: re-entry to a finished module is never allowed, regardless of
	// remaining time.
	if rec != nil && rec.Status == model.ModuleStatusCompleted {
		return Verdict{Allowed: false, Reason: DenyAlreadyCompleted}
	}

	// Rule 2: the whole attempt is over.
	if attempt.OverallStatus == model.AttemptStatusExpired {
		return Verdict{Allowed: false, Reason: DenyAttemptExpired}
	}
	if attempt.OverallDeadline != nil && now.After(*attempt.OverallDeadline) {
		return Verdict{Allowed: false, Reason: DenyAttemptExpired, Transition: TransitionExpireAttempt}
	}

	// Rule 3: sequencing. Every module ordered before this one must be
	// COMPLETED; a missing record means it was never even started.
	if attempt.Sequential {
		idx := moduleType.SequenceIndex()
		for _, earlier := range model.ModuleOrder[:idx] {
			prev := byType[earlier]
			if prev == nil || prev.Status != model.ModuleStatusCompleted {
				return Verdict{Allowed: false, Reason: DenyNotYetEligible}
			}
		}
	}

	// Rule 4: a module that already ran out stays closed.
	if rec != nil && rec.Status == model.ModuleStatusExpired {
		return Verdict{Allowed: false, Reason: DenyExpired}
	}

	duration := model.ModuleDurations[moduleType]

	// Rule 5: fresh entry. The engine only signals the start; stamping
	// started_at is the validation service's transactional job.
	if rec == nil || rec.Status == model.ModuleStatusNotStarted {
		return Verdict{Allowed: true, Remaining: duration, Transition: TransitionStart}
	}

	// Rule 6: in progress. The boundary is inclusive: elapsed == duration is
	// already expired.
	elapsed := now.Sub(*rec.StartedAt)
	if elapsed >= duration {
		return Verdict{Allowed: false, Reason: DenyExpired, Transition: TransitionExpireModule}
	}
	return Verdict{Allowed: true, Remaining: duration - elapsed}
}

// RedirectHint maps a denial reason to the route the UI should send the
// student to. Policy constants, not protocol.
func RedirectHint(reason DenyReason) string {
	switch reason {
	case DenyAlreadyCompleted, DenyExpired, DenyAttemptExpired:
		return "/summary"
	case DenyNotYetEligible, DenyUnknownModule:
		return "/lobby"
	default:
		return "/lobby"
	}
}

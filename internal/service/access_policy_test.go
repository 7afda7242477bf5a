package service

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bandscale/bandscale-backend/internal/model"
)

var policyEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testAttempt(status model.AttemptStatus, sequential bool, deadline *time.Time) *model.Attempt {
	return &model.Attempt{
		ID:              uuid.New(),
		TestID:          uuid.New(),
		StudentID:       101,
		OverallStatus:   status,
		Sequential:      sequential,
		OverallDeadline: deadline,
	}
}

func record(attempt *model.Attempt, moduleType model.ModuleType, status model.ModuleStatus, startedAt, completedAt *time.Time) model.ModuleRecord {
	return model.ModuleRecord{
		AttemptID:   attempt.ID,
		ModuleType:  moduleType,
		Status:      status,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
}

func ts(t time.Time) *time.Time { return &t }

func TestDecideAccessUnknownModule(t *testing.T) {
	attempt := testAttempt(model.AttemptStatusInProgress, false, nil)

	v := DecideAccess(attempt, nil, model.ModuleType("grammar"), policyEpoch)
	if v.Allowed {
		t.Fatal("expected denial for unknown module")
	}
	if v.Reason != DenyUnknownModule {
		t.Fatalf("reason = %s, want %s", v.Reason, DenyUnknownModule)
	}
}

func TestDecideAccessCompletedModuleNeverReopens(t *testing.T) {
	attempt := testAttempt(model.AttemptStatusInProgress, false, nil)
	records := []model.ModuleRecord{
		record(attempt, model.ModuleListening, model.ModuleStatusCompleted,
			ts(policyEpoch.Add(-time.Hour)), ts(policyEpoch.Add(-30*time.Minute))),
	}

	// Denied immediately, long after, and even once the whole attempt expired:
	// the completed check outranks every other rule.
	for _, now := range []time.Time{policyEpoch, policyEpoch.Add(24 * time.Hour)} {
		v := DecideAccess(attempt, records, model.ModuleListening, now)
		if v.Allowed || v.Reason != DenyAlreadyCompleted {
			t.Fatalf("at %v: verdict = %+v, want ALREADY_COMPLETED denial", now, v)
		}
	}

	attempt.OverallStatus = model.AttemptStatusExpired
	v := DecideAccess(attempt, records, model.ModuleListening, policyEpoch)
	if v.Reason != DenyAlreadyCompleted {
		t.Fatalf("reason = %s, want ALREADY_COMPLETED to win over ATTEMPT_EXPIRED", v.Reason)
	}
}

func TestDecideAccessAttemptExpired(t *testing.T) {
	t.Run("status already expired", func(t *testing.T) {
		attempt := testAttempt(model.AttemptStatusExpired, false, nil)
		v := DecideAccess(attempt, nil, model.ModuleReading, policyEpoch)
		if v.Allowed || v.Reason != DenyAttemptExpired {
			t.Fatalf("verdict = %+v, want ATTEMPT_EXPIRED denial", v)
		}
		if v.Transition != TransitionNone {
			t.Fatalf("transition = %d, want none (already persisted)", v.Transition)
		}
	})

	t.Run("deadline passed", func(t *testing.T) {
		attempt := testAttempt(model.AttemptStatusInProgress, false, ts(policyEpoch.Add(-time.Minute)))
		v := DecideAccess(attempt, nil, model.ModuleReading, policyEpoch)
		if v.Allowed || v.Reason != DenyAttemptExpired {
			t.Fatalf("verdict = %+v, want ATTEMPT_EXPIRED denial", v)
		}
		if v.Transition != TransitionExpireAttempt {
			t.Fatalf("transition = %d, want expire-attempt", v.Transition)
		}
	})

	t.Run("deadline ahead", func(t *testing.T) {
		attempt := testAttempt(model.AttemptStatusNotStarted, false, ts(policyEpoch.Add(time.Hour)))
		v := DecideAccess(attempt, nil, model.ModuleReading, policyEpoch)
		if !v.Allowed {
			t.Fatalf("verdict = %+v, want allowed", v)
		}
	})
}

func TestDecideAccessSequencing(t *testing.T) {
	attempt := testAttempt(model.AttemptStatusInProgress, true, nil)

	// No listening record at all: reading is not yet eligible.
	v := DecideAccess(attempt, nil, model.ModuleReading, policyEpoch)
	if v.Allowed || v.Reason != DenyNotYetEligible {
		t.Fatalf("verdict = %+v, want NOT_YET_ELIGIBLE", v)
	}

	// Listening in progress still blocks reading.
	records := []model.ModuleRecord{
		record(attempt, model.ModuleListening, model.ModuleStatusInProgress, ts(policyEpoch.Add(-time.Minute)), nil),
	}
	v = DecideAccess(attempt, records, model.ModuleReading, policyEpoch)
	if v.Reason != DenyNotYetEligible {
		t.Fatalf("reason = %s, want NOT_YET_ELIGIBLE", v.Reason)
	}

	// Listening completed unlocks reading, but not writing (reading pending).
	records[0].Status = model.ModuleStatusCompleted
	records[0].CompletedAt = ts(policyEpoch)
	v = DecideAccess(attempt, records, model.ModuleReading, policyEpoch)
	if !v.Allowed || v.Transition != TransitionStart {
		t.Fatalf("verdict = %+v, want fresh-entry allow", v)
	}
	v = DecideAccess(attempt, records, model.ModuleWriting, policyEpoch)
	if v.Reason != DenyNotYetEligible {
		t.Fatalf("writing reason = %s, want NOT_YET_ELIGIBLE", v.Reason)
	}

	// With sequencing off, order does not matter.
	attempt.Sequential = false
	v = DecideAccess(attempt, nil, model.ModuleSpeaking, policyEpoch)
	if !v.Allowed {
		t.Fatalf("non-sequential verdict = %+v, want allowed", v)
	}
}

func TestDecideAccessFreshEntry(t *testing.T) {
	attempt := testAttempt(model.AttemptStatusNotStarted, false, nil)

	for moduleType, duration := range model.ModuleDurations {
		v := DecideAccess(attempt, nil, moduleType, policyEpoch)
		if !v.Allowed {
			t.Fatalf("%s: verdict = %+v, want allowed", moduleType, v)
		}
		if v.Remaining != duration {
			t.Fatalf("%s: remaining = %v, want full duration %v", moduleType, v.Remaining, duration)
		}
		if v.Transition != TransitionStart {
			t.Fatalf("%s: transition = %d, want start", moduleType, v.Transition)
		}
	}
}

func TestDecideAccessExpiryBoundary(t *testing.T) {
	attempt := testAttempt(model.AttemptStatusInProgress, false, nil)
	started := policyEpoch
	duration := model.ModuleDurations[model.ModuleReading]
	records := []model.ModuleRecord{
		record(attempt, model.ModuleReading, model.ModuleStatusInProgress, &started, nil),
	}

	cases := []struct {
		name      string
		now       time.Time
		allowed   bool
		remaining time.Duration
	}{
		{"just started", started, true, duration},
		{"mid-window", started.Add(duration - 100*time.Second), true, 100 * time.Second},
		{"last second", started.Add(duration - time.Second), true, time.Second},
		{"exactly at boundary", started.Add(duration), false, 0},
		{"past boundary", started.Add(duration + time.Second), false, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := DecideAccess(attempt, records, model.ModuleReading, tc.now)
			if v.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v", v.Allowed, tc.allowed)
			}
			if tc.allowed && v.Remaining != tc.remaining {
				t.Fatalf("remaining = %v, want %v", v.Remaining, tc.remaining)
			}
			if !tc.allowed {
				if v.Reason != DenyExpired {
					t.Fatalf("reason = %s, want EXPIRED", v.Reason)
				}
				if v.Transition != TransitionExpireModule {
					t.Fatalf("transition = %d, want expire-module", v.Transition)
				}
			}
		})
	}
}

func TestDecideAccessExpiredModuleStaysClosed(t *testing.T) {
	attempt := testAttempt(model.AttemptStatusInProgress, false, nil)
	records := []model.ModuleRecord{
		record(attempt, model.ModuleWriting, model.ModuleStatusExpired, ts(policyEpoch.Add(-2*time.Hour)), nil),
	}

	v := DecideAccess(attempt, records, model.ModuleWriting, policyEpoch)
	if v.Allowed || v.Reason != DenyExpired {
		t.Fatalf("verdict = %+v, want EXPIRED denial", v)
	}
	if v.Transition != TransitionNone {
		t.Fatalf("transition = %d, want none (already terminal)", v.Transition)
	}
}

// TestDecideAccessSequentialWalkthrough follows a full attempt: listening is
// taken and completed, reading opens with the full hour, drains down and
// expires one second past the window.
func TestDecideAccessSequentialWalkthrough(t *testing.T) {
	attempt := testAttempt(model.AttemptStatusInProgress, true, nil)
	readingDuration := model.ModuleDurations[model.ModuleReading]

	records := []model.ModuleRecord{
		record(attempt, model.ModuleListening, model.ModuleStatusCompleted,
			ts(policyEpoch.Add(-time.Hour)), ts(policyEpoch.Add(-30*time.Minute))),
	}

	t0 := policyEpoch
	v := DecideAccess(attempt, records, model.ModuleReading, t0)
	if !v.Allowed || v.Remaining != readingDuration || v.Transition != TransitionStart {
		t.Fatalf("fresh reading verdict = %+v", v)
	}

	records = append(records, record(attempt, model.ModuleReading, model.ModuleStatusInProgress, &t0, nil))

	v = DecideAccess(attempt, records, model.ModuleReading, t0.Add(readingDuration-100*time.Second))
	if !v.Allowed || v.Remaining != 100*time.Second {
		t.Fatalf("late reading verdict = %+v, want 100s left", v)
	}

	v = DecideAccess(attempt, records, model.ModuleReading, t0.Add(readingDuration+time.Second))
	if v.Allowed || v.Reason != DenyExpired {
		t.Fatalf("overrun reading verdict = %+v, want EXPIRED", v)
	}
}

func TestRedirectHint(t *testing.T) {
	cases := map[DenyReason]string{
		DenyAlreadyCompleted: "/summary",
		DenyExpired:          "/summary",
		DenyAttemptExpired:   "/summary",
		DenyNotYetEligible:   "/lobby",
		DenyUnknownModule:    "/lobby",
	}
	for reason, want := range cases {
		if got := RedirectHint(reason); got != want {
			t.Errorf("RedirectHint(%s) = %s, want %s", reason, got, want)
		}
	}
}

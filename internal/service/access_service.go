package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bandscale/bandscale-backend/internal/config"
	"github.com/bandscale/bandscale-backend/internal/model"
)

// Service-level errors. Identity errors are deliberately distinct from policy
// denials: they are surfaced to the caller as a generic "access denied" but
// logged with elevated severity, and they must never be mistaken for a
// terminal policy outcome.
var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrForbidden        = errors.New("attempt is not owned by this student")
	ErrModuleNotStarted = errors.New("module has not been started")
	// ErrStoreUnavailable marks a transient infrastructure failure. Safe to
	// retry; never conflate with EXPIRED or ALREADY_COMPLETED.
	ErrStoreUnavailable = errors.New("attempt store unavailable")
)

const (
	storeRetryAttempts  = 3
	storeRetryBaseDelay = 100 * time.Millisecond

	// decideRetryLimit bounds the read-decide-write loop. A lost
	// compare-and-set re-reads and re-decides; two rounds always converge
	// because the loser observes the winner's terminal or IN_PROGRESS state.
	decideRetryLimit = 3
)

// AttemptStore is the durable store interface the validation service runs
// against. All mutations are single-record atomic compare-and-set operations;
// Now() is the store's trusted clock.
type AttemptStore interface {
	Now(ctx context.Context) (time.Time, error)
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error)
	GetOrCreateModuleRecord(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, error)
	GetModuleRecord(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, error)
	ListModuleRecords(ctx context.Context, attemptID uuid.UUID) ([]model.ModuleRecord, error)
	StartModule(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, bool, error)
	CompleteModule(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, bool, error)
	ExpireModule(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (bool, error)
	ExpireAttempt(ctx context.Context, attemptID uuid.UUID) (bool, error)
	MarkAttemptInProgress(ctx context.Context, attemptID uuid.UUID) error
	CompleteAttemptIfFinished(ctx context.Context, attemptID uuid.UUID) (bool, error)
}

// ValidationResult is the structured verdict returned to callers. StartedAt
// and RemainingSeconds come from persisted server state so the UI can render
// a countdown without trusting its own clock.
type ValidationResult struct {
	Allowed          bool       `json:"allowed"`
	Reason           DenyReason `json:"reason,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	RedirectHint     string     `json:"redirect_hint,omitempty"`
}

// CompleteResult is the outcome of a module submission.
type CompleteResult struct {
	Completed    bool       `json:"completed"`
	Reason       DenyReason `json:"reason,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	RedirectHint string     `json:"redirect_hint,omitempty"`
}

// ModuleState is the advisory state projection used by the client mirror.
// Never authoritative: a countdown reaching zero client-side only prompts a
// re-validation.
type ModuleState struct {
	ModuleType       model.ModuleType   `json:"module_type"`
	Status           model.ModuleStatus `json:"status"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	RemainingSeconds int64              `json:"remaining_seconds"`
}

// AccessService is the single authority deciding whether a student may enter,
// resume or submit an exam module. Every check is a read-decide-write pass
// against the Attempt Store; concurrency is serialized by the store's
// conditional updates, not by in-process locks.
type AccessService struct {
	store        AttemptStore
	rdb          *redis.Client // nil disables advisory caching and audit queueing
	log          zerolog.Logger
	storeTimeout time.Duration
}

// NewAccessService creates a new AccessService.
func NewAccessService(store AttemptStore, rdb *redis.Client, log zerolog.Logger, storeTimeout time.Duration) *AccessService {
	return &AccessService{
		store:        store,
		rdb:          rdb,
		log:          log.With().Str("component", "access_service").Logger(),
		storeTimeout: storeTimeout,
	}
}

// ValidateAccess decides whether the student may enter the module right now
// and, on first entry, stamps started_at. Idempotent and safe under
// concurrent calls for the same (attempt, module): exactly one caller applies
// the start transition, all callers observe consistent remaining time.
func (s *AccessService) ValidateAccess(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType, studentID int) (*ValidationResult, error) {
	attempt, err := s.loadOwnedAttempt(ctx, attemptID, studentID, string(moduleType))
	if err != nil {
		return nil, err
	}

	if !moduleType.Valid() {
		s.auditDenial(ctx, attemptID, studentID, string(moduleType), DenyUnknownModule)
		return deniedResult(DenyUnknownModule), nil
	}

	// Lazy idempotent creation: concurrent first requests race on the
	// primary key and converge on one row.
	if err := s.withRetry(ctx, func(c context.Context) error {
		_, e := s.store.GetOrCreateModuleRecord(c, attemptID, moduleType)
		return e
	}); err != nil {
		return nil, err
	}

	for i := 0; i < decideRetryLimit; i++ {
		var records []model.ModuleRecord
		if err := s.withRetry(ctx, func(c context.Context) error {
			var e error
			records, e = s.store.ListModuleRecords(c, attemptID)
			return e
		}); err != nil {
			return nil, err
		}

		now, err := s.storeNow(ctx)
		if err != nil {
			return nil, err
		}

		verdict := DecideAccess(attempt, records, moduleType, now)

		switch verdict.Transition {
		case TransitionStart:
			var rec *model.ModuleRecord
			var applied bool
			if err := s.withRetry(ctx, func(c context.Context) error {
				var e error
				rec, applied, e = s.store.StartModule(c, attemptID, moduleType)
				return e
			}); err != nil {
				return nil, err
			}
			if !applied {
				// A concurrent request started (or finished) the module
				// between our read and our write. Re-read and re-decide.
				continue
			}
			if err := s.store.MarkAttemptInProgress(ctx, attemptID); err != nil {
				s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to mark attempt in progress")
			}
			s.cacheStartedAt(ctx, attemptID, moduleType, *rec.StartedAt)
			s.log.Info().
				Str("attempt_id", attemptID.String()).
				Str("module", string(moduleType)).
				Time("started_at", *rec.StartedAt).
				Msg("Module started")
			return &ValidationResult{
				Allowed:          true,
				RemainingSeconds: int64(verdict.Remaining / time.Second),
				StartedAt:        rec.StartedAt,
			}, nil

		case TransitionExpireModule:
			if err := s.withRetry(ctx, func(c context.Context) error {
				_, e := s.store.ExpireModule(c, attemptID, moduleType)
				return e
			}); err != nil {
				return nil, err
			}
			s.auditDenial(ctx, attemptID, studentID, string(moduleType), verdict.Reason)
			return deniedResult(verdict.Reason), nil

		case TransitionExpireAttempt:
			if err := s.withRetry(ctx, func(c context.Context) error {
				_, e := s.store.ExpireAttempt(c, attemptID)
				return e
			}); err != nil {
				return nil, err
			}
			s.auditDenial(ctx, attemptID, studentID, string(moduleType), verdict.Reason)
			return deniedResult(verdict.Reason), nil

		default:
			if !verdict.Allowed {
				s.auditDenial(ctx, attemptID, studentID, string(moduleType), verdict.Reason)
				return deniedResult(verdict.Reason), nil
			}
			rec := findRecord(records, moduleType)
			return &ValidationResult{
				Allowed:          true,
				RemainingSeconds: int64(verdict.Remaining / time.Second),
				StartedAt:        rec.StartedAt,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: decide loop did not converge", ErrStoreUnavailable)
}

// CompleteModule submits a module. Valid only from IN_PROGRESS; a repeated
// submission observing COMPLETED succeeds without touching completed_at
// (the desired end state already holds). Submissions past the time window
// expire the module instead.
func (s *AccessService) CompleteModule(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType, studentID int) (*CompleteResult, error) {
	if _, err := s.loadOwnedAttempt(ctx, attemptID, studentID, string(moduleType)); err != nil {
		return nil, err
	}

	if !moduleType.Valid() {
		s.auditDenial(ctx, attemptID, studentID, string(moduleType), DenyUnknownModule)
		return &CompleteResult{Reason: DenyUnknownModule, RedirectHint: RedirectHint(DenyUnknownModule)}, nil
	}

	rec, err := s.loadModuleRecord(ctx, attemptID, moduleType)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case model.ModuleStatusCompleted:
		// Idempotent double submission.
		return &CompleteResult{Completed: true, CompletedAt: rec.CompletedAt}, nil
	case model.ModuleStatusNotStarted:
		return nil, ErrModuleNotStarted
	case model.ModuleStatusExpired:
		s.auditDenial(ctx, attemptID, studentID, string(moduleType), DenyExpired)
		return &CompleteResult{Reason: DenyExpired, RedirectHint: RedirectHint(DenyExpired)}, nil
	}

	// IN_PROGRESS: the submission must land inside the window, judged by the
	// store clock.
	now, err := s.storeNow(ctx)
	if err != nil {
		return nil, err
	}
	if now.Sub(*rec.StartedAt) >= rec.AllowedDuration() {
		if err := s.withRetry(ctx, func(c context.Context) error {
			_, e := s.store.ExpireModule(c, attemptID, moduleType)
			return e
		}); err != nil {
			return nil, err
		}
		s.auditDenial(ctx, attemptID, studentID, string(moduleType), DenyExpired)
		return &CompleteResult{Reason: DenyExpired, RedirectHint: RedirectHint(DenyExpired)}, nil
	}

	var completed *model.ModuleRecord
	var applied bool
	if err := s.withRetry(ctx, func(c context.Context) error {
		var e error
		completed, applied, e = s.store.CompleteModule(c, attemptID, moduleType)
		return e
	}); err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race: re-read and honor whichever terminal state won.
		rec, err := s.loadModuleRecord(ctx, attemptID, moduleType)
		if err != nil {
			return nil, err
		}
		if rec.Status == model.ModuleStatusCompleted {
			return &CompleteResult{Completed: true, CompletedAt: rec.CompletedAt}, nil
		}
		s.auditDenial(ctx, attemptID, studentID, string(moduleType), DenyExpired)
		return &CompleteResult{Reason: DenyExpired, RedirectHint: RedirectHint(DenyExpired)}, nil
	}

	if _, err := s.store.CompleteAttemptIfFinished(ctx, attemptID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to roll up attempt completion")
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("module", string(moduleType)).
		Time("completed_at", *completed.CompletedAt).
		Msg("Module completed")

	return &CompleteResult{Completed: true, CompletedAt: completed.CompletedAt}, nil
}

// GetModuleState returns the advisory projection for the client mirror.
// Read-only: it never applies transitions, and it prefers the Redis
// started_at mirror with a self-healing fallback to the store.
func (s *AccessService) GetModuleState(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType, studentID int) (*ModuleState, error) {
	if _, err := s.loadOwnedAttempt(ctx, attemptID, studentID, string(moduleType)); err != nil {
		return nil, err
	}
	if !moduleType.Valid() {
		return nil, ErrModuleNotStarted
	}

	rec, err := s.store.GetModuleRecord(ctx, attemptID, moduleType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &ModuleState{
				ModuleType:       moduleType,
				Status:           model.ModuleStatusNotStarted,
				RemainingSeconds: int64(model.ModuleDurations[moduleType] / time.Second),
			}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	state := &ModuleState{ModuleType: moduleType, Status: rec.Status, StartedAt: rec.StartedAt}

	switch rec.Status {
	case model.ModuleStatusNotStarted:
		state.RemainingSeconds = int64(rec.AllowedDuration() / time.Second)
	case model.ModuleStatusInProgress:
		startedAt := s.lookupStartedAt(ctx, attemptID, moduleType, rec)
		now, err := s.storeNow(ctx)
		if err != nil {
			return nil, err
		}
		remaining := rec.AllowedDuration() - now.Sub(startedAt)
		if remaining < 0 {
			remaining = 0
		}
		state.RemainingSeconds = int64(remaining / time.Second)
	}

	return state, nil
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

// loadOwnedAttempt resolves the attempt and verifies ownership. Both failure
// modes surface to callers as generic errors but are logged distinctly for
// security auditing.
func (s *AccessService) loadOwnedAttempt(ctx context.Context, attemptID uuid.UUID, studentID int, module string) (*model.Attempt, error) {
	var attempt *model.Attempt
	err := s.withRetry(ctx, func(c context.Context) error {
		var e error
		attempt, e = s.store.GetAttempt(c, attemptID)
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.log.Error().
				Str("attempt_id", attemptID.String()).
				Int("student_id", studentID).
				Str("module", module).
				Msg("Access check against unknown attempt")
			s.queueAudit(ctx, attemptID, studentID, module, "ATTEMPT_NOT_FOUND")
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	if attempt.StudentID != studentID {
		s.log.Error().
			Str("attempt_id", attemptID.String()).
			Int("student_id", studentID).
			Int("owner_id", attempt.StudentID).
			Str("module", module).
			Msg("Access check by non-owner")
		s.queueAudit(ctx, attemptID, studentID, module, "FORBIDDEN")
		return nil, ErrForbidden
	}
	return attempt, nil
}

func (s *AccessService) loadModuleRecord(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, error) {
	var rec *model.ModuleRecord
	err := s.withRetry(ctx, func(c context.Context) error {
		var e error
		rec, e = s.store.GetModuleRecord(c, attemptID, moduleType)
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrModuleNotStarted
		}
		return nil, err
	}
	return rec, nil
}

func (s *AccessService) storeNow(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := s.withRetry(ctx, func(c context.Context) error {
		var e error
		now, e = s.store.Now(c)
		return e
	})
	return now, err
}

// withRetry runs one store operation with a bounded timeout, retrying
// transient failures with exponential backoff. pgx.ErrNoRows is a definitive
// answer, not a failure, and is returned immediately. Exhausted retries wrap
// ErrStoreUnavailable so callers never confuse an outage with a policy
// denial.
func (s *AccessService) withRetry(ctx context.Context, op func(context.Context) error) error {
	delay := storeRetryBaseDelay
	var err error
	for attempt := 0; attempt < storeRetryAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		err = op(opCtx)
		cancel()
		if err == nil || errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// auditDenial logs a policy denial and queues it for persistence. Denials are
// expected outcomes; repeated ones are the signature of a re-entry attempt.
func (s *AccessService) auditDenial(ctx context.Context, attemptID uuid.UUID, studentID int, module string, reason DenyReason) {
	s.log.Warn().
		Str("attempt_id", attemptID.String()).
		Int("student_id", studentID).
		Str("module", module).
		Str("reason", string(reason)).
		Msg("Module access denied")
	s.queueAudit(ctx, attemptID, studentID, module, string(reason))
}

// queueAudit pushes an audit event onto the Redis queue drained by the audit
// worker. Best-effort: a full or unavailable queue must not fail the access
// check itself.
func (s *AccessService) queueAudit(ctx context.Context, attemptID uuid.UUID, studentID int, module, reason string) {
	if s.rdb == nil {
		return
	}
	event := model.AccessAuditEvent{
		AttemptID:  attemptID,
		StudentID:  studentID,
		ModuleType: module,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.AccessAuditQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to queue audit event")
	}
}

// cacheStartedAt mirrors the persisted start timestamp into Redis so the
// advisory state endpoint can answer without hitting PostgreSQL.
func (s *AccessService) cacheStartedAt(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType, startedAt time.Time) {
	if s.rdb == nil {
		return
	}
	key := config.CacheKey.ModuleStartKey(attemptID.String(), string(moduleType))
	if err := s.rdb.Set(ctx, key, startedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache start time")
	}
}

// lookupStartedAt reads the cached start timestamp, falling back to the
// record (the source of truth) and self-healing the cache on a miss.
func (s *AccessService) lookupStartedAt(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType, rec *model.ModuleRecord) time.Time {
	if s.rdb == nil {
		return *rec.StartedAt
	}
	key := config.CacheKey.ModuleStartKey(attemptID.String(), string(moduleType))
	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			_ = s.rdb.Set(ctx, key, rec.StartedAt.Unix(), 0)
		}
		return *rec.StartedAt
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return *rec.StartedAt
	}
	return time.Unix(unix, 0)
}

func deniedResult(reason DenyReason) *ValidationResult {
	return &ValidationResult{
		Allowed:      false,
		Reason:       reason,
		RedirectHint: RedirectHint(reason),
	}
}

func findRecord(records []model.ModuleRecord, moduleType model.ModuleType) *model.ModuleRecord {
	for i := range records {
		if records[i].ModuleType == moduleType {
			return &records[i]
		}
	}
	return nil
}

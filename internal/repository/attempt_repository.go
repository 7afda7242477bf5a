package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bandscale/bandscale-backend/internal/model"
)

const moduleColumns = `attempt_id, module_type, status, started_at, completed_at, created_at, updated_at`

// AttemptRepository is the durable Attempt Store: the single source of truth
// for attempt/module state and timestamps. Every mutation is a single-row
// conditional UPDATE so concurrent callers serialize on the database, not on
// in-process locks.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Now returns the store's clock. All expiry comparisons use this value —
// never a client-supplied timestamp — so skewed or tampered client clocks
// cannot move a window.
func (r *AttemptRepository) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := r.pool.QueryRow(ctx, `SELECT now()`).Scan(&now)
	return now, err
}

// GetAttempt retrieves an attempt by ID.
func (r *AttemptRepository) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, student_id, overall_status, sequential, overall_deadline, created_at, updated_at
		 FROM attempts WHERE id = $1`, attemptID,
	).Scan(&a.ID, &a.TestID, &a.StudentID, &a.OverallStatus, &a.Sequential, &a.OverallDeadline, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateAttempt inserts a new attempt (enrollment). Idempotent per
// (test, student): a concurrent or repeated enrollment returns the existing
// row unchanged.
func (r *AttemptRepository) CreateAttempt(ctx context.Context, a *model.Attempt) (*model.Attempt, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (test_id, student_id, overall_status, sequential, overall_deadline)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (test_id, student_id) DO NOTHING`,
		a.TestID, a.StudentID, model.AttemptStatusNotStarted, a.Sequential, a.OverallDeadline)
	if err != nil {
		return nil, err
	}
	return r.GetByTestAndStudent(ctx, a.TestID, a.StudentID)
}

// GetByTestAndStudent retrieves the attempt for a test-student combination.
func (r *AttemptRepository) GetByTestAndStudent(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, student_id, overall_status, sequential, overall_deadline, created_at, updated_at
		 FROM attempts WHERE test_id = $1 AND student_id = $2`, testID, studentID,
	).Scan(&a.ID, &a.TestID, &a.StudentID, &a.OverallStatus, &a.Sequential, &a.OverallDeadline, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByStudent retrieves all attempts for a student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, student_id, overall_status, sequential, overall_deadline, created_at, updated_at
		 FROM attempts WHERE student_id = $1 ORDER BY created_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.TestID, &a.StudentID, &a.OverallStatus, &a.Sequential, &a.OverallDeadline, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// GetOrCreateModuleRecord lazily creates the module record on first access.
// The (attempt_id, module_type) primary key makes creation idempotent under
// concurrent first requests: both INSERTs race, one wins, both read the same
// row back.
func (r *AttemptRepository) GetOrCreateModuleRecord(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO module_records (attempt_id, module_type, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (attempt_id, module_type) DO NOTHING`,
		attemptID, moduleType, model.ModuleStatusNotStarted)
	if err != nil {
		return nil, err
	}
	return r.GetModuleRecord(ctx, attemptID, moduleType)
}

// GetModuleRecord retrieves one module record.
func (r *AttemptRepository) GetModuleRecord(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, error) {
	m := &model.ModuleRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+moduleColumns+` FROM module_records
		 WHERE attempt_id = $1 AND module_type = $2`, attemptID, moduleType,
	).Scan(&m.AttemptID, &m.ModuleType, &m.Status, &m.StartedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListModuleRecords retrieves all module records of an attempt.
func (r *AttemptRepository) ListModuleRecords(ctx context.Context, attemptID uuid.UUID) ([]model.ModuleRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+moduleColumns+` FROM module_records WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ModuleRecord
	for rows.Next() {
		var m model.ModuleRecord
		if err := rows.Scan(&m.AttemptID, &m.ModuleType, &m.Status, &m.StartedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, m)
	}
	return records, rows.Err()
}

// StartModule stamps started_at and moves NOT_STARTED → IN_PROGRESS in one
// compare-and-set. Exactly one of N concurrent callers gets applied=true;
// started_at is set once and never reset.
func (r *AttemptRepository) StartModule(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, bool, error) {
	m := &model.ModuleRecord{}
	err := r.pool.QueryRow(ctx,
		`UPDATE module_records
		 SET status = $3, started_at = now(), updated_at = now()
		 WHERE attempt_id = $1 AND module_type = $2 AND status = $4
		 RETURNING `+moduleColumns,
		attemptID, moduleType, model.ModuleStatusInProgress, model.ModuleStatusNotStarted,
	).Scan(&m.AttemptID, &m.ModuleType, &m.Status, &m.StartedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			// Lost the race or the record left NOT_STARTED already.
			return nil, false, nil
		}
		return nil, false, err
	}
	return m, true, nil
}

// CompleteModule moves IN_PROGRESS → COMPLETED and stamps completed_at.
// A concurrent double-submission loses the compare-and-set and gets
// applied=false; the caller re-reads and treats COMPLETED as success.
func (r *AttemptRepository) CompleteModule(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (*model.ModuleRecord, bool, error) {
	m := &model.ModuleRecord{}
	err := r.pool.QueryRow(ctx,
		`UPDATE module_records
		 SET status = $3, completed_at = now(), updated_at = now()
		 WHERE attempt_id = $1 AND module_type = $2 AND status = $4
		 RETURNING `+moduleColumns,
		attemptID, moduleType, model.ModuleStatusCompleted, model.ModuleStatusInProgress,
	).Scan(&m.AttemptID, &m.ModuleType, &m.Status, &m.StartedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return m, true, nil
}

// ExpireModule moves IN_PROGRESS → EXPIRED. Applied at most once; callers
// racing on the boundary crossing all converge on the same terminal state.
func (r *AttemptRepository) ExpireModule(ctx context.Context, attemptID uuid.UUID, moduleType model.ModuleType) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE module_records
		 SET status = $3, updated_at = now()
		 WHERE attempt_id = $1 AND module_type = $2 AND status = $4`,
		attemptID, moduleType, model.ModuleStatusExpired, model.ModuleStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAttemptInProgress moves the attempt NOT_STARTED → IN_PROGRESS when the
// first module starts. No-op if already past that state.
func (r *AttemptRepository) MarkAttemptInProgress(ctx context.Context, attemptID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts SET overall_status = $2, updated_at = now()
		 WHERE id = $1 AND overall_status = $3`,
		attemptID, model.AttemptStatusInProgress, model.AttemptStatusNotStarted)
	return err
}

// ExpireAttempt moves a non-terminal attempt to EXPIRED.
func (r *AttemptRepository) ExpireAttempt(ctx context.Context, attemptID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET overall_status = $2, updated_at = now()
		 WHERE id = $1 AND overall_status IN ($3, $4)`,
		attemptID, model.AttemptStatusExpired, model.AttemptStatusNotStarted, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteAttemptIfFinished moves the attempt to COMPLETED once every
// required module is COMPLETED. The NOT EXISTS guard plus the required-count
// check make it safe to call after each module submission.
func (r *AttemptRepository) CompleteAttemptIfFinished(ctx context.Context, attemptID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET overall_status = $2, updated_at = now()
		 WHERE id = $1 AND overall_status = $3
		   AND NOT EXISTS (
		     SELECT 1 FROM module_records mr
		     WHERE mr.attempt_id = $1 AND mr.status <> $4
		   )
		   AND (SELECT count(*) FROM module_records WHERE attempt_id = $1) = $5`,
		attemptID, model.AttemptStatusCompleted, model.AttemptStatusInProgress,
		model.ModuleStatusCompleted, len(model.ModuleOrder))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// InsertAuditEvents batch-inserts denial audit rows. Used by the audit worker.
func (r *AttemptRepository) InsertAuditEvents(ctx context.Context, events []model.AccessAuditEvent) error {
	for _, e := range events {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO access_audit (attempt_id, student_id, module_type, reason, occurred_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.AttemptID, e.StudentID, e.ModuleType, e.Reason, e.OccurredAt); err != nil {
			return err
		}
	}
	return nil
}

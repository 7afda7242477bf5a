package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bandscale/bandscale-backend/internal/model"
)

const testColumns = `id, title, center_id, sequential, status, created_at, updated_at`

// TestRepository handles mock test definition data access.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetByID retrieves a mock test by ID.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.MockTest, error) {
	t := &model.MockTest{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+testColumns+` FROM mock_tests WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.CenterID, &t.Sequential, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListByCenter retrieves all mock tests for a center, newest first.
func (r *TestRepository) ListByCenter(ctx context.Context, centerID int) ([]model.MockTest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+testColumns+` FROM mock_tests WHERE center_id = $1 ORDER BY created_at DESC`, centerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTests(rows)
}

// List retrieves all mock tests, newest first.
func (r *TestRepository) List(ctx context.Context) ([]model.MockTest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+testColumns+` FROM mock_tests ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTests(rows)
}

// Create inserts a new mock test in DRAFT status.
func (r *TestRepository) Create(ctx context.Context, t *model.MockTest) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO mock_tests (title, center_id, sequential, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		t.Title, t.CenterID, t.Sequential, model.TestStatusDraft,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// Update modifies title and sequencing of an existing test.
func (r *TestRepository) Update(ctx context.Context, t *model.MockTest) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE mock_tests SET title = $2, sequential = $3, updated_at = now() WHERE id = $1`,
		t.ID, t.Title, t.Sequential)
	return err
}

// SetStatus transitions a test's publication status.
func (r *TestRepository) SetStatus(ctx context.Context, id uuid.UUID, status model.TestStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE mock_tests SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

// AttemptResult combines a student with their attempt and per-module statuses
// for the admin results listing.
type AttemptResult struct {
	AttemptID     uuid.UUID            `json:"attempt_id"`
	StudentID     int                  `json:"student_id"`
	StudentName   string               `json:"student_name"`
	StudentEmail  string               `json:"student_email"`
	OverallStatus model.AttemptStatus  `json:"overall_status"`
	CreatedAt     time.Time            `json:"created_at"`
	Modules       []model.ModuleRecord `json:"modules"`
}

// ListAttempts retrieves all attempts for a test with student info and module
// records attached.
func (r *TestRepository) ListAttempts(ctx context.Context, testID uuid.UUID) ([]AttemptResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, s.id, s.name, s.email, a.overall_status, a.created_at
		 FROM attempts a
		 JOIN students s ON a.student_id = s.id
		 WHERE a.test_id = $1
		 ORDER BY s.name`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AttemptResult
	for rows.Next() {
		var res AttemptResult
		if err := rows.Scan(&res.AttemptID, &res.StudentID, &res.StudentName, &res.StudentEmail, &res.OverallStatus, &res.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		mods, err := r.pool.Query(ctx,
			`SELECT `+moduleColumns+` FROM module_records WHERE attempt_id = $1`, results[i].AttemptID)
		if err != nil {
			return nil, err
		}
		for mods.Next() {
			var m model.ModuleRecord
			if err := mods.Scan(&m.AttemptID, &m.ModuleType, &m.Status, &m.StartedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
				mods.Close()
				return nil, err
			}
			results[i].Modules = append(results[i].Modules, m)
		}
		mods.Close()
		if err := mods.Err(); err != nil {
			return nil, err
		}
	}

	return results, nil
}

func scanTests(rows pgx.Rows) ([]model.MockTest, error) {
	var tests []model.MockTest
	for rows.Next() {
		var t model.MockTest
		if err := rows.Scan(&t.ID, &t.Title, &t.CenterID, &t.Sequential, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

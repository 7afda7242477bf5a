package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bandscale/bandscale-backend/internal/model"
)

const centerColumns = `id, name, slug, timezone, opens_at, closes_at, created_at, updated_at`

// CenterRepository handles test center data access.
type CenterRepository struct {
	pool *pgxpool.Pool
}

// NewCenterRepository creates a new CenterRepository.
func NewCenterRepository(pool *pgxpool.Pool) *CenterRepository {
	return &CenterRepository{pool: pool}
}

// GetByID retrieves a center by ID.
func (r *CenterRepository) GetByID(ctx context.Context, id int) (*model.Center, error) {
	c := &model.Center{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+centerColumns+` FROM centers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Slug, &c.Timezone, &c.OpensAt, &c.ClosesAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetBySlug retrieves a center by its unique slug.
func (r *CenterRepository) GetBySlug(ctx context.Context, slug string) (*model.Center, error) {
	c := &model.Center{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+centerColumns+` FROM centers WHERE slug = $1`, slug,
	).Scan(&c.ID, &c.Name, &c.Slug, &c.Timezone, &c.OpensAt, &c.ClosesAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List retrieves all centers ordered by name.
func (r *CenterRepository) List(ctx context.Context) ([]model.Center, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+centerColumns+` FROM centers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var centers []model.Center
	for rows.Next() {
		var c model.Center
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Timezone, &c.OpensAt, &c.ClosesAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		centers = append(centers, c)
	}
	return centers, rows.Err()
}

// Create inserts a new center.
func (r *CenterRepository) Create(ctx context.Context, c *model.Center) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO centers (name, slug, timezone, opens_at, closes_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		c.Name, c.Slug, c.Timezone, c.OpensAt, c.ClosesAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// Update modifies an existing center.
func (r *CenterRepository) Update(ctx context.Context, c *model.Center) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE centers SET name = $2, timezone = $3, opens_at = $4, closes_at = $5, updated_at = now()
		 WHERE id = $1`,
		c.ID, c.Name, c.Timezone, c.OpensAt, c.ClosesAt)
	return err
}

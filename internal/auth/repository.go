package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseboard/signage/internal/models"
)

// Repository handles operator account persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns an operator by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Operator, error) {
	const q = `SELECT id, email, password_hash, full_name, role, created_at, updated_at
		FROM operators WHERE id = $1`
	var o models.Operator
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&o.ID, &o.Email, &o.Password, &o.FullName, &o.Role, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetByEmail returns an operator by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Operator, error) {
	const q = `SELECT id, email, password_hash, full_name, role, created_at, updated_at
		FROM operators WHERE email = $1`
	var o models.Operator
	err := r.pool.QueryRow(ctx, q, email).
		Scan(&o.ID, &o.Email, &o.Password, &o.FullName, &o.Role, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// List returns all operator accounts.
func (r *Repository) List(ctx context.Context) ([]models.OperatorPublic, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, email, full_name, role, created_at FROM operators ORDER BY full_name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.OperatorPublic
	for rows.Next() {
		var o models.OperatorPublic
		if err := rows.Scan(&o.ID, &o.Email, &o.FullName, &o.Role, &o.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// Create inserts a new operator account.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string, role models.Role) (*models.Operator, error) {
	const q = `INSERT INTO operators (email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, password_hash, full_name, role, created_at, updated_at`
	var o models.Operator
	err := r.pool.QueryRow(ctx, q, email, passwordHash, fullName, string(role)).
		Scan(&o.ID, &o.Email, &o.Password, &o.FullName, &o.Role, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

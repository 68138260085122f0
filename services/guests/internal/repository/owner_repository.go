package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aetherhome/aether/services/guests/internal/domain"
)

type OwnerRepository interface {
	Create(ctx context.Context, o *domain.Owner) (*domain.Owner, error)
	FindByEmail(ctx context.Context, email string) (*domain.Owner, error)
	FindByID(ctx context.Context, id int64) (*domain.Owner, error)
	HouseIDExists(ctx context.Context, houseID string) (bool, error)
}

type ownerRepository struct {
	pool *pgxpool.Pool
}

func NewOwnerRepository(pool *pgxpool.Pool) OwnerRepository {
	return &ownerRepository{pool: pool}
}

const ownerCols = `id, email, first_name, password_hash, plan_type, house_id, created_at`

func scanOwner(row interface{ Scan(...any) error }) (*domain.Owner, error) {
	var o domain.Owner
	err := row.Scan(&o.ID, &o.Email, &o.FirstName, &o.PasswordHash, &o.PlanType, &o.HouseID, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *ownerRepository) Create(ctx context.Context, o *domain.Owner) (*domain.Owner, error) {
	const q = `
		INSERT INTO owners (email, first_name, password_hash, plan_type, house_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + ownerCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	created, err := scanOwner(r.pool.QueryRow(ctx, q, o.Email, o.FirstName, o.PasswordHash, o.PlanType, o.HouseID))
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	return created, err
}

// FindByEmail returns nil, nil when no owner has the email.
func (r *ownerRepository) FindByEmail(ctx context.Context, email string) (*domain.Owner, error) {
	const q = `SELECT ` + ownerCols + ` FROM owners WHERE email = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	o, err := scanOwner(r.pool.QueryRow(ctx, q, email))
	if isNoRows(err) {
		return nil, nil
	}
	return o, err
}

func (r *ownerRepository) FindByID(ctx context.Context, id int64) (*domain.Owner, error) {
	const q = `SELECT ` + ownerCols + ` FROM owners WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	o, err := scanOwner(r.pool.QueryRow(ctx, q, id))
	if isNoRows(err) {
		return nil, nil
	}
	return o, err
}

func (r *ownerRepository) HouseIDExists(ctx context.Context, houseID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM owners WHERE house_id = $1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, q, houseID).Scan(&exists)
	return exists, err
}

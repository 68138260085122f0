package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aetherhome/aether/services/guests/internal/domain"
)

type GuestRepository interface {
	// CreateDraft stores an unverified guest together with its rooms.
	CreateDraft(ctx context.Context, g *domain.Guest) (*domain.Guest, error)
	FindByID(ctx context.Context, ownerID, id int64) (*domain.Guest, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	CountByOwner(ctx context.Context, ownerID int64) (int, error)
	// ListByOwner filters on verified when it is non-nil.
	ListByOwner(ctx context.Context, ownerID int64, verified *bool) ([]domain.Guest, error)
	// DeleteUnverified reports false when the guest exists but is verified.
	DeleteUnverified(ctx context.Context, ownerID, id int64) (bool, error)
	// Redeem marks the matching unverified, not yet departed guest as
	// verified and returns it; nil, nil when nothing matches.
	Redeem(ctx context.Context, houseID, code string, today time.Time) (*domain.Guest, error)
	DeleteStaleUnverified(ctx context.Context, createdBefore time.Time) ([]domain.Guest, error)
}

type guestRepository struct {
	pool *pgxpool.Pool
}

func NewGuestRepository(pool *pgxpool.Pool) GuestRepository {
	return &guestRepository{pool: pool}
}

const guestCols = `g.id, g.owner_id, g.full_name, g.house_id, g.access_code, g.departure_date, g.verified, g.created_at, g.verified_at`

func scanGuest(row interface{ Scan(...any) error }, extra ...any) (*domain.Guest, error) {
	var g domain.Guest
	dest := []any{&g.ID, &g.OwnerID, &g.FullName, &g.HouseID, &g.AccessCode, &g.DepartureDate, &g.Verified, &g.CreatedAt, &g.VerifiedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *guestRepository) CreateDraft(ctx context.Context, g *domain.Guest) (*domain.Guest, error) {
	const insertGuest = `
		INSERT INTO guests AS g (owner_id, full_name, house_id, access_code, departure_date, verified)
		VALUES ($1, $2, $3, $4, $5, false)
		RETURNING ` + guestCols
	const insertRooms = `
		INSERT INTO guest_rooms (guest_id, room_id)
		SELECT $1, unnest($2::bigint[])`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var created *domain.Guest
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		created, err = scanGuest(tx.QueryRow(ctx, insertGuest, g.OwnerID, g.FullName, g.HouseID, g.AccessCode, g.DepartureDate))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertRooms, created.ID, g.RoomIDs)
		return err
	})
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	created.RoomIDs = g.RoomIDs
	return created, nil
}

// FindByID returns nil, nil when the owner has no such guest.
func (r *guestRepository) FindByID(ctx context.Context, ownerID, id int64) (*domain.Guest, error) {
	const q = `SELECT ` + guestCols + ` FROM guests g WHERE g.owner_id = $1 AND g.id = $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	g, err := scanGuest(r.pool.QueryRow(ctx, q, ownerID, id))
	if isNoRows(err) {
		return nil, nil
	}
	return g, err
}

func (r *guestRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM guests WHERE access_code = $1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, q, code).Scan(&exists)
	return exists, err
}

func (r *guestRepository) CountByOwner(ctx context.Context, ownerID int64) (int, error) {
	const q = `SELECT count(*) FROM guests WHERE owner_id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int
	err := r.pool.QueryRow(ctx, q, ownerID).Scan(&n)
	return n, err
}

func (r *guestRepository) ListByOwner(ctx context.Context, ownerID int64, verified *bool) ([]domain.Guest, error) {
	const q = `
		SELECT ` + guestCols + `,
			COALESCE(array_agg(rm.name ORDER BY rm.name) FILTER (WHERE rm.id IS NOT NULL), '{}')
		FROM guests g
		LEFT JOIN guest_rooms gr ON gr.guest_id = g.id
		LEFT JOIN rooms rm ON rm.id = gr.room_id
		WHERE g.owner_id = $1 AND ($2::boolean IS NULL OR g.verified = $2)
		GROUP BY g.id
		ORDER BY g.created_at DESC`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, ownerID, verified)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guests []domain.Guest
	for rows.Next() {
		var names []string
		g, err := scanGuest(rows, &names)
		if err != nil {
			return nil, err
		}
		g.RoomNames = names
		guests = append(guests, *g)
	}
	return guests, rows.Err()
}

func (r *guestRepository) DeleteUnverified(ctx context.Context, ownerID, id int64) (bool, error) {
	const q = `DELETE FROM guests WHERE owner_id = $1 AND id = $2 AND NOT verified`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, ownerID, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *guestRepository) Redeem(ctx context.Context, houseID, code string, today time.Time) (*domain.Guest, error) {
	const q = `
		UPDATE guests AS g
		SET verified = true, verified_at = now()
		WHERE g.house_id = $1 AND g.access_code = $2 AND NOT g.verified AND g.departure_date >= $3::date
		RETURNING ` + guestCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	g, err := scanGuest(r.pool.QueryRow(ctx, q, houseID, code, today))
	if isNoRows(err) {
		return nil, nil
	}
	return g, err
}

func (r *guestRepository) DeleteStaleUnverified(ctx context.Context, createdBefore time.Time) ([]domain.Guest, error) {
	const q = `
		DELETE FROM guests AS g
		WHERE NOT g.verified AND g.created_at < $1
		RETURNING ` + guestCols

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, createdBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guests []domain.Guest
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, err
		}
		guests = append(guests, *g)
	}
	return guests, rows.Err()
}

package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aetherhome/aether/services/guests/internal/domain"
)

type RoomRepository interface {
	Create(ctx context.Context, ownerID int64, name string) (*domain.Room, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.Room, error)
	// CountOwned counts how many of ids are rooms of the owner.
	CountOwned(ctx context.Context, ownerID int64, ids []int64) (int, error)
}

type roomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) RoomRepository {
	return &roomRepository{pool: pool}
}

func (r *roomRepository) Create(ctx context.Context, ownerID int64, name string) (*domain.Room, error) {
	const q = `INSERT INTO rooms (owner_id, name) VALUES ($1, $2) RETURNING id, owner_id, name`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var room domain.Room
	err := r.pool.QueryRow(ctx, q, ownerID, name).Scan(&room.ID, &room.OwnerID, &room.Name)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepository) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Room, error) {
	const q = `SELECT id, owner_id, name FROM rooms WHERE owner_id = $1 ORDER BY name, id`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []domain.Room{}
	for rows.Next() {
		var room domain.Room
		if err := rows.Scan(&room.ID, &room.OwnerID, &room.Name); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *roomRepository) CountOwned(ctx context.Context, ownerID int64, ids []int64) (int, error) {
	const q = `SELECT count(*) FROM rooms WHERE owner_id = $1 AND id = ANY($2)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int
	err := r.pool.QueryRow(ctx, q, ownerID, ids).Scan(&n)
	return n, err
}

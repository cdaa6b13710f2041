package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// ErrDuplicateOpenRoom is returned by Create when the partial unique index
// on (user_id) WHERE status='open' rejects the insert: another request
// created the open room first. Callers re-fetch and use that one.
var ErrDuplicateOpenRoom = errors.New("open room already exists for user")

const roomCols = `id, user_id, admin_id, status, last_message_at, created_at`

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func scanRoom(s interface{ Scan(dest ...any) error }, c *model.ChatRoom) error {
	return s.Scan(&c.ID, &c.UserID, &c.AdminID, &c.Status, &c.LastMessageAt, &c.CreatedAt)
}

func (r *RoomRepository) Create(ctx context.Context, c *model.ChatRoom) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_rooms (id, user_id, admin_id, status, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.UserID, c.AdminID, c.Status, c.LastMessageAt, c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateOpenRoom
		}
		return fmt.Errorf("roomRepo.Create: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	c := &model.ChatRoom{}
	row := r.pool.QueryRow(ctx, `SELECT `+roomCols+` FROM chat_rooms WHERE id = $1`, id)
	if err := scanRoom(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return c, nil
}

// FindOpenByUser returns the user's open room, or ErrNotFound (normal for a
// first contact, triggers creation).
func (r *RoomRepository) FindOpenByUser(ctx context.Context, userID string) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("room.FindOpenByUser", time.Now())()
	c := &model.ChatRoom{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+roomCols+` FROM chat_rooms WHERE user_id = $1 AND status = 'open'`, userID)
	if err := scanRoom(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("roomRepo.FindOpenByUser: %w", err)
	}
	return c, nil
}

func (r *RoomRepository) AssignAdmin(ctx context.Context, roomID, adminID string) error {
	defer logger.DeferLogDuration("room.AssignAdmin", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_rooms SET admin_id = $1 WHERE id = $2`, adminID, roomID)
	if err != nil {
		return fmt.Errorf("roomRepo.AssignAdmin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RoomRepository) Close(ctx context.Context, roomID string) error {
	defer logger.DeferLogDuration("room.Close", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_rooms SET status = 'closed' WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("roomRepo.Close: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastMessage bumps the room's activity timestamp. Best-effort caller
// side: a failure here leaves the admin list sorting slightly stale.
func (r *RoomRepository) TouchLastMessage(ctx context.Context, roomID string, t time.Time) error {
	defer logger.DeferLogDuration("room.TouchLastMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_rooms SET last_message_at = $1 WHERE id = $2`, t, roomID)
	if err != nil {
		return fmt.Errorf("roomRepo.TouchLastMessage: %w", err)
	}
	return nil
}

// ListAll returns every room, newest activity first, for the admin dashboard.
func (r *RoomRepository) ListAll(ctx context.Context) ([]model.ChatRoom, error) {
	defer logger.DeferLogDuration("room.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+roomCols+` FROM chat_rooms ORDER BY last_message_at DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListAll: %w", err)
	}
	defer rows.Close()

	rooms := make([]model.ChatRoom, 0, 32)
	for rows.Next() {
		var c model.ChatRoom
		if err := scanRoom(rows, &c); err != nil {
			return nil, fmt.Errorf("roomRepo.ListAll scan: %w", err)
		}
		rooms = append(rooms, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ListAll rows: %w", err)
	}
	return rooms, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.ChatMessage) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, chat_room_id, sender_id, message, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ChatRoomID, m.SenderID, m.Message, m.IsRead, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// ListByRoom returns a room's messages oldest first, sender joined for
// rendering. Ties on created_at break by id so the order is total.
func (r *MessageRepository) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.ChatMessage, error) {
	defer logger.DeferLogDuration("msg.ListByRoom", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.chat_room_id, m.sender_id, m.message, m.is_read, m.created_at,
		        u.id, u.email, COALESCE(u.display_name,''), COALESCE(u.avatar_url,'')
		 FROM chat_messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_room_id = $1
		 ORDER BY m.created_at ASC, m.id ASC
		 LIMIT $2 OFFSET $3`, roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByRoom query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.ChatMessage, 0, limit)
	for rows.Next() {
		var m model.ChatMessage
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.ChatRoomID, &m.SenderID, &m.Message, &m.IsRead, &m.CreatedAt,
			&sender.ID, &sender.Email, &sender.DisplayName, &sender.AvatarURL); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByRoom scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByRoom rows: %w", err)
	}
	return messages, nil
}

// MarkAsRead flags every message in the room not sent by readerID.
// Idempotent: already-read rows are untouched.
func (r *MessageRepository) MarkAsRead(ctx context.Context, roomID, readerID string) error {
	defer logger.DeferLogDuration("msg.MarkAsRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_messages SET is_read = true
		 WHERE chat_room_id = $1 AND sender_id != $2 AND is_read = false`,
		roomID, readerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkAsRead: %w", err)
	}
	return nil
}

// UnreadCount mirrors the MarkAsRead filter, so MarkAsRead then UnreadCount
// always yields 0 for the same reader.
func (r *MessageRepository) UnreadCount(ctx context.Context, roomID, readerID string) (int, error) {
	defer logger.DeferLogDuration("msg.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_messages
		 WHERE chat_room_id = $1 AND sender_id != $2 AND is_read = false`,
		roomID, readerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.UnreadCount: %w", err)
	}
	return count, nil
}

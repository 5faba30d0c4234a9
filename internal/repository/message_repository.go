package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/research-docs-api/internal/models"
)

const messageColumns = `id, sender_id, receiver_id, content, attachment_url, attachment_name, created_at`

// MessageRepository stores direct messages.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository constructs the repository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO messages (id, sender_id, receiver_id, content, attachment_url, attachment_name, created_at) VALUES (:id, :sender_id, :receiver_id, :content, :attachment_url, :attachment_name, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// ListConversation returns the messages exchanged between two users, oldest first.
func (r *MessageRepository) ListConversation(ctx context.Context, userID, partnerID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	query := `SELECT ` + messageColumns + ` FROM (
	SELECT ` + messageColumns + ` FROM messages
	WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
	ORDER BY created_at DESC, id DESC
	LIMIT $3
) recent ORDER BY created_at ASC, id ASC`
	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, query, userID, partnerID, limit); err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return messages, nil
}

// LatestPerPartner returns the most recent message exchanged with each partner of userID.
func (r *MessageRepository) LatestPerPartner(ctx context.Context, userID string) ([]models.Message, error) {
	query := `SELECT DISTINCT ON (partner_id) ` + messageColumns + ` FROM (
	SELECT ` + messageColumns + `, CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS partner_id
	FROM messages WHERE sender_id = $1 OR receiver_id = $1
) m ORDER BY partner_id, created_at DESC, id DESC`
	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, query, userID); err != nil {
		return nil, fmt.Errorf("list latest messages: %w", err)
	}
	return messages, nil
}

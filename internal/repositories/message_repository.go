package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"marketplace-messaging/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	ListMessages(ctx context.Context, key models.ConversationKey) ([]models.Message, error)
	CreateMessage(ctx context.Context, key models.ConversationKey, senderID string, content string) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, proposal_id, contract_id, sender_id, content, created_at`

// ListMessages returns a conversation's messages ordered by creation time.
func (r *MessageRepo) ListMessages(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE proposal_id::text = $1 AND contract_id IS NULL ORDER BY created_at ASC, id ASC`
	if key.Kind == models.KindContract {
		query = `SELECT ` + messageColumns + ` FROM messages WHERE contract_id::text = $1 ORDER BY created_at ASC, id ASC`
	}
	var rows []models.MessageRow
	if err := r.db.SelectContext(ctx, &rows, query, key.ID); err != nil {
		return nil, err
	}
	return foldRows(rows)
}

// CreateMessage stores a message under exactly one parent key.
func (r *MessageRepo) CreateMessage(ctx context.Context, key models.ConversationKey, senderID string, content string) (models.Message, error) {
	proposalID, contractID := models.ParentColumns(key)
	return r.insert(ctx, proposalID, contractID, senderID, content)
}

// CreateLinkedMessage stores a message carrying both parent keys. The proposal
// decision flow uses it so the acceptance note references the negotiation it
// came from while living in the contract conversation.
func (r *MessageRepo) CreateLinkedMessage(ctx context.Context, proposalID, contractID string, senderID string, content string) (models.Message, error) {
	return r.insert(ctx, &proposalID, &contractID, senderID, content)
}

// GetMessageRow loads one stored row by id.
func (r *MessageRepo) GetMessageRow(ctx context.Context, id string) (models.MessageRow, error) {
	var row models.MessageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id::text = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MessageRow{}, ErrMessageNotFound
	}
	return row, err
}

func (r *MessageRepo) insert(ctx context.Context, proposalID, contractID *string, senderID, content string) (models.Message, error) {
	var row models.MessageRow
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (proposal_id, contract_id, sender_id, content)
        VALUES ($1, $2, $3, $4) RETURNING `+messageColumns, proposalID, contractID, senderID, content).StructScan(&row)
	if err != nil {
		return models.Message{}, err
	}
	return row.Message()
}

func foldRows(rows []models.MessageRow) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.Message()
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", row.ID, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

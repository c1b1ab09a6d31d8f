package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"marketplace-messaging/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository reads the two conversation sources.
// An empty applicantID lists every row (admin visibility).
type ConversationRepository interface {
	ListNegotiations(ctx context.Context, applicantID string) ([]models.Negotiation, error)
	ListContracts(ctx context.Context, applicantID string) ([]models.Contract, error)
	GetConversation(ctx context.Context, key models.ConversationKey) (models.Conversation, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const negotiationColumns = `p.id, p.job_id, p.applicant_id, p.cover_letter, p.proposed_rate, p.estimated_duration,
        p.status, p.created_at, j.title AS job_title, j.description AS job_description,
        (SELECT MAX(m.created_at) FROM messages m WHERE m.proposal_id = p.id AND m.contract_id IS NULL) AS last_message_at`

const contractColumns = `c.id, c.job_id, c.applicant_id, c.proposal_id, c.agreed_rate, c.start_date, c.status,
        c.created_at, j.title AS job_title, j.description AS job_description,
        (SELECT MAX(m.created_at) FROM messages m WHERE m.contract_id = c.id) AS last_message_at`

// ListNegotiations returns proposals visible to the applicant, or all of them.
func (r *ConversationRepo) ListNegotiations(ctx context.Context, applicantID string) ([]models.Negotiation, error) {
	query := `SELECT ` + negotiationColumns + `
        FROM proposals p
        JOIN jobs j ON j.id = p.job_id
        WHERE ($1 = '' OR p.applicant_id::text = $1)
        ORDER BY p.created_at DESC`
	var rows []models.Negotiation
	err := r.db.SelectContext(ctx, &rows, query, applicantID)
	return rows, err
}

// ListContracts returns contracts visible to the applicant, or all of them.
func (r *ConversationRepo) ListContracts(ctx context.Context, applicantID string) ([]models.Contract, error) {
	query := `SELECT ` + contractColumns + `
        FROM contracts c
        JOIN jobs j ON j.id = c.job_id
        WHERE ($1 = '' OR c.applicant_id::text = $1)
        ORDER BY c.created_at DESC`
	var rows []models.Contract
	err := r.db.SelectContext(ctx, &rows, query, applicantID)
	return rows, err
}

// GetConversation loads a single conversation by key.
func (r *ConversationRepo) GetConversation(ctx context.Context, key models.ConversationKey) (models.Conversation, error) {
	switch key.Kind {
	case models.KindNegotiation:
		var n models.Negotiation
		err := r.db.GetContext(ctx, &n, `SELECT `+negotiationColumns+`
            FROM proposals p JOIN jobs j ON j.id = p.job_id WHERE p.id::text = $1`, key.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Conversation{}, ErrConversationNotFound
		}
		if err != nil {
			return models.Conversation{}, err
		}
		return models.ConversationFromNegotiation(n), nil
	case models.KindContract:
		var c models.Contract
		err := r.db.GetContext(ctx, &c, `SELECT `+contractColumns+`
            FROM contracts c JOIN jobs j ON j.id = c.job_id WHERE c.id::text = $1`, key.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Conversation{}, ErrConversationNotFound
		}
		if err != nil {
			return models.Conversation{}, err
		}
		return models.ConversationFromContract(c), nil
	}
	return models.Conversation{}, ErrConversationNotFound
}

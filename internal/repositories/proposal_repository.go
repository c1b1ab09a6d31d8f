package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"marketplace-messaging/internal/models"
)

var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrProposalDecided  = errors.New("proposal already decided")
)

// ProposalRepository backs the proposal decision flow.
type ProposalRepository interface {
	GetNegotiation(ctx context.Context, id string) (models.Negotiation, error)
	UpdateStatus(ctx context.Context, id string, status models.NegotiationStatus) error
	CreateContract(ctx context.Context, n models.Negotiation) (models.Contract, error)
	CreateLinkedMessage(ctx context.Context, proposalID, contractID string, senderID string, content string) (models.Message, error)
}

// ProposalRepo is a sqlx implementation of ProposalRepository.
type ProposalRepo struct {
	*MessageRepo
	db *sqlx.DB
}

// NewProposalRepo constructs a ProposalRepo.
func NewProposalRepo(db *sqlx.DB) *ProposalRepo {
	return &ProposalRepo{MessageRepo: NewMessageRepo(db), db: db}
}

// GetNegotiation fetches a proposal with its job metadata.
func (r *ProposalRepo) GetNegotiation(ctx context.Context, id string) (models.Negotiation, error) {
	var n models.Negotiation
	err := r.db.GetContext(ctx, &n, `SELECT `+negotiationColumns+`
        FROM proposals p JOIN jobs j ON j.id = p.job_id WHERE p.id::text = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Negotiation{}, ErrProposalNotFound
	}
	return n, err
}

// UpdateStatus decides a pending proposal. It returns ErrProposalDecided when
// the proposal is no longer pending, so only one of two racing decisions wins.
func (r *ProposalRepo) UpdateStatus(ctx context.Context, id string, status models.NegotiationStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE proposals SET status=$2, updated_at=NOW()
        WHERE id::text=$1 AND status='pending'`, id, status)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrProposalDecided
	}
	return nil
}

// CreateContract inserts an active contract for an accepted proposal.
func (r *ProposalRepo) CreateContract(ctx context.Context, n models.Negotiation) (models.Contract, error) {
	var c models.Contract
	err := r.db.QueryRowxContext(ctx, `INSERT INTO contracts (job_id, applicant_id, proposal_id, agreed_rate, status)
        VALUES ($1, $2, $3, $4, 'active')
        RETURNING id, job_id, applicant_id, proposal_id, agreed_rate, start_date, status, created_at`,
		n.JobID, n.ApplicantID, n.ID, n.ProposedRate).
		Scan(&c.ID, &c.JobID, &c.ApplicantID, &c.ProposalID, &c.AgreedRate, &c.StartDate, &c.Status, &c.CreatedAt)
	if err != nil {
		return models.Contract{}, err
	}
	c.JobTitle = n.JobTitle
	c.JobDescription = n.JobDescription
	return c, nil
}

package models

import "time"

// Role is the account role of a marketplace user.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleApplicant Role = "applicant"
)

// Viewer is the signed-in caller.
type Viewer struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (v Viewer) IsAdmin() bool {
	return v.Role == RoleAdmin
}

type NegotiationStatus string

const (
	NegotiationPending  NegotiationStatus = "pending"
	NegotiationAccepted NegotiationStatus = "accepted"
	NegotiationRejected NegotiationStatus = "rejected"
)

type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractCancelled ContractStatus = "cancelled"
)

// Job carries the display metadata of a posted job.
type Job struct {
	ID          string `db:"id" json:"id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description,omitempty"`
}

// Negotiation is an applicant's proposal against a job.
type Negotiation struct {
	ID                string            `db:"id" json:"id"`
	JobID             string            `db:"job_id" json:"job_id"`
	ApplicantID       string            `db:"applicant_id" json:"applicant_id"`
	CoverLetter       string            `db:"cover_letter" json:"cover_letter,omitempty"`
	ProposedRate      *float64          `db:"proposed_rate" json:"proposed_rate,omitempty"`
	EstimatedDuration string            `db:"estimated_duration" json:"estimated_duration,omitempty"`
	Status            NegotiationStatus `db:"status" json:"status"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	JobTitle          string            `db:"job_title" json:"job_title"`
	JobDescription    string            `db:"job_description" json:"job_description,omitempty"`
	LastMessageAt     *time.Time        `db:"last_message_at" json:"last_message_at,omitempty"`
}

// Contract is created once a negotiation is accepted.
type Contract struct {
	ID             string         `db:"id" json:"id"`
	JobID          string         `db:"job_id" json:"job_id"`
	ApplicantID    string         `db:"applicant_id" json:"applicant_id"`
	ProposalID     string         `db:"proposal_id" json:"proposal_id"`
	AgreedRate     *float64       `db:"agreed_rate" json:"agreed_rate,omitempty"`
	StartDate      time.Time      `db:"start_date" json:"start_date"`
	Status         ContractStatus `db:"status" json:"status"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	JobTitle       string         `db:"job_title" json:"job_title"`
	JobDescription string         `db:"job_description" json:"job_description,omitempty"`
	LastMessageAt  *time.Time     `db:"last_message_at" json:"last_message_at,omitempty"`
}

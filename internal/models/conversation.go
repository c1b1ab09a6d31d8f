package models

import (
	"fmt"
	"time"
)

// ConversationKind tags which parent record backs a conversation.
type ConversationKind string

const (
	KindNegotiation ConversationKind = "negotiation"
	KindContract    ConversationKind = "contract"
)

// ParseConversationKind accepts both the canonical kind names and the
// route/query names ("proposal", "contract").
func ParseConversationKind(s string) (ConversationKind, error) {
	switch s {
	case string(KindNegotiation), "proposal", "proposals":
		return KindNegotiation, nil
	case string(KindContract), "contracts":
		return KindContract, nil
	}
	return "", fmt.Errorf("unknown conversation kind %q", s)
}

// QueryParam is the navigation parameter that deep-links into a conversation of this kind.
func (k ConversationKind) QueryParam() string {
	if k == KindContract {
		return "contractId"
	}
	return "proposalId"
}

// ConversationKey identifies a conversation. Ids are only unique within a kind,
// so the pair is the key everywhere.
type ConversationKey struct {
	Kind ConversationKind `json:"kind"`
	ID   string           `json:"id"`
}

func (k ConversationKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

func (k ConversationKey) IsZero() bool {
	return k.ID == ""
}

// Conversation is the aggregated view of a negotiation or contract between the
// admin and one applicant.
type Conversation struct {
	Key           ConversationKey `json:"key"`
	Status        string          `json:"status"`
	AdminID       string          `json:"admin_id,omitempty"`
	ApplicantID   string          `json:"applicant_id"`
	Job           Job             `json:"job"`
	CreatedAt     time.Time       `json:"created_at"`
	LastMessageAt *time.Time      `json:"last_message_at,omitempty"`
	Counterpart   *Profile        `json:"counterpart,omitempty"`
}

// ActivityAt is the timestamp used to order conversations for display.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessageAt != nil && c.LastMessageAt.After(c.CreatedAt) {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// ConversationFromNegotiation tags a negotiation row as a conversation.
func ConversationFromNegotiation(n Negotiation) Conversation {
	return Conversation{
		Key:           ConversationKey{Kind: KindNegotiation, ID: n.ID},
		Status:        string(n.Status),
		ApplicantID:   n.ApplicantID,
		Job:           Job{ID: n.JobID, Title: n.JobTitle, Description: n.JobDescription},
		CreatedAt:     n.CreatedAt,
		LastMessageAt: n.LastMessageAt,
	}
}

// ConversationFromContract tags a contract row as a conversation.
func ConversationFromContract(c Contract) Conversation {
	return Conversation{
		Key:           ConversationKey{Kind: KindContract, ID: c.ID},
		Status:        string(c.Status),
		ApplicantID:   c.ApplicantID,
		Job:           Job{ID: c.JobID, Title: c.JobTitle, Description: c.JobDescription},
		CreatedAt:     c.CreatedAt,
		LastMessageAt: c.LastMessageAt,
	}
}

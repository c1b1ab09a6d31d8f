package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks client-fabricated ids. Server ids are bare UUIDs, so the
// two namespaces never collide.
const TempIDPrefix = "temp-"

var ErrNoParent = errors.New("message has no parent conversation")

// Message is one chat line. It is immutable once created.
type Message struct {
	ID        string          `json:"id"`
	Parent    ConversationKey `json:"parent"`
	SenderID  string          `json:"sender_id"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewTempID returns an id in the optimistic namespace.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsPending reports whether the message is an unconfirmed optimistic placeholder.
func (m Message) IsPending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// MessageRow is the storage and push-notification shape of a message, with the
// two nullable parent keys.
type MessageRow struct {
	ID         string    `db:"id" json:"id"`
	ProposalID *string   `db:"proposal_id" json:"proposal_id"`
	ContractID *string   `db:"contract_id" json:"contract_id"`
	SenderID   string    `db:"sender_id" json:"sender_id"`
	Content    string    `db:"content" json:"content"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ParentKey resolves the owning conversation. The contract key wins when both
// are populated.
func (r MessageRow) ParentKey() (ConversationKey, error) {
	if r.ContractID != nil && *r.ContractID != "" {
		return ConversationKey{Kind: KindContract, ID: *r.ContractID}, nil
	}
	if r.ProposalID != nil && *r.ProposalID != "" {
		return ConversationKey{Kind: KindNegotiation, ID: *r.ProposalID}, nil
	}
	return ConversationKey{}, ErrNoParent
}

// Message folds the row into the tagged-union form.
func (r MessageRow) Message() (Message, error) {
	key, err := r.ParentKey()
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        r.ID,
		Parent:    key,
		SenderID:  r.SenderID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}, nil
}

// ParentColumns returns the (proposal_id, contract_id) values for inserting a
// message under key; exactly one is non-nil.
func ParentColumns(key ConversationKey) (proposalID, contractID *string) {
	id := key.ID
	if key.Kind == KindContract {
		return nil, &id
	}
	return &id, nil
}

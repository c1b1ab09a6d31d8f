package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/profiles"
	"marketplace-messaging/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) ListNegotiations(ctx context.Context, applicantID string) ([]models.Negotiation, error) {
	args := m.Called(ctx, applicantID)
	var list []models.Negotiation
	if val := args.Get(0); val != nil {
		list = val.([]models.Negotiation)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) ListContracts(ctx context.Context, applicantID string) ([]models.Contract, error) {
	args := m.Called(ctx, applicantID)
	var list []models.Contract
	if val := args.Get(0); val != nil {
		list = val.([]models.Contract)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, key models.ConversationKey) (models.Conversation, error) {
	args := m.Called(ctx, key)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	args := m.Called(ctx, key)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, key models.ConversationKey, senderID string, content string) (models.Message, error) {
	args := m.Called(ctx, key, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessageRow(ctx context.Context, id string) (models.MessageRow, error) {
	args := m.Called(ctx, id)
	var row models.MessageRow
	if val := args.Get(0); val != nil {
		row = val.(models.MessageRow)
	}
	return row, args.Error(1)
}

type ProposalRepositoryMock struct {
	mock.Mock
}

func (m *ProposalRepositoryMock) GetNegotiation(ctx context.Context, id string) (models.Negotiation, error) {
	args := m.Called(ctx, id)
	var n models.Negotiation
	if val := args.Get(0); val != nil {
		n = val.(models.Negotiation)
	}
	return n, args.Error(1)
}

func (m *ProposalRepositoryMock) UpdateStatus(ctx context.Context, id string, status models.NegotiationStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *ProposalRepositoryMock) CreateContract(ctx context.Context, n models.Negotiation) (models.Contract, error) {
	args := m.Called(ctx, n)
	var c models.Contract
	if val := args.Get(0); val != nil {
		c = val.(models.Contract)
	}
	return c, args.Error(1)
}

func (m *ProposalRepositoryMock) CreateLinkedMessage(ctx context.Context, proposalID, contractID string, senderID string, content string) (models.Message, error) {
	args := m.Called(ctx, proposalID, contractID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type ProfileLookupMock struct {
	mock.Mock
}

func (m *ProfileLookupMock) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	args := m.Called(ctx, userID)
	var p models.Profile
	if val := args.Get(0); val != nil {
		p = val.(models.Profile)
	}
	return p, args.Error(1)
}

func (m *ProfileLookupMock) GetAdmin(ctx context.Context) (models.Profile, error) {
	args := m.Called(ctx)
	var p models.Profile
	if val := args.Get(0); val != nil {
		p = val.(models.Profile)
	}
	return p, args.Error(1)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ProposalRepository = (*ProposalRepositoryMock)(nil)
var _ profiles.Lookup = (*ProfileLookupMock)(nil)

package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string {
	return &s
}

func TestMessageRowParentKey(t *testing.T) {
	tests := []struct {
		name     string
		row      MessageRow
		expected ConversationKey
		err      error
	}{
		{"proposal", MessageRow{ProposalID: ptr("p-1")}, ConversationKey{Kind: KindNegotiation, ID: "p-1"}, nil},
		{"contract", MessageRow{ContractID: ptr("c-1")}, ConversationKey{Kind: KindContract, ID: "c-1"}, nil},
		{"both", MessageRow{ProposalID: ptr("p-1"), ContractID: ptr("c-1")}, ConversationKey{Kind: KindContract, ID: "c-1"}, nil},
		{"empty contract", MessageRow{ProposalID: ptr("p-1"), ContractID: ptr("")}, ConversationKey{Kind: KindNegotiation, ID: "p-1"}, nil},
		{"neither", MessageRow{}, ConversationKey{}, ErrNoParent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := tt.row.ParentKey()
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, key)
		})
	}
}

func TestMessageRowFold(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	row := MessageRow{ID: "m-1", ContractID: ptr("c-1"), SenderID: "u-1", Content: "hi", CreatedAt: at}

	msg, err := row.Message()

	require.NoError(t, err)
	assert.Equal(t, Message{ID: "m-1", Parent: ConversationKey{Kind: KindContract, ID: "c-1"}, SenderID: "u-1", Content: "hi", CreatedAt: at}, msg)
	assert.False(t, msg.IsPending())
}

func TestTempIDs(t *testing.T) {
	a, b := NewTempID(), NewTempID()

	assert.True(t, strings.HasPrefix(a, TempIDPrefix))
	assert.NotEqual(t, a, b)
	assert.True(t, Message{ID: a}.IsPending())
}

func TestParentColumns(t *testing.T) {
	p, c := ParentColumns(ConversationKey{Kind: KindNegotiation, ID: "p-1"})
	require.NotNil(t, p)
	assert.Equal(t, "p-1", *p)
	assert.Nil(t, c)

	p, c = ParentColumns(ConversationKey{Kind: KindContract, ID: "c-1"})
	assert.Nil(t, p)
	require.NotNil(t, c)
	assert.Equal(t, "c-1", *c)
}

package messaging

import (
	"encoding/json"
	"net/url"

	"marketplace-messaging/internal/models"
)

// SelectionState is the state of the selection controller.
type SelectionState string

const (
	StateNone    SelectionState = "none"
	StateLoading SelectionState = "loading"
	StateLoaded  SelectionState = "loaded"
)

type EventType string

const (
	EventConversations    EventType = "conversations"
	EventSelection        EventType = "selection"
	EventNavigate         EventType = "navigate"
	EventTranscript       EventType = "transcript"
	EventMessagePending   EventType = "message.pending"
	EventMessageConfirmed EventType = "message.confirmed"
	EventMessageFailed    EventType = "message.failed"
	EventError            EventType = "error"
)

// Event is a state change pushed to the session's client.
type Event struct {
	Type          EventType               `json:"type"`
	Conversations []models.Conversation   `json:"conversations,omitempty"`
	Selected      *models.ConversationKey `json:"selected,omitempty"`
	State         SelectionState          `json:"state,omitempty"`
	Query         *string                 `json:"query,omitempty"`
	Messages      []models.Message        `json:"messages,omitempty"`
	Message       *models.Message         `json:"message,omitempty"`
	TempID        string                  `json:"temp_id,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// MarshalJSON always writes the payload list of conversations and transcript
// events, so an empty list reads as [] rather than a missing field.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	switch e.Type {
	case EventTranscript:
		msgs := e.Messages
		if msgs == nil {
			msgs = []models.Message{}
		}
		return json.Marshal(struct {
			plain
			Messages []models.Message `json:"messages"`
		}{plain(e), msgs})
	case EventConversations:
		list := e.Conversations
		if list == nil {
			list = []models.Conversation{}
		}
		return json.Marshal(struct {
			plain
			Conversations []models.Conversation `json:"conversations"`
		}{plain(e), list})
	}
	return json.Marshal(plain(e))
}

// KeyFromQuery reads the deep-link parameters. contractId wins when both are set.
func KeyFromQuery(q url.Values) (models.ConversationKey, bool) {
	if id := q.Get(models.KindContract.QueryParam()); id != "" {
		return models.ConversationKey{Kind: models.KindContract, ID: id}, true
	}
	if id := q.Get(models.KindNegotiation.QueryParam()); id != "" {
		return models.ConversationKey{Kind: models.KindNegotiation, ID: id}, true
	}
	return models.ConversationKey{}, false
}

// QueryFor encodes the deep-link query for key; the zero key encodes to "".
func QueryFor(key models.ConversationKey) string {
	if key.IsZero() {
		return ""
	}
	return url.Values{key.Kind.QueryParam(): {key.ID}}.Encode()
}

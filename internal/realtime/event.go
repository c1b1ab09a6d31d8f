package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"marketplace-messaging/internal/models"
)

var ErrMalformedEvent = errors.New("malformed insert event")

// InsertEvent is a row-insert notification addressed by table name.
type InsertEvent struct {
	Table  string            `json:"table"`
	Record models.MessageRow `json:"record"`
}

// DecodeInsertEvent parses a notification payload written by the insert trigger.
func DecodeInsertEvent(payload []byte) (InsertEvent, error) {
	var evt InsertEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return InsertEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.Table == "" || evt.Record.ID == "" {
		return InsertEvent{}, fmt.Errorf("%w: missing table or record id", ErrMalformedEvent)
	}
	return evt, nil
}

// Package events defines the wire shapes of the realtime protocol:
// client commands, server events and the session configuration they
// negotiate.
package events

import (
	"encoding/json"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// BaseEvent carries the fields every wire frame shares.
type BaseEvent struct {
	EventID        string  `json:"event_id"`
	Type           string  `json:"type"`
	PreviousItemID *string `json:"previous_item_id,omitempty"`
}

// NewBaseEvent stamps a fresh event with a collision-resistant id.
func NewBaseEvent(eventType string) BaseEvent {
	id, err := nanoid.New()
	if err != nil {
		// nanoid only fails when the OS random source does
		panic(err)
	}
	return BaseEvent{
		EventID: id,
		Type:    eventType,
	}
}

// Parse decodes a raw frame into the given event type.
func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

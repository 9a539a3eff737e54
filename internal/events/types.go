// Package events defines the messaging-channel events that drive the delivery
// state machine and the stores that de-duplicate them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType names a channel event.
type EventType string

const (
	TypeSent               EventType = "sent"
	TypeReceived           EventType = "received"
	TypeRead               EventType = "read"
	TypeAnswered           EventType = "answered"
	TypeStatusChanged      EventType = "status_changed"
	TypeEmailSent          EventType = "email_sent"
	TypeEmailDelivered     EventType = "email_delivered"
	TypeEmailOpened        EventType = "email_opened"
	TypeCancelReason       EventType = "cancel_reason"
	TypeNpsScore           EventType = "nps_score"
	TypeNpsComment         EventType = "nps_comment"
	TypeConversationClosed EventType = "conversation_closed"
)

var knownTypes = map[EventType]struct{}{
	TypeSent: {}, TypeReceived: {}, TypeRead: {}, TypeAnswered: {}, TypeStatusChanged: {},
	TypeEmailSent: {}, TypeEmailDelivered: {}, TypeEmailOpened: {}, TypeCancelReason: {},
	TypeNpsScore: {}, TypeNpsComment: {}, TypeConversationClosed: {},
}

// ErrInvalidEvent is returned for events that cannot be applied.
var ErrInvalidEvent = errors.New("events: invalid channel event")

// ChannelEvent is one notification from the messaging channel about a
// schedule message or a conversation.
type ChannelEvent struct {
	EventID        string    `json:"eventId"`
	Type           EventType `json:"type"`
	MessageUUID    string    `json:"messageUuid,omitempty"`
	WorkspaceID    string    `json:"workspaceId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Status         *int      `json:"status,omitempty"`
	ReasonID       string    `json:"reasonId,omitempty"`
	NpsScore       *int      `json:"npsScore,omitempty"`
	NpsComment     string    `json:"npsComment,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Validate checks the fields each event type needs.
func (e ChannelEvent) Validate() error {
	if _, ok := knownTypes[e.Type]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	switch e.Type {
	case TypeConversationClosed:
		if e.ConversationID == "" {
			return fmt.Errorf("%w: conversationId required", ErrInvalidEvent)
		}
		return nil
	case TypeStatusChanged:
		if e.Status == nil {
			return fmt.Errorf("%w: status required", ErrInvalidEvent)
		}
	case TypeNpsScore:
		if e.NpsScore == nil {
			return fmt.Errorf("%w: npsScore required", ErrInvalidEvent)
		}
	case TypeCancelReason:
		if e.ReasonID == "" {
			return fmt.Errorf("%w: reasonId required", ErrInvalidEvent)
		}
	}
	if e.MessageUUID == "" {
		return fmt.Errorf("%w: messageUuid required", ErrInvalidEvent)
	}
	return nil
}

// Decode parses and validates a channel event payload.
func Decode(body []byte) (ChannelEvent, error) {
	var evt ChannelEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return ChannelEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := evt.Validate(); err != nil {
		return ChannelEvent{}, err
	}
	return evt, nil
}

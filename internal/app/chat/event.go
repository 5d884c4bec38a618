/*
Package chat contains the core message distribution engine: the connection
registry, the presence/typing and seen-receipt trackers, and the per-connection
session state machine.

This file defines the kind-tagged wire events exchanged with clients.
*/
package chat

import (
	"encoding/json"
	"time"

	"roomchat/internal/app/store"
	"roomchat/internal/app/user"
)

// EventType tags server-to-client events.
type EventType string

const (
	// EventHistory carries the bounded message replay sent once on join.
	EventHistory EventType = "history"

	// EventChatMessage carries one committed chat message.
	EventChatMessage EventType = "chat_message"

	// EventSystem carries join/leave notices.
	EventSystem EventType = "system"

	// EventOnlineStatus carries the room's online roster.
	EventOnlineStatus EventType = "online_status"

	// EventTyping carries the set of display names currently typing.
	EventTyping EventType = "typing"

	// EventSeenUpdate notifies a sender that a viewer has seen their message.
	EventSeenUpdate EventType = "seen_update"

	// EventError carries a single-shot rejection before the server closes the
	// connection, or a per-event failure on an otherwise healthy connection.
	EventError EventType = "error"
)

// InboundType tags client-to-server events. Unrecognized types are ignored so
// older servers tolerate newer clients.
type InboundType string

const (
	// InboundText is a plain chat message.
	InboundText InboundType = "text"

	// InboundAttachments is a chat message carrying uploaded attachments.
	InboundAttachments InboundType = "attachments"

	// InboundTyping toggles the sender's typing indicator.
	InboundTyping InboundType = "typing"

	// InboundSeen acknowledges that the sender has seen a message.
	InboundSeen InboundType = "seen"
)

// Event is the envelope for every server-to-client message.
type Event struct {
	Type      EventType `json:"type"`
	RoomID    int64     `json:"roomId"`
	Timestamp int64     `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent builds an envelope stamped with the current time.
func NewEvent(eventType EventType, roomID int64, payload any) Event {
	return Event{
		Type:      eventType,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// Encode marshals the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// InboundEvent is the envelope for every client-to-server message.
type InboundEvent struct {
	Type      InboundType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EchoToken string          `json:"echoToken,omitempty"`
}

// TextPayload is the body of an InboundText event.
type TextPayload struct {
	Content string `json:"content"`
}

// AttachmentsPayload is the body of an InboundAttachments event.
type AttachmentsPayload struct {
	Description string       `json:"description,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// TypingStatePayload is the body of an InboundTyping event.
type TypingStatePayload struct {
	Typing bool `json:"typing"`
}

// SeenAckPayload is the body of an InboundSeen event.
type SeenAckPayload struct {
	MessageID int64 `json:"messageId"`
}

// ChatMessagePayload is the body of an EventChatMessage event and of each
// history entry. EchoToken is set only on the copy delivered back to the
// sender, so an optimistic local render can be reconciled.
type ChatMessagePayload struct {
	ID          int64         `json:"id"`
	Sender      user.Identity `json:"sender"`
	Content     string        `json:"content"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	SentAt      time.Time     `json:"sentAt"`
	EchoToken   string        `json:"echoToken,omitempty"`
}

// HistoryPayload is the body of an EventHistory event, ordered oldest-first.
type HistoryPayload struct {
	Messages []ChatMessagePayload `json:"messages"`
}

// SystemPayload is the body of an EventSystem event.
type SystemPayload struct {
	Message string `json:"message"`
}

// OnlineStatusPayload is the body of an EventOnlineStatus event.
type OnlineStatusPayload struct {
	Users []user.Identity `json:"users"`
}

// TypingPayload is the body of an EventTyping event.
type TypingPayload struct {
	Users []string `json:"users"`
}

// SeenUpdatePayload is the body of an EventSeenUpdate event.
type SeenUpdatePayload struct {
	MessageID int64         `json:"messageId"`
	Viewer    user.Identity `json:"viewer"`
	SeenAt    time.Time     `json:"seenAt"`
}

// ErrorPayload is the body of an EventError event.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MessagePayload converts a persisted message into its wire shape.
func MessagePayload(msg store.ChatMessage) ChatMessagePayload {
	return ChatMessagePayload{
		ID:          msg.ID,
		Sender:      user.Identity{ID: msg.SenderID, Name: msg.SenderName},
		Content:     msg.Content,
		Attachments: msg.Attachments,
		SentAt:      msg.CreatedAt,
	}
}

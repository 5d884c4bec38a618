/*
Package store defines the persistence gateway consumed by the chat core and its
PostgreSQL implementation.

The chat core only ever talks to the Gateway interface; schema ownership, room
and user administration live in the surrounding application.
*/
package store

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned when a referenced message does not exist.
var ErrMessageNotFound = errors.New("message not found")

// Attachment describes one file attached to a chat message. The binary lives in
// object storage; only the metadata is persisted with the message.
type Attachment struct {
	Key      string `json:"fileKey"`
	Name     string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"fileSize"`
}

// ChatMessage is one persisted chat event. Messages are immutable once created;
// their ids are assigned monotonically at commit time and define room order.
type ChatMessage struct {
	ID          int64
	RoomID      int64
	SenderID    int64
	SenderName  string
	Content     string
	Attachments []Attachment
	CreatedAt   time.Time
}

// SeenReceipt records that a user has viewed a message. At most one receipt
// exists per (message, user) pair; the first write wins.
type SeenReceipt struct {
	MessageID int64
	UserID    int64
	SeenAt    time.Time
}

// Gateway is the persistence boundary used by the chat core.
// Implementations must be safe for concurrent use by all active sessions.
type Gateway interface {
	// IsMember reports whether the user belongs to the room.
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)

	// CreateMessage persists a new chat message and returns it with its
	// assigned id and creation timestamp.
	CreateMessage(ctx context.Context, roomID, senderID int64, content string, attachments []Attachment) (ChatMessage, error)

	// ListRecentMessages returns the most recent limit messages of the room,
	// ordered oldest-first.
	ListRecentMessages(ctx context.Context, roomID int64, limit int) ([]ChatMessage, error)

	// GetMessage returns the message with the given id, or ErrMessageNotFound.
	GetMessage(ctx context.Context, messageID int64) (ChatMessage, error)

	// FindReceipt returns the receipt for the (message, viewer) pair, or nil
	// when none exists.
	FindReceipt(ctx context.Context, messageID, userID int64) (*SeenReceipt, error)

	// CreateReceipt records a receipt for the (message, viewer) pair. It
	// returns false without error when a receipt already exists, which makes
	// the duplicate-insert race resolve to a single stored row.
	CreateReceipt(ctx context.Context, messageID, userID int64, seenAt time.Time) (bool, error)
}

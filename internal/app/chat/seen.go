/*
Package chat contains the core message distribution engine.

This file defines the SeenTracker, which records per-user, per-message seen
receipts and notifies the original sender. Receipts are first-write-wins; the
uniqueness lives in the persistence boundary, so redundant acknowledgments
(reconnect replays, multi-device races) collapse to a single stored receipt.
*/
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"roomchat/internal/app/store"
	"roomchat/internal/app/user"
	"roomchat/internal/pkg/logx"
)

// SeenTracker deduplicates and records seen acknowledgments.
type SeenTracker struct {
	gateway  store.Gateway
	registry *Registry
	logger   zerolog.Logger
}

// NewSeenTracker constructs a tracker bound to the gateway and registry.
func NewSeenTracker(gateway store.Gateway, registry *Registry) *SeenTracker {
	return &SeenTracker{
		gateway:  gateway,
		registry: registry,
		logger:   logx.Logger().With().Str("component", "seen").Logger(),
	}
}

// MarkSeen records that viewer has seen the message. A receipt that already
// exists makes the call a no-op. On a fresh receipt the message's sender - and
// only the sender, only when distinct from the viewer - receives a targeted
// seen_update event. An offline sender is not an error; the notification is
// simply dropped.
func (t *SeenTracker) MarkSeen(ctx context.Context, roomID, messageID int64, viewer user.Identity) error {
	existing, err := t.gateway.FindReceipt(ctx, messageID, viewer.ID)
	if err != nil {
		return fmt.Errorf("receipt lookup: %w", err)
	}
	if existing != nil {
		return nil
	}

	msg, err := t.gateway.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			t.logger.Warn().
				Int64("message_id", messageID).
				Int64("viewer_id", viewer.ID).
				Msg("Seen acknowledgment for unknown message dropped")
			return nil
		}
		return fmt.Errorf("message lookup: %w", err)
	}

	// A receipt must reference a message of the viewer's own room; an
	// acknowledgment smuggled across rooms is dropped.
	if msg.RoomID != roomID {
		t.logger.Warn().
			Int64("message_id", messageID).
			Int64("room_id", roomID).
			Int64("message_room_id", msg.RoomID).
			Msg("Seen acknowledgment for foreign room dropped")
		return nil
	}

	seenAt := time.Now().UTC()
	created, err := t.gateway.CreateReceipt(ctx, messageID, viewer.ID, seenAt)
	if err != nil {
		return fmt.Errorf("receipt insert: %w", err)
	}
	if !created {
		// Lost the race to a concurrent acknowledgment; the stored receipt wins.
		return nil
	}

	if msg.SenderID == viewer.ID {
		return nil
	}

	payload := SeenUpdatePayload{
		MessageID: messageID,
		Viewer:    viewer,
		SeenAt:    seenAt,
	}

	data, err := NewEvent(EventSeenUpdate, roomID, payload).Encode()
	if err != nil {
		t.logger.Error().Err(err).Int64("message_id", messageID).Msg("Failed to encode seen update event")
		return nil
	}

	if t.registry.SendTo(roomID, msg.SenderID, data) == 0 {
		t.logger.Debug().
			Int64("message_id", messageID).
			Int64("sender_id", msg.SenderID).
			Msg("Sender offline, seen notification dropped")
	}

	return nil
}

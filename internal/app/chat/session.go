/*
Package chat contains the core message distribution engine.

This file defines the Session, the per-connection control loop. A session walks
Connecting -> Authorizing -> Active -> Closed: it gates the connection on room
membership, replays recent history, dispatches inbound events, and runs the
unconditional cleanup sequence exactly once when the connection ends.
*/
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"roomchat/internal/app/store"
	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/logx"
)

// SessionState names a stage of the per-connection lifecycle.
type SessionState string

const (
	// StateConnecting covers the window between channel establishment and the
	// membership check.
	StateConnecting SessionState = "connecting"

	// StateAuthorizing covers the membership check.
	StateAuthorizing SessionState = "authorizing"

	// StateActive covers the event dispatch loop.
	StateActive SessionState = "active"

	// StateClosed is terminal; no transitions leave it.
	StateClosed SessionState = "closed"
)

// Session drives one connection through its lifecycle. All inbound events of a
// connection are dispatched single-threaded; concurrency exists only across
// sessions, mediated by the Registry and the trackers.
type Session struct {
	client   *Client
	gateway  store.Gateway
	registry *Registry
	presence *PresenceTracker
	seen     *SeenTracker

	// historyLimit bounds the message replay pushed to a joining connection.
	historyLimit int

	mu    sync.Mutex
	state SessionState

	cleanupOnce sync.Once

	logger zerolog.Logger
}

// NewSession binds a freshly upgraded client connection to the engine.
func NewSession(client *Client, gateway store.Gateway, registry *Registry, presence *PresenceTracker, seen *SeenTracker, historyLimit int) *Session {
	return &Session{
		client:       client,
		gateway:      gateway,
		registry:     registry,
		presence:     presence,
		seen:         seen,
		historyLimit: historyLimit,
		state:        StateConnecting,
		logger: logx.Logger().With().
			Str("component", "session").
			Str("conn_id", client.ID()).
			Int64("room_id", client.RoomID()).
			Int64("user_id", client.Identity().ID).
			Logger(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run blocks until the session is closed. It starts the client's write pump,
// performs the membership gate, and on success registers the connection,
// replays history, announces the join, and enters the read loop. Cleanup runs
// unconditionally on the way out.
func (s *Session) Run(ctx context.Context) {
	go s.client.WritePump()

	roomID := s.client.RoomID()
	identity := s.client.Identity()

	s.setState(StateAuthorizing)

	isMember, err := s.gateway.IsMember(ctx, roomID, identity.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Membership check failed")
		s.client.SendError(errs.NewError(errs.ErrPersistenceFailed))
		s.client.Close()
		s.setState(StateClosed)
		return
	}

	if !isMember {
		// Denied connections never touch the Registry or the trackers.
		s.logger.Info().Msg("Connection rejected: not a room member")
		s.client.SendError(errs.NewError(errs.ErrNotRoomMember))
		s.client.CloseWithPolicyViolation("not a member of this room")
		s.setState(StateClosed)
		return
	}

	s.registry.Register(roomID, s.client)
	s.setState(StateActive)

	s.sendHistory(ctx)
	s.presence.BroadcastPresence(roomID)
	s.announce(fmt.Sprintf("%s joined the room.", identity.Name))

	defer s.cleanup()

	s.client.ReadPump(func(payload []byte) {
		s.dispatch(ctx, payload)
	})
}

// cleanup runs the disconnect sequence exactly once: unregister, refresh
// presence for the remaining members, then announce the departure. It is safe
// to call even when the channel died abnormally mid-event.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		roomID := s.client.RoomID()
		identity := s.client.Identity()

		s.setState(StateClosed)

		s.registry.Unregister(roomID, s.client)
		s.presence.ClearIdentity(roomID, identity)
		s.presence.BroadcastPresence(roomID)
		s.announce(fmt.Sprintf("%s left the room.", identity.Name))

		s.client.Close()
		s.logger.Info().Msg("Session closed")
	})
}

// sendHistory pushes the bounded, oldest-first message replay to the joining
// connection only. A gateway failure is surfaced to this connection and the
// session continues without history.
func (s *Session) sendHistory(ctx context.Context) {
	roomID := s.client.RoomID()

	messages, err := s.gateway.ListRecentMessages(ctx, roomID, s.historyLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("History replay failed")
		s.client.SendError(errs.NewError(errs.ErrPersistenceFailed))
		return
	}

	payload := HistoryPayload{Messages: make([]ChatMessagePayload, 0, len(messages))}
	for _, msg := range messages {
		payload.Messages = append(payload.Messages, MessagePayload(msg))
	}

	if err := s.client.SendEvent(NewEvent(EventHistory, roomID, payload)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to queue history event")
	}
}

// announce broadcasts a system notice to the whole room.
func (s *Session) announce(text string) {
	roomID := s.client.RoomID()

	data, err := NewEvent(EventSystem, roomID, SystemPayload{Message: text}).Encode()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode system event")
		return
	}

	s.registry.Broadcast(roomID, data, nil)
}

// dispatch routes one inbound event by kind. Malformed events are dropped
// without closing the connection; unrecognized kinds are ignored so newer
// clients keep working against this server.
func (s *Session) dispatch(ctx context.Context, payload []byte) {
	var inbound InboundEvent
	if err := json.Unmarshal(payload, &inbound); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		return
	}

	switch inbound.Type {
	case InboundText:
		s.handleText(ctx, inbound.Payload, inbound.EchoToken)

	case InboundAttachments:
		s.handleAttachments(ctx, inbound.Payload, inbound.EchoToken)

	case InboundTyping:
		s.handleTyping(inbound.Payload)

	case InboundSeen:
		s.handleSeen(ctx, inbound.Payload)

	default:
		s.logger.Warn().Str("event_type", string(inbound.Type)).Msg("Ignoring unsupported inbound event type")
	}
}

// handleText processes a plain chat message. Empty content is dropped
// silently; oversized content is rejected back to the sender only.
func (s *Session) handleText(ctx context.Context, raw json.RawMessage, echoToken string) {
	var payload TextPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid text payload")
		return
	}

	if strings.TrimSpace(payload.Content) == "" {
		return
	}

	if len(payload.Content) > MaxContentBytes {
		s.client.SendError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	s.publish(ctx, payload.Content, nil, echoToken)
}

// handleAttachments processes a chat message carrying uploaded files. Keys
// must belong to this room's prefix so one room's uploads cannot be replayed
// into another.
func (s *Session) handleAttachments(ctx context.Context, raw json.RawMessage, echoToken string) {
	var payload AttachmentsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid attachments payload")
		return
	}

	if count := len(payload.Attachments); count == 0 || count > MaxAttachmentsCount {
		s.client.SendError(errs.NewError(errs.ErrAttachmentCountInvalid, MaxAttachmentsCount))
		return
	}

	if len(payload.Description) > MaxContentBytes {
		s.client.SendError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	keyPrefix := fmt.Sprintf("%d/", s.client.RoomID())
	for _, attachment := range payload.Attachments {
		if !strings.HasPrefix(attachment.Key, keyPrefix) {
			s.client.SendError(errs.NewError(errs.ErrAttachmentKeyInvalid))
			return
		}
		if err := ValidateFileType(attachment.Name, attachment.MimeType); err != nil {
			s.client.SendError(err)
			return
		}
		if err := ValidateFileSize(attachment.Size); err != nil {
			s.client.SendError(err)
			return
		}
	}

	s.publish(ctx, payload.Description, payload.Attachments, echoToken)
}

// handleTyping forwards a typing toggle to the presence tracker. No persistence.
func (s *Session) handleTyping(raw json.RawMessage) {
	var payload TypingStatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid typing payload")
		return
	}

	s.presence.SetTyping(s.client.RoomID(), s.client.Identity(), payload.Typing)
}

// handleSeen forwards a seen acknowledgment to the receipt tracker.
func (s *Session) handleSeen(ctx context.Context, raw json.RawMessage) {
	var payload SeenAckPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid seen payload")
		return
	}

	if err := s.seen.MarkSeen(ctx, s.client.RoomID(), payload.MessageID, s.client.Identity()); err != nil {
		s.logger.Error().Err(err).Int64("message_id", payload.MessageID).Msg("Seen acknowledgment failed")
		s.client.SendError(errs.NewError(errs.ErrPersistenceFailed))
	}
}

// publish commits the message and fans it out under the room's publish lock so
// the room observes events in commit order. The sender receives its own copy
// carrying the client-supplied echo token. On a gateway failure nothing is
// broadcast and only the sender learns of the error.
func (s *Session) publish(ctx context.Context, content string, attachments []Attachment, echoToken string) {
	roomID := s.client.RoomID()

	err := s.registry.Sequenced(roomID, func() error {
		msg, err := s.gateway.CreateMessage(ctx, roomID, s.client.Identity().ID, content, attachments)
		if err != nil {
			return fmt.Errorf("message persist: %w", err)
		}

		payload := MessagePayload(msg)
		event := NewEvent(EventChatMessage, roomID, payload)

		data, err := event.Encode()
		if err != nil {
			return fmt.Errorf("message encode: %w", err)
		}
		s.registry.Broadcast(roomID, data, s.client)

		payload.EchoToken = echoToken
		event.Payload = payload

		senderData, err := event.Encode()
		if err != nil {
			return fmt.Errorf("sender copy encode: %w", err)
		}
		if err := s.client.Enqueue(senderData); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to deliver sender copy")
		}
		return nil
	})

	if err != nil {
		s.logger.Error().Err(err).Msg("Publish failed")
		s.client.SendError(errs.NewError(errs.ErrPersistenceFailed))
	}
}

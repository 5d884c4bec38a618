/*
Package chat contains the core message distribution engine.

This file defines the PresenceTracker, which derives online rosters from the
Registry's live connections and layers an explicit typing overlay on top. It
holds no independent source of truth and can be discarded and recomputed at
any time.
*/
package chat

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"roomchat/internal/app/user"
	"roomchat/internal/pkg/logx"
)

// PresenceTracker tracks per-room typing state and broadcasts presence events.
type PresenceTracker struct {
	registry *Registry

	// mu protects typing.
	mu sync.Mutex

	// typing maps room id to the set of user ids currently marked typing.
	// Rooms with no typists carry no entry.
	typing map[int64]map[int64]struct{}

	logger zerolog.Logger
}

// NewPresenceTracker constructs a tracker bound to the given registry.
func NewPresenceTracker(registry *Registry) *PresenceTracker {
	return &PresenceTracker{
		registry: registry,
		typing:   make(map[int64]map[int64]struct{}),
		logger:   logx.Logger().With().Str("component", "presence").Logger(),
	}
}

// SetTyping marks or unmarks the identity as typing in the room and pushes the
// updated typing set to every connection in the room. Repeating the same state
// is idempotent and still rebroadcasts, which is harmless for indicators.
func (p *PresenceTracker) SetTyping(roomID int64, identity user.Identity, isTyping bool) {
	p.mu.Lock()
	typists, ok := p.typing[roomID]
	if isTyping {
		if !ok {
			typists = make(map[int64]struct{})
			p.typing[roomID] = typists
		}
		typists[identity.ID] = struct{}{}
	} else if ok {
		delete(typists, identity.ID)
		if len(typists) == 0 {
			delete(p.typing, roomID)
		}
	}
	p.mu.Unlock()

	p.broadcastTyping(roomID)
}

// TypingSnapshot returns the display names of identities currently typing in
// the room. Names are resolved against the Registry's live connections, so an
// identity that has fully disconnected can never appear even if its typing
// mark has not been cleared yet.
func (p *PresenceTracker) TypingSnapshot(roomID int64) []string {
	p.mu.Lock()
	typists := make(map[int64]struct{}, len(p.typing[roomID]))
	for id := range p.typing[roomID] {
		typists[id] = struct{}{}
	}
	p.mu.Unlock()

	if len(typists) == 0 {
		return []string{}
	}

	names := make([]string, 0, len(typists))
	for _, identity := range p.registry.ListIdentities(roomID) {
		if _, ok := typists[identity.ID]; ok {
			names = append(names, identity.Name)
		}
	}
	sort.Strings(names)
	return names
}

// BroadcastPresence pushes the room's online roster to every connection in the
// room. Called on every connect and disconnect.
func (p *PresenceTracker) BroadcastPresence(roomID int64) {
	payload := OnlineStatusPayload{Users: p.registry.ListIdentities(roomID)}

	data, err := NewEvent(EventOnlineStatus, roomID, payload).Encode()
	if err != nil {
		p.logger.Error().Err(err).Int64("room_id", roomID).Msg("Failed to encode online status event")
		return
	}

	p.registry.Broadcast(roomID, data, nil)
}

// ClearIdentity removes the identity's typing mark when its last connection in
// the room has gone, then rebroadcasts the typing set if anything changed.
// With another connection of the same identity still live, the mark survives.
func (p *PresenceTracker) ClearIdentity(roomID int64, identity user.Identity) {
	for _, online := range p.registry.ListIdentities(roomID) {
		if online.ID == identity.ID {
			return
		}
	}

	p.mu.Lock()
	typists, ok := p.typing[roomID]
	changed := false
	if ok {
		if _, marked := typists[identity.ID]; marked {
			delete(typists, identity.ID)
			changed = true
		}
		if len(typists) == 0 {
			delete(p.typing, roomID)
		}
	}
	p.mu.Unlock()

	if changed {
		p.broadcastTyping(roomID)
	}
}

// broadcastTyping pushes the current typing snapshot to the whole room.
func (p *PresenceTracker) broadcastTyping(roomID int64) {
	payload := TypingPayload{Users: p.TypingSnapshot(roomID)}

	data, err := NewEvent(EventTyping, roomID, payload).Encode()
	if err != nil {
		p.logger.Error().Err(err).Int64("room_id", roomID).Msg("Failed to encode typing event")
		return
	}

	p.registry.Broadcast(roomID, data, nil)
}

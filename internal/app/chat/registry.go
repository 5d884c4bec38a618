/*
Package chat contains the core message distribution engine.

This file defines the Registry, the in-process table of live connections
partitioned by room. It is the only shared mutable state between sessions;
every cross-connection interaction goes through it.
*/
package chat

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"roomchat/internal/app/user"
	"roomchat/internal/pkg/logx"
)

// Conn is the registry's view of one live connection. Delivery must not block:
// Enqueue hands the payload to a bounded outbound queue and reports an error
// when the connection can no longer accept writes.
type Conn interface {
	// ID uniquely identifies the connection (not the user; one user may hold
	// several connections).
	ID() string

	// Identity returns the identity bound to the connection.
	Identity() user.Identity

	// Enqueue queues a payload for delivery without blocking.
	Enqueue(payload []byte) error

	// Close tears down the underlying channel. It must be idempotent.
	Close() error
}

// roomBucket holds the live connections of a single room. Each bucket carries
// its own locks so one room's churn never contends with another's.
type roomBucket struct {
	// mu protects conns.
	mu sync.RWMutex

	// seq serializes persist-then-deliver so events reach the room in the
	// order the persistence gateway committed them.
	seq sync.Mutex

	// conns maps connection id to the live connection.
	conns map[string]Conn
}

// Registry owns the mapping from room to its set of live connections.
// Construct exactly one per process and inject it into sessions.
type Registry struct {
	// mu protects the rooms map. Bucket contents are guarded by bucket locks.
	mu sync.RWMutex

	// rooms maps room id to its bucket. Empty buckets are removed.
	rooms map[int64]*roomBucket

	logger zerolog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[int64]*roomBucket),
		logger: logx.Logger().With().Str("component", "registry").Logger(),
	}
}

// Register adds the connection to the room's bucket. It never fails.
func (r *Registry) Register(roomID int64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.rooms[roomID]
	if !ok {
		bucket = &roomBucket{conns: make(map[string]Conn)}
		r.rooms[roomID] = bucket
	}

	bucket.mu.Lock()
	bucket.conns[c.ID()] = c
	total := len(bucket.conns)
	bucket.mu.Unlock()

	r.logger.Info().
		Int64("room_id", roomID).
		Str("conn_id", c.ID()).
		Int64("user_id", c.Identity().ID).
		Int("total_conns", total).
		Msg("Connection registered")
}

// Unregister removes exactly the matching connection. It is idempotent:
// unregistering an unknown connection is a no-op. A bucket left empty is
// dropped to bound memory.
func (r *Registry) Unregister(roomID int64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.rooms[roomID]
	if !ok {
		return
	}

	bucket.mu.Lock()
	_, present := bucket.conns[c.ID()]
	delete(bucket.conns, c.ID())
	remaining := len(bucket.conns)
	bucket.mu.Unlock()

	if remaining == 0 {
		delete(r.rooms, roomID)
	}

	if present {
		r.logger.Info().
			Int64("room_id", roomID).
			Str("conn_id", c.ID()).
			Int("total_conns", remaining).
			Msg("Connection unregistered")
	}
}

// Broadcast delivers payload to every connection in the room except exclude
// (which may be nil). A connection that rejects the write is reaped from the
// bucket and closed in the same pass so it cannot poison later broadcasts.
// Delivery happens on a snapshot, outside any registry or bucket lock.
// It returns the number of connections the payload was queued for.
func (r *Registry) Broadcast(roomID int64, payload []byte, exclude Conn) int {
	conns := r.snapshot(roomID)
	if len(conns) == 0 {
		return 0
	}

	delivered := 0
	var dead []Conn

	for _, c := range conns {
		if exclude != nil && c.ID() == exclude.ID() {
			continue
		}
		if err := c.Enqueue(payload); err != nil {
			r.logger.Warn().
				Err(err).
				Int64("room_id", roomID).
				Str("conn_id", c.ID()).
				Msg("Broadcast delivery failed, reaping connection")
			dead = append(dead, c)
			continue
		}
		delivered++
	}

	for _, c := range dead {
		r.Unregister(roomID, c)
		if err := c.Close(); err != nil {
			r.logger.Warn().Err(err).Str("conn_id", c.ID()).Msg("Error closing dead connection")
		}
	}

	return delivered
}

// SendTo delivers payload to every live connection bound to the given user in
// the room. It returns the number of connections reached; zero means the user
// is offline and the payload is dropped.
func (r *Registry) SendTo(roomID, userID int64, payload []byte) int {
	delivered := 0
	var dead []Conn

	for _, c := range r.snapshot(roomID) {
		if c.Identity().ID != userID {
			continue
		}
		if err := c.Enqueue(payload); err != nil {
			dead = append(dead, c)
			continue
		}
		delivered++
	}

	for _, c := range dead {
		r.Unregister(roomID, c)
		c.Close()
	}

	return delivered
}

// ListIdentities returns the distinct identities with at least one live
// connection in the room, ordered by user id for stable rosters.
func (r *Registry) ListIdentities(roomID int64) []user.Identity {
	seen := make(map[int64]user.Identity)
	for _, c := range r.snapshot(roomID) {
		identity := c.Identity()
		seen[identity.ID] = identity
	}

	identities := make([]user.Identity, 0, len(seen))
	for _, identity := range seen {
		identities = append(identities, identity)
	}
	sort.Slice(identities, func(i, j int) bool { return identities[i].ID < identities[j].ID })
	return identities
}

// ConnCount returns the number of live connections in the room.
func (r *Registry) ConnCount(roomID int64) int {
	return len(r.snapshot(roomID))
}

// Sequenced runs fn under the room's publish lock, serializing commit and
// delivery so commit order equals broadcast order. The publish lock is
// distinct from the bucket lock: holding it never blocks registration,
// presence reads, or delivery of already-queued events.
func (r *Registry) Sequenced(roomID int64, fn func() error) error {
	r.mu.RLock()
	bucket := r.rooms[roomID]
	r.mu.RUnlock()

	if bucket == nil {
		// Nobody to deliver to; ordering is moot.
		return fn()
	}

	bucket.seq.Lock()
	defer bucket.seq.Unlock()
	return fn()
}

// Shutdown closes every live connection and empties the registry. Called once
// during process shutdown, after the HTTP server has stopped accepting
// upgrades.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[int64]*roomBucket)
	r.mu.Unlock()

	closed := 0
	for _, bucket := range rooms {
		bucket.mu.Lock()
		for _, c := range bucket.conns {
			c.Close()
			closed++
		}
		bucket.conns = make(map[string]Conn)
		bucket.mu.Unlock()
	}

	r.logger.Info().Int("closed_conns", closed).Msg("Registry shut down")
}

// snapshot copies the room's current connections so delivery can proceed
// without holding any lock across per-connection writes.
func (r *Registry) snapshot(roomID int64) []Conn {
	r.mu.RLock()
	bucket := r.rooms[roomID]
	r.mu.RUnlock()

	if bucket == nil {
		return nil
	}

	bucket.mu.RLock()
	defer bucket.mu.RUnlock()

	conns := make([]Conn, 0, len(bucket.conns))
	for _, c := range bucket.conns {
		conns = append(conns, c)
	}
	return conns
}

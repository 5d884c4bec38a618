package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomchat/internal/app/store"
	"roomchat/internal/app/user"
)

// fakeConn is an in-memory Conn that records everything queued to it.
type fakeConn struct {
	id       string
	identity user.Identity

	mu       sync.Mutex
	payloads [][]byte
	reject   bool
	closed   bool
}

func newFakeConn(id string, userID int64, name string) *fakeConn {
	return &fakeConn{id: id, identity: user.Identity{ID: userID, Name: name}}
}

func (c *fakeConn) ID() string              { return c.id }
func (c *fakeConn) Identity() user.Identity { return c.identity }

func (c *fakeConn) Enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.reject {
		return ErrSendQueueFull
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) startRejecting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = true
}

// fakeGateway is an in-memory store.Gateway with the same semantics as the
// PostgreSQL implementation: monotone message ids and first-write-wins receipts.
type fakeGateway struct {
	mu       sync.Mutex
	members  map[int64]map[int64]bool
	names    map[int64]string
	messages map[int64]store.ChatMessage
	nextID   int64
	receipts map[string]store.SeenReceipt

	// failNext, when set, makes the next gateway call return that error.
	failNext error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		members:  make(map[int64]map[int64]bool),
		names:    make(map[int64]string),
		messages: make(map[int64]store.ChatMessage),
		receipts: make(map[string]store.SeenReceipt),
	}
}

func (g *fakeGateway) addMember(roomID, userID int64, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.members[roomID] == nil {
		g.members[roomID] = make(map[int64]bool)
	}
	g.members[roomID][userID] = true
	g.names[userID] = name
}

func (g *fakeGateway) failOnce(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

func (g *fakeGateway) takeFailure() error {
	err := g.failNext
	g.failNext = nil
	return err
}

func (g *fakeGateway) IsMember(_ context.Context, roomID, userID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return false, err
	}
	return g.members[roomID][userID], nil
}

func (g *fakeGateway) CreateMessage(_ context.Context, roomID, senderID int64, content string, attachments []store.Attachment) (store.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return store.ChatMessage{}, err
	}

	g.nextID++
	msg := store.ChatMessage{
		ID:          g.nextID,
		RoomID:      roomID,
		SenderID:    senderID,
		SenderName:  g.names[senderID],
		Content:     content,
		Attachments: attachments,
		CreatedAt:   time.Now().UTC(),
	}
	g.messages[msg.ID] = msg
	return msg, nil
}

func (g *fakeGateway) ListRecentMessages(_ context.Context, roomID int64, limit int) ([]store.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	var all []store.ChatMessage
	for id := int64(1); id <= g.nextID; id++ {
		if msg, ok := g.messages[id]; ok && msg.RoomID == roomID {
			all = append(all, msg)
		}
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (g *fakeGateway) GetMessage(_ context.Context, messageID int64) (store.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return store.ChatMessage{}, err
	}

	msg, ok := g.messages[messageID]
	if !ok {
		return store.ChatMessage{}, store.ErrMessageNotFound
	}
	return msg, nil
}

func (g *fakeGateway) FindReceipt(_ context.Context, messageID, userID int64) (*store.SeenReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	receipt, ok := g.receipts[receiptKey(messageID, userID)]
	if !ok {
		return nil, nil
	}
	return &receipt, nil
}

func (g *fakeGateway) CreateReceipt(_ context.Context, messageID, userID int64, seenAt time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure(); err != nil {
		return false, err
	}

	key := receiptKey(messageID, userID)
	if _, ok := g.receipts[key]; ok {
		return false, nil
	}
	g.receipts[key] = store.SeenReceipt{MessageID: messageID, UserID: userID, SeenAt: seenAt}
	return true, nil
}

func (g *fakeGateway) receiptCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.receipts)
}

func receiptKey(messageID, userID int64) string {
	return fmt.Sprintf("%d/%d", messageID, userID)
}

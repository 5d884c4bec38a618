package chat

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Register_And_Broadcast(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	alice := newFakeConn("c1", 1, "alice")
	bob := newFakeConn("c2", 2, "bob")

	registry.Register(7, alice)
	registry.Register(7, bob)
	req.Equal(2, registry.ConnCount(7))

	delivered := registry.Broadcast(7, []byte("hello"), nil)

	req.Equal(2, delivered)
	req.Len(alice.received(), 1)
	req.Len(bob.received(), 1)
}

func TestRegistry_Broadcast_Excludes_Sender(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	alice := newFakeConn("c1", 1, "alice")
	bob := newFakeConn("c2", 2, "bob")
	registry.Register(7, alice)
	registry.Register(7, bob)

	delivered := registry.Broadcast(7, []byte("hello"), alice)

	req.Equal(1, delivered)
	req.Empty(alice.received())
	req.Len(bob.received(), 1)
}

func TestRegistry_Broadcast_Is_Room_Scoped(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	alice := newFakeConn("c1", 1, "alice")
	carol := newFakeConn("c2", 3, "carol")
	registry.Register(7, alice)
	registry.Register(8, carol)

	delivered := registry.Broadcast(7, []byte("hello"), nil)

	req.Equal(1, delivered)
	req.Len(alice.received(), 1)
	req.Empty(carol.received())
}

func TestRegistry_Broadcast_Empty_Room_Is_Noop(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	req.Equal(0, registry.Broadcast(42, []byte("hello"), nil))
}

func TestRegistry_Broadcast_Reaps_Dead_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	alice := newFakeConn("c1", 1, "alice")
	bob := newFakeConn("c2", 2, "bob")
	registry.Register(7, alice)
	registry.Register(7, bob)

	// Given bob's queue is saturated
	bob.startRejecting()

	delivered := registry.Broadcast(7, []byte("hello"), nil)

	// Then bob is removed and closed in the same pass
	req.Equal(1, delivered)
	req.Equal(1, registry.ConnCount(7))
	req.True(bob.isClosed())
	req.False(alice.isClosed())

	// And later broadcasts no longer see him
	req.Equal(1, registry.Broadcast(7, []byte("again"), nil))
}

func TestRegistry_Unregister_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	alice := newFakeConn("c1", 1, "alice")
	registry.Register(7, alice)

	registry.Unregister(7, alice)
	registry.Unregister(7, alice)
	registry.Unregister(99, alice)

	req.Equal(0, registry.ConnCount(7))
}

func TestRegistry_SendTo_Reaches_All_Connections_Of_User(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	// Given alice is connected from two devices
	phone := newFakeConn("c1", 1, "alice")
	laptop := newFakeConn("c2", 1, "alice")
	bob := newFakeConn("c3", 2, "bob")
	registry.Register(7, phone)
	registry.Register(7, laptop)
	registry.Register(7, bob)

	delivered := registry.SendTo(7, 1, []byte("for alice"))

	req.Equal(2, delivered)
	req.Len(phone.received(), 1)
	req.Len(laptop.received(), 1)
	req.Empty(bob.received())
}

func TestRegistry_SendTo_Offline_User_Returns_Zero(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	registry.Register(7, newFakeConn("c1", 1, "alice"))

	req.Equal(0, registry.SendTo(7, 99, []byte("nobody home")))
}

func TestRegistry_ListIdentities_Is_Distinct_And_Sorted(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	registry.Register(7, newFakeConn("c1", 2, "bob"))
	registry.Register(7, newFakeConn("c2", 1, "alice"))
	registry.Register(7, newFakeConn("c3", 1, "alice"))

	identities := registry.ListIdentities(7)

	req.Len(identities, 2)
	req.Equal(int64(1), identities[0].ID)
	req.Equal("alice", identities[0].Name)
	req.Equal(int64(2), identities[1].ID)
}

func TestRegistry_Sequenced_Preserves_Commit_Order(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	sink := newFakeConn("c1", 1, "alice")
	registry.Register(7, sink)

	// When many goroutines commit and broadcast under the publish lock
	var nextSeq int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.Sequenced(7, func() error {
				nextSeq++
				payload, _ := json.Marshal(map[string]int{"seq": nextSeq})
				registry.Broadcast(7, payload, nil)
				return nil
			})
		}()
	}
	wg.Wait()

	// Then the sink observes commits in exactly commit order
	payloads := sink.received()
	req.Len(payloads, 50)
	for i, payload := range payloads {
		var body map[string]int
		req.NoError(json.Unmarshal(payload, &body))
		req.Equal(i+1, body["seq"], "payload %d out of order", i)
	}
}

func TestRegistry_Sequenced_Runs_Without_Bucket(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	ran := false
	err := registry.Sequenced(42, func() error {
		ran = true
		return fmt.Errorf("boom")
	})

	req.True(ran)
	req.EqualError(err, "boom")
}

func TestRegistry_Shutdown_Closes_Everything(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	alice := newFakeConn("c1", 1, "alice")
	carol := newFakeConn("c2", 3, "carol")
	registry.Register(7, alice)
	registry.Register(8, carol)

	registry.Shutdown()

	req.True(alice.isClosed())
	req.True(carol.isClosed())
	req.Equal(0, registry.ConnCount(7))
	req.Equal(0, registry.ConnCount(8))
}

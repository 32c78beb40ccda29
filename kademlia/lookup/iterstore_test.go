package lookup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/kademlia/config"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

type fakeLocalWriter struct {
	mu   sync.Mutex
	puts []guid.GUID
	s    *store.Store
}

func (w *fakeLocalWriter) Put(key guid.GUID, value store.Value, now, originallyPublishedAt time.Time, originalPublisher guid.GUID, marketID string) error {
	w.mu.Lock()
	w.puts = append(w.puts, key)
	w.mu.Unlock()
	return w.s.Put(key, value, now, originallyPublishedAt, originalPublisher, marketID)
}

type storeSent struct {
	to  peer.Contact
	req StoreRequest
}

type fakeStoreSender struct {
	mu   sync.Mutex
	sent chan storeSent
}

func newFakeStoreSender() *fakeStoreSender {
	return &fakeStoreSender{sent: make(chan storeSent, 16)}
}

func (s *fakeStoreSender) SendStore(ctx context.Context, to peer.Contact, req StoreRequest) error {
	s.sent <- storeSent{to: to, req: req}
	return nil
}

// IterativeStore writes to the local store
// before dispatching replicas, and fires a store message at each node
// the lookup converged on.
func TestIterativeStoreWritesLocalThenReplicates(t *testing.T) {
	t.Parallel()

	self := testContact(0x01)
	routes := newFakeRoutes()
	target := testContact(0x02)
	routes.byGUID[target.GUID] = target
	routes.close = []peer.Contact{target}

	sender := &fakeSender{}
	storeSender := newFakeStoreSender()
	e := NewEngine(self, routes, newFakePeers(), sender, config.Default)

	writer := &fakeLocalWriter{s: store.New()}
	key := testContact(0x55).GUID
	value := store.OpaqueValue([]byte("hello"))

	require.NoError(t, e.IterativeStore(context.Background(), key, value, guid.Zero, 0, "", writer, storeSender))

	findID := sender.calls()[0].req.FindID
	e.HandleFindNodeResponse(context.Background(), target, FindNodeResponse{
		SenderGUID: target.GUID,
		FindID:     findID,
		FoundNodes: nil, // no growth -> converges with shortlist=[target]
	})

	require.Len(t, writer.puts, 1)
	assert.True(t, writer.puts[0].Equal(key))

	got, ok := writer.s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got.Value.Opaque)

	select {
	case sent := <-storeSender.sent:
		assert.True(t, sent.to.GUID.Equal(target.GUID))
		assert.True(t, sent.req.Key.Equal(key))
	case <-time.After(time.Second):
		t.Fatal("expected a store message dispatched to the converged node")
	}
}

func TestIterativeStoreEmptyShortlistWritesLocalOnly(t *testing.T) {
	t.Parallel()

	self := testContact(0x01)
	routes := newFakeRoutes() // empty shortlist: bootstrap-empty path
	sender := &fakeSender{}
	storeSender := newFakeStoreSender()
	e := NewEngine(self, routes, newFakePeers(), sender, config.Default)

	writer := &fakeLocalWriter{s: store.New()}
	key := testContact(0x55).GUID

	require.NoError(t, e.IterativeStore(context.Background(), key, store.OpaqueValue([]byte("x")), guid.Zero, 0, "", writer, storeSender))

	require.Len(t, writer.puts, 1, "local store write happens even with an empty convergence shortlist")
	select {
	case <-storeSender.sent:
		t.Fatal("no replicas to dispatch when the shortlist is empty")
	case <-time.After(100 * time.Millisecond):
	}
}

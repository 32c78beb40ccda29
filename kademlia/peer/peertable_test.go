package peer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowlingb/OpenBazaar/guid"
)

type fakeRoutingTable struct {
	entries map[guid.GUID]Contact
}

func newFakeRoutingTable() *fakeRoutingTable {
	return &fakeRoutingTable{entries: make(map[guid.GUID]Contact)}
}

func (f *fakeRoutingTable) Get(id guid.GUID) (Contact, bool) {
	c, ok := f.entries[id]
	return c, ok
}

func (f *fakeRoutingTable) Add(c Contact) error {
	f.entries[c.GUID] = c
	return nil
}

func (f *fakeRoutingTable) Remove(id guid.GUID) bool {
	_, ok := f.entries[id]
	delete(f.entries, id)
	return ok
}

type fakeCryptoPeer struct {
	portOK       bool
	handshakeErr error
}

func (f *fakeCryptoPeer) CheckPort(ctx context.Context) bool { return f.portOK }

func (f *fakeCryptoPeer) StartHandshake(ctx context.Context, onComplete func(err error)) {
	onComplete(f.handshakeErr)
}

func (f *fakeCryptoPeer) Send(ctx context.Context, msg []byte) error { return nil }

type fakeTransport struct {
	peer CryptoPeer
	err  error
}

func (f *fakeTransport) GetCryptoPeer(ctx context.Context, c Contact) (CryptoPeer, error) {
	return f.peer, f.err
}

type fakePersistence struct {
	saved []Contact
}

func (f *fakePersistence) SavePeer(c Contact) error {
	f.saved = append(f.saved, c)
	return nil
}

// Partial match: same GUID, later address/pubkey change. Both the
// peer table and routing table end up with the newest tuple, no dupes.
func TestUpsertPartialMatchReplacesOnAddressChange(t *testing.T) {
	t.Parallel()

	routes := newFakeRoutingTable()
	pt := NewPeerTable(routes, &fakeTransport{peer: &fakeCryptoPeer{portOK: true}}, &fakePersistence{})
	ctx := context.Background()

	id := guid.Random()
	require.NoError(t, pt.Upsert(ctx, "u1", []byte("p1"), id, "alice"))
	first, ok := pt.Get(id)
	require.True(t, ok)
	assert.Equal(t, "u1", first.Address)

	require.NoError(t, pt.Upsert(ctx, "u2", []byte("p2"), id, "alice"))
	second, ok := pt.Get(id)
	require.True(t, ok)
	assert.Equal(t, "u2", second.Address)
	assert.Equal(t, []byte("p2"), second.PublicKey)

	rtEntry, ok := routes.Get(id)
	require.True(t, ok)
	assert.Equal(t, "u2", rtEntry.Address)

	assert.Equal(t, 1, len(pt.All()), "no duplicate entries should remain")
}

func TestUpsertNewPeerGoesThroughHandshake(t *testing.T) {
	t.Parallel()

	routes := newFakeRoutingTable()
	persistence := &fakePersistence{}
	pt := NewPeerTable(routes, &fakeTransport{peer: &fakeCryptoPeer{portOK: true}}, persistence)

	id := guid.Random()
	require.NoError(t, pt.Upsert(context.Background(), "u1", []byte("p1"), id, "bob"))

	_, ok := pt.Get(id)
	assert.True(t, ok)
	_, ok = routes.Get(id)
	assert.True(t, ok)
	assert.Len(t, persistence.saved, 1)
	assert.Len(t, pt.KnownNodes(), 1)
}

func TestUpsertPortProbeFailureDoesNotInsert(t *testing.T) {
	t.Parallel()

	routes := newFakeRoutingTable()
	pt := NewPeerTable(routes, &fakeTransport{peer: &fakeCryptoPeer{portOK: false}}, &fakePersistence{})

	id := guid.Random()
	require.NoError(t, pt.Upsert(context.Background(), "u1", []byte("p1"), id, "carol"))

	_, ok := pt.Get(id)
	assert.False(t, ok)
	_, ok = routes.Get(id)
	assert.False(t, ok)
}

func TestFindExactTuple(t *testing.T) {
	t.Parallel()

	routes := newFakeRoutingTable()
	pt := NewPeerTable(routes, &fakeTransport{peer: &fakeCryptoPeer{portOK: true}}, &fakePersistence{})

	id := guid.Random()
	require.NoError(t, pt.Upsert(context.Background(), "u1", []byte("p1"), id, "dave"))

	_, ok := pt.Find("u1", []byte("p1"), id, "dave")
	assert.True(t, ok)

	_, ok = pt.Find("different", []byte("p1"), id, "dave")
	assert.False(t, ok)
}

func TestRemoveByAddress(t *testing.T) {
	t.Parallel()

	routes := newFakeRoutingTable()
	pt := NewPeerTable(routes, &fakeTransport{peer: &fakeCryptoPeer{portOK: true}}, &fakePersistence{})

	id := guid.Random()
	require.NoError(t, pt.Upsert(context.Background(), "u1", []byte("p1"), id, "erin"))
	pt.Remove("u1")

	_, ok := pt.Get(id)
	assert.False(t, ok)
}

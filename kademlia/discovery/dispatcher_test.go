package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/kademlia/lookup"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

type fakeEngine struct {
	findNodeResp *lookup.FindNodeResponse
	findNodeErr  error

	lastFrom peer.Contact
	lastResp lookup.FindNodeResponse
}

func (f *fakeEngine) HandleFindNode(ctx context.Context, from peer.Contact, req lookup.FindNodeRequest, localStore lookup.LocalStore) (*lookup.FindNodeResponse, error) {
	return f.findNodeResp, f.findNodeErr
}

func (f *fakeEngine) HandleFindNodeResponse(ctx context.Context, from peer.Contact, resp lookup.FindNodeResponse) {
	f.lastFrom = from
	f.lastResp = resp
}

func TestOnFindNodeDropsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	svc := NewService(eng, store.New(), nil)

	resp, err := svc.OnFindNode(context.Background(), peer.Contact{}, lookup.FindNodeRequest{})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestOnFindNodeDropsPartiallyMissingRequiredFields(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{findNodeResp: &lookup.FindNodeResponse{}}
	svc := NewService(eng, store.New(), nil)

	// Key is present but FindID, URI, and PubKey are not: every one of
	// the four required fields must be present, not just one.
	resp, err := svc.OnFindNode(context.Background(), peer.Contact{}, lookup.FindNodeRequest{Key: guid.Random()})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestOnFindNodeDelegatesToEngine(t *testing.T) {
	t.Parallel()

	want := &lookup.FindNodeResponse{SenderGUID: guid.Random()}
	eng := &fakeEngine{findNodeResp: want}
	svc := NewService(eng, store.New(), nil)

	got, err := svc.OnFindNode(context.Background(), peer.Contact{}, lookup.FindNodeRequest{
		Key:    guid.Random(),
		FindID: guid.Random(),
		URI:    "addr",
		PubKey: []byte("pubkey"),
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOnFindNodeResponseDelegatesToEngine(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	svc := NewService(eng, store.New(), nil)

	from := peer.New(guid.Random(), "addr", nil, "")
	resp := lookup.FindNodeResponse{FindID: guid.Random()}
	svc.OnFindNodeResponse(context.Background(), from, resp)

	assert.True(t, eng.lastFrom.Equals(from))
	assert.Equal(t, resp.FindID, eng.lastResp.FindID)
}

func TestOnStoreAppliesOpaquePut(t *testing.T) {
	t.Parallel()

	s := store.New()
	svc := NewService(&fakeEngine{}, s, nil)

	key := guid.Random()
	publisher := guid.Random()
	svc.OnStore(context.Background(), peer.Contact{}, lookup.StoreRequest{
		Key:                 key,
		Value:               store.OpaqueValue([]byte("payload")),
		OriginalPublisherID: publisher,
		Age:                 0,
	})

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got.Value.Opaque)
}

func TestOnStoreAppliesKeywordMutation(t *testing.T) {
	t.Parallel()

	s := store.New()
	svc := NewService(&fakeEngine{}, s, nil)

	key := guid.Random()
	publisher := guid.Random()
	svc.OnStore(context.Background(), peer.Contact{}, lookup.StoreRequest{
		Key:                 key,
		OriginalPublisherID: publisher,
		Mutation:            store.MutationKeywordAdd,
		ListingElement:      "L1",
	})

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Contains(t, got.Value.Listings(), "L1")
}

func TestOnStoreDropsMissingPublisherWithoutPanicking(t *testing.T) {
	t.Parallel()

	s := store.New()
	svc := NewService(&fakeEngine{}, s, nil)

	key := guid.Random()
	svc.OnStore(context.Background(), peer.Contact{}, lookup.StoreRequest{
		Key:   key,
		Value: store.OpaqueValue([]byte("x")),
		// OriginalPublisherID left zero: precondition failure, dropped.
	})

	_, ok := s.Get(key)
	assert.False(t, ok)
}

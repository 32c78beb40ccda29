package boltstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndLoadOpaqueValue(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	now := time.Now().Truncate(time.Second)
	sv := store.StoredValue{
		Key:                   guid.Random(),
		Value:                 store.OpaqueValue([]byte("hello")),
		OriginalPublisherGUID: guid.Random(),
		OriginallyPublishedAt: now,
		LastPublishedAt:       now,
		MarketID:              "market-1",
	}
	require.NoError(t, db.SaveValue(sv))

	loaded, err := db.LoadValues()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, sv.Key, loaded[0].Key)
	assert.Equal(t, sv.Value.Opaque, loaded[0].Value.Opaque)
	assert.Equal(t, sv.OriginalPublisherGUID, loaded[0].OriginalPublisherGUID)
	assert.Equal(t, sv.MarketID, loaded[0].MarketID)
}

func TestSaveAndLoadNotarySetValue(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	v := store.NewNotarySet()
	n1, n2 := guid.Random(), guid.Random()
	v.AddNotary(n1)
	v.AddNotary(n2)

	sv := store.StoredValue{
		Key:                   guid.Random(),
		Value:                 v,
		OriginalPublisherGUID: guid.Random(),
		OriginallyPublishedAt: time.Now(),
		LastPublishedAt:       time.Now(),
	}
	require.NoError(t, db.SaveValue(sv))

	loaded, err := db.LoadValues()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.ElementsMatch(t, []guid.GUID{n1, n2}, loaded[0].Value.Notaries())
}

func TestDeleteValueRemovesEntry(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	sv := store.StoredValue{
		Key:                   guid.Random(),
		Value:                 store.OpaqueValue([]byte("x")),
		OriginalPublisherGUID: guid.Random(),
		OriginallyPublishedAt: time.Now(),
		LastPublishedAt:       time.Now(),
	}
	require.NoError(t, db.SaveValue(sv))
	require.NoError(t, db.DeleteValue(sv.Key))

	loaded, err := db.LoadValues()
	require.NoError(t, err)
	assert.Len(t, loaded, 0)
}

func TestSavePeerPersistsTuple(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	c := peer.New(guid.Random(), "127.0.0.1:9000", []byte("pk"), "alice")
	require.NoError(t, db.SavePeer(c))
}

func TestKnownNodesRoundTrip(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	nodes := []peer.Contact{
		peer.New(guid.Random(), "127.0.0.1:9000", []byte("pk1"), "alice"),
		peer.New(guid.Random(), "127.0.0.1:9001", []byte("pk2"), "bob"),
	}
	require.NoError(t, db.SaveKnownNodes(nodes))

	loaded, err := db.LoadKnownNodes()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	for i := range nodes {
		assert.Equal(t, nodes[i].GUID, loaded[i].GUID)
		assert.Equal(t, nodes[i].Address, loaded[i].Address)
		assert.Equal(t, nodes[i].Nickname, loaded[i].Nickname)
	}

	// Re-saving overwrites rather than accumulates.
	require.NoError(t, db.SaveKnownNodes(nodes[:1]))
	loaded, err = db.LoadKnownNodes()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

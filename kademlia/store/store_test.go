package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowlingb/OpenBazaar/guid"
)

func TestPutGetRoundTripOpaque(t *testing.T) {
	t.Parallel()

	s := New()
	key := guid.Random()
	publisher := guid.Random()
	now := time.Now()

	require.NoError(t, s.Put(key, OpaqueValue([]byte("hello")), now, now, publisher, ""))

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got.Value.Opaque)
	assert.Equal(t, publisher, got.OriginalPublisherGUID)
}

func TestPutFailsWithoutPublisher(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.Put(guid.Random(), OpaqueValue([]byte("x")), time.Now(), time.Now(), guid.Zero, "")
	assert.ErrorIs(t, err, ErrMissingPublisher)
}

func TestDelRemovesKey(t *testing.T) {
	t.Parallel()

	s := New()
	key := guid.Random()
	require.NoError(t, s.Put(key, OpaqueValue([]byte("x")), time.Now(), time.Now(), guid.Random(), ""))
	s.Del(key)
	_, ok := s.Get(key)
	assert.False(t, ok)
}

// Two writers independently add "L1" and "L2"
// to the same key; the resulting set is {L1, L2}, order-insensitive.
func TestKeywordIndexMergeIsCommutative(t *testing.T) {
	t.Parallel()

	s := New()
	key := guid.Random()
	now := time.Now()
	publisherA := guid.Random()
	publisherB := guid.Random()

	require.NoError(t, s.ApplyKeywordMutation(key, MutationKeywordAdd, "L1", now, 0, publisherA, "market1"))
	require.NoError(t, s.ApplyKeywordMutation(key, MutationKeywordAdd, "L2", now, 0, publisherB, "market1"))

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"L1", "L2"}, got.Value.Listings())
}

func TestKeywordIndexRemoveCancelsExactlyOneMatchingAdd(t *testing.T) {
	t.Parallel()

	s := New()
	key := guid.Random()
	now := time.Now()
	publisher := guid.Random()

	require.NoError(t, s.ApplyKeywordMutation(key, MutationKeywordAdd, "L1", now, 0, publisher, ""))
	require.NoError(t, s.ApplyKeywordMutation(key, MutationKeywordAdd, "L2", now, 0, publisher, ""))
	require.NoError(t, s.ApplyKeywordMutation(key, MutationKeywordRemove, "L1", now, 0, publisher, ""))

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"L2"}, got.Value.Listings())
}

func TestKeywordIndexRemoveAbsentIsSilentNoOp(t *testing.T) {
	t.Parallel()

	s := New()
	p := newFakePersistence()
	s.SetPersistence(p)
	key := guid.Random()
	now := time.Now()
	publisher := guid.Random()

	// Remove targeting a key that was never stored: no entry may
	// appear and nothing may be persisted.
	require.NoError(t, s.ApplyKeywordMutation(key, MutationKeywordRemove, "ghost", now, 0, publisher, ""))

	_, ok := s.Get(key)
	require.False(t, ok, "a remove of a nonexistent key must not create an entry")
	assert.Empty(t, p.saved, "nothing may reach persistence for a dropped remove")

	// Remove of an element absent from an existing set: the entry's
	// metadata stays untouched and no further persistence happens.
	require.NoError(t, s.ApplyKeywordMutation(key, MutationKeywordAdd, "L1", now, 0, publisher, ""))
	before, ok := s.Get(key)
	require.True(t, ok)
	savedBefore := len(p.saved)

	require.NoError(t, s.ApplyKeywordMutation(key, MutationKeywordRemove, "ghost", now.Add(time.Minute), 0, publisher, ""))

	after, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, before.LastPublishedAt, after.LastPublishedAt, "a dropped remove must not touch metadata")
	assert.ElementsMatch(t, []string{"L1"}, after.Value.Listings())
	assert.Equal(t, savedBefore, len(p.saved), "a dropped remove must not re-persist the entry")
}

func TestNotaryIndexMergeBehavesAsSet(t *testing.T) {
	t.Parallel()

	s := New()
	key := guid.Random()
	now := time.Now()
	publisher := guid.Random()
	n1, n2 := guid.Random(), guid.Random()

	require.NoError(t, s.ApplyNotaryMutation(key, MutationNotaryAdd, n1, now, 0, publisher, ""))
	require.NoError(t, s.ApplyNotaryMutation(key, MutationNotaryAdd, n2, now, 0, publisher, ""))
	require.NoError(t, s.ApplyNotaryMutation(key, MutationNotaryAdd, n1, now, 0, publisher, "")) // idempotent

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.ElementsMatch(t, []guid.GUID{n1, n2}, got.Value.Notaries())

	require.NoError(t, s.ApplyNotaryMutation(key, MutationNotaryRemove, n1, now, 0, publisher, ""))
	got, ok = s.Get(key)
	require.True(t, ok)
	assert.ElementsMatch(t, []guid.GUID{n2}, got.Value.Notaries())
}

func TestIsInternalKeyExcludesBookkeeping(t *testing.T) {
	t.Parallel()

	s := New()
	s.PutInternal(NodeStateKey, OpaqueValue([]byte("routing-state")), time.Now())

	ordinary := guid.Random()
	require.NoError(t, s.Put(ordinary, OpaqueValue([]byte("x")), time.Now(), time.Now(), guid.Random(), ""))

	assert.True(t, s.IsInternalKey(NodeStateKey))
	assert.False(t, s.IsInternalKey(ordinary))
}

type fakePersistence struct {
	saved   map[guid.GUID]StoredValue
	deleted map[guid.GUID]struct{}
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{saved: make(map[guid.GUID]StoredValue), deleted: make(map[guid.GUID]struct{})}
}

func (p *fakePersistence) SaveValue(sv StoredValue) error {
	p.saved[sv.Key] = sv
	delete(p.deleted, sv.Key)
	return nil
}

func (p *fakePersistence) DeleteValue(key guid.GUID) error {
	p.deleted[key] = struct{}{}
	delete(p.saved, key)
	return nil
}

func TestPersistenceReceivesPutAndDel(t *testing.T) {
	t.Parallel()

	s := New()
	p := newFakePersistence()
	s.SetPersistence(p)

	key := guid.Random()
	publisher := guid.Random()
	now := time.Now()
	require.NoError(t, s.Put(key, OpaqueValue([]byte("hello")), now, now, publisher, ""))

	saved, ok := p.saved[key]
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), saved.Value.Opaque)

	s.Del(key)
	_, ok = p.saved[key]
	assert.False(t, ok)
	_, ok = p.deleted[key]
	assert.True(t, ok)
}

func TestPersistenceReceivesIndexMutations(t *testing.T) {
	t.Parallel()

	s := New()
	p := newFakePersistence()
	s.SetPersistence(p)

	key := guid.Random()
	publisher := guid.Random()
	now := time.Now()
	require.NoError(t, s.ApplyKeywordMutation(key, MutationKeywordAdd, "L1", now, 0, publisher, ""))

	saved, ok := p.saved[key]
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"L1"}, saved.Value.Listings())
}

func TestKeysIncludesEverything(t *testing.T) {
	t.Parallel()

	s := New()
	a, b := guid.Random(), guid.Random()
	require.NoError(t, s.Put(a, OpaqueValue(nil), time.Now(), time.Now(), guid.Random(), ""))
	require.NoError(t, s.Put(b, OpaqueValue(nil), time.Now(), time.Now(), guid.Random(), ""))

	assert.ElementsMatch(t, []guid.GUID{a, b}, s.Keys())
}

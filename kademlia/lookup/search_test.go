package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
)

// Spec §9 flags the source's dedupe as collapsing tuples by set of
// components, losing information when two distinct peers share
// components in different positions, and directs implementers to keep
// order-sensitive equality instead. These two contacts share the same
// address and guid values but in swapped roles; under the rejected
// set-based rule they would collapse into one entry, but here they are
// distinct tuples and both survive.
func TestDedupeIsOrderSensitiveNotSetBased(t *testing.T) {
	t.Parallel()

	idA, idB := guid.Random(), guid.Random()
	a := peer.New(idA, idB.String(), nil, "")
	b := peer.New(idB, idA.String(), nil, "")

	out := dedupeShortlist([]peer.Contact{a, b})
	assert.Len(t, out, 2, "distinct (address, guid) tuples must not collapse")
}

func TestDedupePreservesFirstOccurrence(t *testing.T) {
	t.Parallel()

	id := guid.Random()
	first := peer.New(id, "addr-1", []byte("pk1"), "alice")
	dup := peer.New(id, "addr-1", []byte("pk2"), "bob")

	out := dedupeShortlist([]peer.Contact{first, dup})
	assert.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Nickname, "first occurrence wins")
}

func TestDedupeRemovesExactRepeat(t *testing.T) {
	t.Parallel()

	id := guid.Random()
	c := peer.New(id, "addr-1", nil, "")

	out := dedupeShortlist([]peer.Contact{c, c, c})
	assert.Len(t, out, 1)
}

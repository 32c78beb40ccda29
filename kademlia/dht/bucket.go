package dht

import (
	"container/list"

	"github.com/bowlingb/OpenBazaar/kademlia/peer"
)

// Bucket is an ordered sequence of at most k Contacts, front being the
// most-recently-seen entry and back being the least-recently-seen one
// (the eviction candidate). Bucket contents are only ever mutated
// while the owning RoutingTable's lock is held; it carries no lock of
// its own.
type Bucket struct {
	*list.List
}

// NewBucket returns an empty Bucket.
func NewBucket() *Bucket {
	return &Bucket{List: list.New()}
}

// contacts returns the bucket's entries, front (most-recently-seen)
// first.
func (b *Bucket) contacts() []peer.Contact {
	out := make([]peer.Contact, 0, b.Len())
	for e := b.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(peer.Contact))
	}
	return out
}

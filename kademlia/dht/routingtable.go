// Package dht implements the routing table: a binary tree whose leaves
// are k-buckets covering disjoint, contiguous ranges of the 160-bit
// key space. Only the bucket containing the local GUID ever splits.
package dht

import (
	"container/list"
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/config"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
)

// ErrBucketFull is returned by Add when a full, non-splittable bucket
// has no Pinger configured to probe its least-recently-seen entry. When
// a Pinger is configured and the LRU entry answers, the new contact is
// discarded and Add returns nil.
var ErrBucketFull = errors.New("dht: bucket is full")

// Pinger probes a candidate-for-eviction contact's liveness when a
// full, non-splittable bucket has to decide between its
// least-recently-seen entry and a new contact. Injectable so the
// routing table stays free of any transport dependency.
type Pinger interface {
	Ping(ctx context.Context, c peer.Contact) bool
}

type node struct {
	// prefix/depth describe the range this node (leaf or internal)
	// covers: every GUID whose first `depth` bits equal prefix's first
	// depth bits. depth also names the next bit position examined when
	// descending through an internal node.
	prefix guid.GUID
	depth  int

	containsSelf bool
	lastTouched  time.Time

	bucket      *Bucket // non-nil iff this is a leaf
	left, right *node
}

// RoutingTable is the k-bucket tree routing table.
type RoutingTable struct {
	mu     sync.RWMutex
	self   guid.GUID
	root   *node
	cfg    config.Config
	pinger Pinger
}

// NewRoutingTable constructs a RoutingTable rooted at self, covering the
// full key space as a single bucket. self is never stored as a member
// of any bucket.
func NewRoutingTable(self guid.GUID, cfg config.Config, pinger Pinger) *RoutingTable {
	return &RoutingTable{
		self: self,
		root: &node{
			containsSelf: true,
			bucket:       NewBucket(),
			lastTouched:  time.Now(),
		},
		cfg:    cfg,
		pinger: pinger,
	}
}

// pathTo returns the root-to-leaf path of nodes that id descends through.
// Caller must hold t.mu.
func (t *RoutingTable) pathTo(id guid.GUID) []*node {
	path := make([]*node, 0, guid.Size*8)
	n := t.root
	path = append(path, n)
	for n.bucket == nil {
		if id.Bit(n.depth) == 0 {
			n = n.left
		} else {
			n = n.right
		}
		path = append(path, n)
	}
	return path
}

// Add locates the bucket for contact.GUID, moving it to the
// most-recently-seen position if present, appending it if there is
// room, splitting the local bucket if it is full and splittable, or
// else probing the least-recently-seen entry for eviction.
func (t *RoutingTable) Add(contact peer.Contact) error {
	return t.AddContext(context.Background(), contact)
}

// AddContext is Add with an explicit context for the eviction probe.
func (t *RoutingTable) AddContext(ctx context.Context, contact peer.Contact) error {
	if contact.GUID.Equal(t.self) {
		return errors.New("dht: refusing to add local guid to routing table")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		path := t.pathTo(contact.GUID)
		leaf := path[len(path)-1]
		bucket := leaf.bucket

		if elem := findElement(bucket, contact.GUID); elem != nil {
			bucket.MoveToFront(elem)
			elem.Value = contact
			leaf.lastTouched = time.Now()
			return nil
		}

		if bucket.Len() < t.cfg.K {
			bucket.PushFront(contact)
			leaf.lastTouched = time.Now()
			return nil
		}

		if leaf.containsSelf && leaf.depth < guid.Size*8 {
			t.split(leaf)
			continue // retry: contact now routes into one of the two children
		}

		return t.evictOrReject(ctx, leaf, contact)
	}
}

// evictOrReject runs ping-the-oldest eviction for full,
// non-splittable buckets.
func (t *RoutingTable) evictOrReject(ctx context.Context, leaf *node, contact peer.Contact) error {
	if t.pinger == nil {
		return ErrBucketFull
	}

	back := leaf.bucket.Back()
	if back == nil {
		return ErrBucketFull
	}
	lru := back.Value.(peer.Contact)

	if t.pinger.Ping(ctx, lru) {
		// LRU answered: discard the new contact, keep the bucket as-is
		// but record the liveness check as a touch.
		leaf.bucket.MoveToFront(back)
		leaf.lastTouched = time.Now()
		return nil
	}

	leaf.bucket.Remove(back)
	leaf.bucket.PushFront(contact)
	leaf.lastTouched = time.Now()
	return nil
}

// split divides a full leaf bucket containing the local GUID's range
// into two half-range children, redistributing its contacts by the bit
// at the split position.
func (t *RoutingTable) split(leaf *node) {
	depth := leaf.depth

	left := &node{prefix: leaf.prefix, depth: depth + 1, bucket: NewBucket(), lastTouched: leaf.lastTouched}
	rightPrefix := leaf.prefix
	setBit(&rightPrefix, depth)
	right := &node{prefix: rightPrefix, depth: depth + 1, bucket: NewBucket(), lastTouched: leaf.lastTouched}

	left.containsSelf = leaf.containsSelf && t.self.Bit(depth) == 0
	right.containsSelf = leaf.containsSelf && t.self.Bit(depth) == 1

	for e := leaf.bucket.Back(); e != nil; e = e.Prev() {
		c := e.Value.(peer.Contact)
		if c.GUID.Bit(depth) == 0 {
			left.bucket.PushFront(c)
		} else {
			right.bucket.PushFront(c)
		}
	}

	leaf.bucket = nil
	leaf.left = left
	leaf.right = right
}

func setBit(g *guid.GUID, pos int) {
	byteIdx := pos / 8
	bitIdx := uint(pos % 8)
	g[byteIdx] |= 0x80 >> bitIdx
}

func findElement(b *Bucket, id guid.GUID) *list.Element {
	for e := b.Front(); e != nil; e = e.Next() {
		if e.Value.(peer.Contact).GUID.Equal(id) {
			return e
		}
	}
	return nil
}

// Remove best-effort deletes the contact with the given GUID.
func (t *RoutingTable) Remove(id guid.GUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.pathTo(id)
	leaf := path[len(path)-1]
	if e := findElement(leaf.bucket, id); e != nil {
		leaf.bucket.Remove(e)
		return true
	}
	return false
}

// Get returns the contact with the given GUID, if known.
func (t *RoutingTable) Get(id guid.GUID) (peer.Contact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	path := t.pathTo(id)
	leaf := path[len(path)-1]
	if e := findElement(leaf.bucket, id); e != nil {
		return e.Value.(peer.Contact), true
	}
	return peer.Contact{}, false
}

// Touch records that the bucket covering key was just consulted.
func (t *RoutingTable) Touch(key guid.GUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path := t.pathTo(key)
	path[len(path)-1].lastTouched = time.Now()
}

// FindCloseNodes traverses the tree toward target, collecting up to n
// contacts ordered by ascending XOR distance to target (ties broken by
// GUID), excluding the given GUID.
func (t *RoutingTable) FindCloseNodes(target guid.GUID, n int, excluding guid.GUID) []peer.Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()

	path := t.pathTo(target)
	var collected []peer.Contact
	collected = append(collected, path[len(path)-1].bucket.contacts()...)

	for i := len(path) - 2; i >= 0 && len(collected) < n; i-- {
		parent, child := path[i], path[i+1]
		var sibling *node
		if parent.left == child {
			sibling = parent.right
		} else {
			sibling = parent.left
		}
		if sibling != nil {
			collected = append(collected, collectSubtree(sibling)...)
		}
	}

	filtered := collected[:0]
	for _, c := range collected {
		if !c.GUID.Equal(excluding) {
			filtered = append(filtered, c)
		}
	}
	collected = filtered

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].GUID.CloserTo(target, collected[j].GUID)
	})

	if len(collected) > n {
		collected = collected[:n]
	}
	return collected
}

func collectSubtree(n *node) []peer.Contact {
	if n == nil {
		return nil
	}
	if n.bucket != nil {
		return n.bucket.contacts()
	}
	return append(collectSubtree(n.left), collectSubtree(n.right)...)
}

// leafInfo names a leaf bucket by its DFS-order index for GetRefreshList.
type leafInfo struct {
	idx  int
	leaf *node
}

func (t *RoutingTable) leaves() []leafInfo {
	var out []leafInfo
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		if n.bucket != nil {
			out = append(out, leafInfo{idx: len(out), leaf: n})
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(t.root)
	return out
}

// GetRefreshList returns, for each bucket at or after startIndex whose
// last-touch age is at least cfg.Refresh (or every such bucket if
// forceRefresh is set), a random key drawn from that bucket's range.
func (t *RoutingTable) GetRefreshList(startIndex int, forceRefresh bool) []guid.GUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	var keys []guid.GUID
	for _, li := range t.leaves() {
		if li.idx < startIndex {
			continue
		}
		if !forceRefresh && now.Sub(li.leaf.lastTouched) < t.cfg.Refresh {
			continue
		}
		keys = append(keys, randomWithPrefix(li.leaf.prefix, li.leaf.depth))
	}
	return keys
}

// randomWithPrefix returns a random GUID sharing prefix's first depth
// bits, with every bit after that position drawn uniformly at random.
func randomWithPrefix(prefix guid.GUID, depth int) guid.GUID {
	var out guid.GUID
	full := depth / 8
	copy(out[:full], prefix[:full])

	tail := make([]byte, guid.Size-full)
	if _, err := rand.Read(tail); err != nil {
		log.Fatal().Err(err).Msg("dht: crypto/rand failed")
	}
	copy(out[full:], tail)

	if rem := depth % 8; rem > 0 {
		mask := byte(0xFF << uint(8-rem))
		out[full] = (prefix[full] & mask) | (out[full] &^ mask)
	}
	return out
}

// Size returns the number of leaf buckets currently in the tree,
// mostly useful for tests and metrics.
func (t *RoutingTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves())
}

// Self returns the GUID this routing table is rooted at.
func (t *RoutingTable) Self() guid.GUID {
	return t.self
}

package peer

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/internal/log"
)

// RoutingTable is the narrow slice of the routing table's contract that
// the peer table needs to reconcile against.
type RoutingTable interface {
	Get(id guid.GUID) (Contact, bool)
	Add(c Contact) error
	Remove(id guid.GUID) bool
}

// CryptoPeer is a single established (or establishing) transport session
// to a remote node.
type CryptoPeer interface {
	CheckPort(ctx context.Context) bool
	StartHandshake(ctx context.Context, onComplete func(err error))
	Send(ctx context.Context, msg []byte) error
}

// Transport is the external collaborator that owns crypto sessions
// the DHT never mutates it except through GetCryptoPeer.
type Transport interface {
	GetCryptoPeer(ctx context.Context, c Contact) (CryptoPeer, error)
}

// Persistence is the narrow KV-persistence contract used to save the
// peer tuple on successful upsert.
type Persistence interface {
	SavePeer(c Contact) error
}

// PeerTable holds active peers plus the deduplicated known-nodes
// bootstrap log.
type PeerTable struct {
	mu     sync.RWMutex
	active map[guid.GUID]Contact

	knownMu    sync.Mutex
	known      []Contact
	knownIndex map[guid.GUID]int

	routes      RoutingTable
	transport   Transport
	persistence Persistence
}

// NewPeerTable constructs an empty PeerTable wired to its collaborators.
// transport and persistence may be nil in tests that never exercise the
// "create new crypto peer" branch of Upsert.
func NewPeerTable(routes RoutingTable, transport Transport, persistence Persistence) *PeerTable {
	return &PeerTable{
		active:      make(map[guid.GUID]Contact),
		knownIndex:  make(map[guid.GUID]int),
		routes:      routes,
		transport:   transport,
		persistence: persistence,
	}
}

// Find returns the active peer matching the exact (address, pubkey,
// guid, nickname) 4-tuple, if any.
func (t *PeerTable) Find(address string, pubkey []byte, id guid.GUID, nickname string) (Contact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.active[id]
	if !ok || !c.SameTuple(New(id, address, pubkey, nickname)) {
		return Contact{}, false
	}
	return c, true
}

// Remove tears down the active-peer record for the given address. Actual
// transport teardown is the caller's responsibility (the peer table only
// tracks bookkeeping; closing the session belongs to the transport).
func (t *PeerTable) Remove(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, c := range t.active {
		if c.Address == address {
			delete(t.active, id)
			return
		}
	}
}

// Get returns the active peer with the given GUID, if any.
func (t *PeerTable) Get(id guid.GUID) (Contact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.active[id]
	return c, ok
}

// UpdateAttributes patches the public key and nickname of an already
// active peer in place, without running the full Upsert reconciliation.
// The lookup engine uses this to record what a responding peer claims
// about itself on every inbound findNodeResponse without
// tripping the handshake machinery a brand-new peer would need.
func (t *PeerTable) UpdateAttributes(id guid.GUID, pubkey []byte, nickname string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.active[id]
	if !ok {
		return
	}
	c.PublicKey = pubkey
	c.Nickname = nickname
	t.active[id] = c
}

// All returns a snapshot of every active peer.
func (t *PeerTable) All() []Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Contact, 0, len(t.active))
	for _, c := range t.active {
		out = append(out, c)
	}
	return out
}

// Upsert reconciles a newly learned (address, pubkey, guid, nickname)
// tuple against the active-peer set and the routing table: exact
// match, partial match (identity moved/rotated), or brand new peer.
func (t *PeerTable) Upsert(ctx context.Context, address string, pubkey []byte, id guid.GUID, nickname string) error {
	candidate := New(id, address, pubkey, nickname)

	t.mu.Lock()
	existing, exact := t.active[id]
	t.mu.Unlock()

	if exact && existing.SameTuple(candidate) {
		// Exact 4-tuple match: verify the routing-table entry agrees;
		// if it has drifted, the existing (already-verified) peer wins.
		if rtEntry, ok := t.routes.Get(id); ok {
			if rtEntry.Address != existing.Address || string(rtEntry.PublicKey) != string(existing.PublicKey) {
				if err := t.routes.Add(existing); err != nil {
					log.Warn().Err(err).Str("guid", id.String()).Msg("could not reconcile drifted routing entry")
				}
			}
		}
		return nil
	}

	if exact || t.sharesGUIDOrAddress(candidate) {
		// Partial match: the peer moved address or rotated keys. Identity
		// is anchored on GUID; overwrite and reinsert.
		t.mu.Lock()
		t.active[id] = candidate
		t.mu.Unlock()

		if err := t.routes.Add(candidate); err != nil {
			log.Warn().Err(err).Str("guid", id.String()).Msg("could not reinsert reconciled peer into routing table")
		}
		t.learnKnown(candidate)
		return nil
	}

	// Brand new peer: establish a crypto session before trusting it.
	return t.establishNew(ctx, candidate)
}

func (t *PeerTable) sharesGUIDOrAddress(candidate Contact) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.active[candidate.GUID]; ok {
		return true
	}
	for _, c := range t.active {
		if c.Address == candidate.Address {
			return true
		}
	}
	return false
}

func (t *PeerTable) establishNew(ctx context.Context, candidate Contact) error {
	if t.transport == nil {
		return errors.New("peertable: no transport collaborator configured")
	}

	cp, err := t.transport.GetCryptoPeer(ctx, candidate)
	if err != nil {
		log.Info().Err(err).Str("address", candidate.Address).Msg("could not create crypto peer")
		return nil // handshake/port-probe failure is not a hard error
	}

	if !cp.CheckPort(ctx) {
		log.Info().Str("address", candidate.Address).Msg("port probe failed, skipping peer")
		return nil
	}

	done := make(chan error, 1)
	cp.StartHandshake(ctx, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			log.Info().Err(err).Str("address", candidate.Address).Msg("handshake failed, skipping peer")
			return nil
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	t.active[candidate.GUID] = candidate
	t.mu.Unlock()

	if err := t.routes.Add(candidate); err != nil {
		log.Warn().Err(err).Str("guid", candidate.GUID.String()).Msg("could not insert new peer into routing table")
	}
	t.learnKnown(candidate)

	if t.persistence != nil {
		if err := t.persistence.SavePeer(candidate); err != nil {
			log.Warn().Err(err).Str("guid", candidate.GUID.String()).Msg("could not persist peer tuple")
		}
	}

	return nil
}

// learnKnown appends candidate to the known-nodes bootstrap log, or
// updates its entry in place if the guid is already known.
func (t *PeerTable) learnKnown(candidate Contact) {
	t.knownMu.Lock()
	defer t.knownMu.Unlock()

	if i, ok := t.knownIndex[candidate.GUID]; ok {
		t.known[i] = candidate
		return
	}

	t.knownIndex[candidate.GUID] = len(t.known)
	t.known = append(t.known, candidate)
}

// KnownNodes returns a snapshot of the bootstrap seed log accumulated
// over the node's lifetime.
func (t *PeerTable) KnownNodes() []Contact {
	t.knownMu.Lock()
	defer t.knownMu.Unlock()
	out := make([]Contact, len(t.known))
	copy(out, t.known)
	return out
}

// SeedKnownNodes restores a previously persisted known-nodes log, e.g.
// at startup before the first join.
func (t *PeerTable) SeedKnownNodes(nodes []Contact) {
	t.knownMu.Lock()
	defer t.knownMu.Unlock()
	for _, c := range nodes {
		if _, ok := t.knownIndex[c.GUID]; ok {
			continue
		}
		t.knownIndex[c.GUID] = len(t.known)
		t.known = append(t.known, c)
	}
}

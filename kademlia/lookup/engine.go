package lookup

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/config"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

// contactCacheSize bounds the routing-table-resolution cache an Engine
// keeps to avoid re-walking the tree for the same guid within a single
// burst of iterations (e.g. the same slow node reappearing across
// successive shortlist rounds of unrelated searches).
const contactCacheSize = 256

// Routes is the narrow routing-table contract the engine consults to
// seed shortlists, resolve shortlist entries to sendable contacts, and
// answer inbound findNode requests.
type Routes interface {
	FindCloseNodes(target guid.GUID, n int, excluding guid.GUID) []peer.Contact
	Get(id guid.GUID) (peer.Contact, bool)
	Add(c peer.Contact) error
	Touch(key guid.GUID)
}

// Peers is the narrow peer-table contract the engine uses to look up
// and reconcile active peers.
type Peers interface {
	Get(id guid.GUID) (peer.Contact, bool)
	Upsert(ctx context.Context, address string, pubkey []byte, id guid.GUID, nickname string) error
	UpdateAttributes(id guid.GUID, pubkey []byte, nickname string)
}

// LocalStore is the narrow value-store contract the engine consults to
// answer findValue and to write replicas delivered by iterative_store.
type LocalStore interface {
	Get(key guid.GUID) (store.StoredValue, bool)
}

// Sender dispatches a findNode request to a resolved contact. Actual
// wire encoding and transport delivery belong to the dispatcher/
// transport layers; the engine only needs "fire this".
type Sender interface {
	SendFindNode(ctx context.Context, to peer.Contact, req FindNodeRequest) error
}

// Engine drives the iterative findNode/findValue state machine and
// iterative store against a single node's routing table, peer table,
// and local store.
type Engine struct {
	self   peer.Contact
	routes Routes
	peers  Peers
	cfg    config.Config
	sender Sender

	contactCache *lru.Cache[guid.GUID, peer.Contact]

	mu       sync.Mutex
	searches map[guid.GUID]*Search
}

// NewEngine wires an Engine to its collaborators.
func NewEngine(self peer.Contact, routes Routes, peers Peers, sender Sender, cfg config.Config) *Engine {
	cache, err := lru.New[guid.GUID, peer.Contact](contactCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// contactCacheSize never is.
		panic(err)
	}
	return &Engine{
		self:         self,
		routes:       routes,
		peers:        peers,
		sender:       sender,
		cfg:          cfg,
		contactCache: cache,
		searches:     make(map[guid.GUID]*Search),
	}
}

// IterativeFind starts a convergent lookup for key. callback is
// invoked exactly once, asynchronously unless one of the synchronous
// short-circuits below fires. err is non-nil only for the "looking for
// yourself" abort; every other outcome, including an empty bootstrap
// shortlist, is delivered through callback.
func (e *Engine) IterativeFind(ctx context.Context, key guid.GUID, call CallKind, callback func(Result), startupShortlist []peer.Contact) error {
	if call == CallFindNode && key.Equal(e.self.GUID) {
		return errors.New("lookup: refusing to look up the local guid")
	}

	if call == CallFindNode {
		if c, ok := e.peers.Get(key); ok {
			callback(Result{FoundNode: &c})
			return nil
		}
	}

	e.startSearch(ctx, key, call, callback, startupShortlist)
	return nil
}

// Bootstrap runs the same convergent search as IterativeFind, targeted
// at the local guid, for the join scenario: a node just starting up
// seeds its shortlist with a bootstrap contact and
// searches for itself to populate its routing table with whatever the
// swarm returns. The general-purpose IterativeFind entry point refuses
// exactly this call shape ("looking for yourself") because an ordinary
// findNode(self) during normal operation is almost always a caller
// bug; join is the one legitimate caller, so it goes through this
// separate entry point rather than around the guard.
func (e *Engine) Bootstrap(ctx context.Context, callback func(Result), startupShortlist []peer.Contact) {
	e.startSearch(ctx, e.self.GUID, CallFindNode, callback, startupShortlist)
}

func (e *Engine) startSearch(ctx context.Context, key guid.GUID, call CallKind, callback func(Result), startupShortlist []peer.Contact) {
	search := &Search{
		FindID:           guid.Random(),
		Key:              key,
		Call:             call,
		AlreadyContacted: make(map[string]struct{}),
		Callback:         callback,
	}

	if len(startupShortlist) > 0 {
		search.Shortlist = append([]peer.Contact(nil), startupShortlist...)
	} else {
		search.Shortlist = e.routes.FindCloseNodes(key, e.cfg.Alpha, e.self.GUID)
		e.routes.Touch(key)
	}

	if len(search.Shortlist) == 0 {
		callback(Result{Shortlist: nil})
		return
	}

	e.mu.Lock()
	e.searches[search.FindID] = search
	e.mu.Unlock()

	e.iterate(ctx, search)
}

// iterate runs one step of the lookup: re-sort and dedupe the
// shortlist, then probe up to alpha not-yet-contacted candidates.
func (e *Engine) iterate(ctx context.Context, search *Search) {
	e.mu.Lock()
	defer e.mu.Unlock()

	search.SlowNodeCount = len(search.ActiveProbes)

	sortByDistance(search.Shortlist, search.Key)
	search.Shortlist = dedupeShortlist(search.Shortlist)

	if len(search.Shortlist) > 0 {
		search.PreviousClosest = search.Shortlist[0]
	}

	if _, active := e.searches[search.FindID]; !active {
		return
	}

	search.ContactedNow = 0
	for _, candidate := range search.Shortlist {
		if search.ContactedNow >= e.cfg.Alpha {
			break
		}
		key := tupleKey(candidate)
		if _, done := search.AlreadyContacted[key]; done {
			continue
		}
		if candidate.GUID.Equal(e.self.GUID) {
			continue
		}

		search.ActiveProbes = append(search.ActiveProbes, candidate)
		search.AlreadyContacted[key] = struct{}{}

		resolved, ok := e.resolveContact(candidate.GUID)
		if !ok {
			log.Info().Str("guid", candidate.GUID.String()).Msg("lookup: no route to probed node, skipping")
			continue
		}

		req := FindNodeRequest{
			SenderGUID: e.self.GUID,
			SenderNick: e.self.Nickname,
			URI:        e.self.Address,
			PubKey:     e.self.PublicKey,
			Key:        search.Key,
			FindValue:  search.Call == CallFindValue,
			FindID:     search.FindID,
		}
		if err := e.sender.SendFindNode(ctx, resolved, req); err != nil {
			log.Info().Err(err).Str("guid", resolved.GUID.String()).Msg("lookup: findNode send failed")
		}
		search.ContactedNow++
	}
}

func (e *Engine) resolveContact(id guid.GUID) (peer.Contact, bool) {
	if c, ok := e.contactCache.Get(id); ok {
		return c, true
	}
	c, ok := e.routes.Get(id)
	if !ok {
		return peer.Contact{}, false
	}
	e.contactCache.Add(id, c)
	return c, true
}

// extendShortlist merges newly learned nodes into the search's
// shortlist, requesting a peer-table upsert for any that are not yet
// active. It returns whether the shortlist grew, and does not by
// itself send probes.
func (e *Engine) extendShortlist(findID guid.GUID, nodes []FoundNodeTuple) bool {
	e.mu.Lock()
	search, ok := e.searches[findID]
	if !ok {
		e.mu.Unlock()
		return false
	}

	existing := make(map[string]struct{}, len(search.Shortlist))
	for _, c := range search.Shortlist {
		existing[tupleKey(c)] = struct{}{}
	}

	var toUpsert []FoundNodeTuple
	grew := false
	for _, n := range nodes {
		if n.GUID.Equal(e.self.GUID) {
			continue
		}
		c := peer.New(n.GUID, n.Address, n.PubKey, n.Nickname)
		k := tupleKey(c)
		if _, dup := existing[k]; dup {
			continue
		}
		existing[k] = struct{}{}
		search.Shortlist = append(search.Shortlist, c)
		grew = true

		if _, active := e.peers.Get(n.GUID); !active {
			toUpsert = append(toUpsert, n)
		}
	}
	e.mu.Unlock()

	for _, n := range toUpsert {
		go func(n FoundNodeTuple) {
			if err := e.peers.Upsert(context.Background(), n.Address, n.PubKey, n.GUID, n.Nickname); err != nil {
				log.Info().Err(err).Str("guid", n.GUID.String()).Msg("lookup: extendShortlist upsert failed")
			}
		}(n)
	}
	return grew
}

// HandleFindNodeResponse advances the search a findNodeResponse
// belongs to. A response for an unknown or already-terminal find_id is
// silently dropped: foundKey/foundNode is terminal, and later
// responses for that id are ignored.
func (e *Engine) HandleFindNodeResponse(ctx context.Context, from peer.Contact, resp FindNodeResponse) {
	e.peers.UpdateAttributes(resp.SenderGUID, resp.PubKey, resp.SenderNick)

	e.mu.Lock()
	search, ok := e.searches[resp.FindID]
	e.mu.Unlock()
	if !ok {
		return
	}

	switch {
	case resp.FoundKey != nil:
		e.finish(search, Result{FoundValue: resp.FoundKey})

	case resp.FoundNode != nil:
		c := peer.New(resp.FoundNode.GUID, resp.FoundNode.Address, resp.FoundNode.PubKey, resp.FoundNode.Nickname)
		if err := e.peers.Upsert(ctx, c.Address, c.PublicKey, c.GUID, c.Nickname); err != nil {
			log.Info().Err(err).Str("guid", c.GUID.String()).Msg("lookup: foundNode upsert failed")
		}
		e.finish(search, Result{FoundNode: &c})

	default:
		grew := e.extendShortlist(resp.FindID, resp.FoundNodes)

		e.mu.Lock()
		removeFromActiveProbes(search, from)
		search.AlreadyContacted[tupleKey(from)] = struct{}{}
		_, stillActive := e.searches[resp.FindID]
		e.mu.Unlock()
		if !stillActive {
			return
		}

		if grew {
			e.iterate(ctx, search)
		} else {
			e.finishWithShortlist(search)
		}
	}
}

func (e *Engine) finish(search *Search, result Result) {
	e.mu.Lock()
	delete(e.searches, search.FindID)
	e.mu.Unlock()
	search.Callback(result)
}

func (e *Engine) finishWithShortlist(search *Search) {
	e.mu.Lock()
	sortByDistance(search.Shortlist, search.Key)
	shortlist := append([]peer.Contact(nil), search.Shortlist...)
	delete(e.searches, search.FindID)
	e.mu.Unlock()
	search.Callback(Result{Shortlist: shortlist})
}

// Cancel removes find_id from the active-search set; a subsequent
// iterate/extendShortlist for it becomes a no-op.
func (e *Engine) Cancel(findID guid.GUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.searches, findID)
}

// Shutdown cancels every outstanding search.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.searches = make(map[guid.GUID]*Search)
}

// HandleFindNode answers an inbound findNode. It returns a nil
// response (with no error) for an unknown sender, which the dispatcher
// must treat as "drop, do not respond", and an error for a request
// from the local guid. It does not check the request's required
// fields; Service.OnFindNode drops requests missing any of them before
// they reach the engine.
func (e *Engine) HandleFindNode(ctx context.Context, from peer.Contact, req FindNodeRequest, localStore LocalStore) (*FindNodeResponse, error) {
	if req.SenderGUID.Equal(e.self.GUID) {
		return nil, errors.New("lookup: findNode from self")
	}

	senderRoute, known := e.routes.Get(req.SenderGUID)
	if !known {
		return nil, nil
	}

	base := FindNodeResponse{
		SenderGUID: e.self.GUID,
		SenderNick: e.self.Nickname,
		URI:        e.self.Address,
		PubKey:     e.self.PublicKey,
		FindID:     req.FindID,
	}

	var resp *FindNodeResponse
	switch {
	case req.FindValue:
		if sv, ok := localStore.Get(req.Key); ok {
			v := sv.Value
			base.FoundKey = &v
			resp = &base
		}
	default:
		// The sender is never its own foundNode match: a node searching
		// for its own guid (bootstrap) wants its neighbors, not itself.
		if c, ok := e.routes.Get(req.Key); ok && !req.Key.Equal(req.SenderGUID) {
			base.FoundNode = &FoundNodeTuple{GUID: c.GUID, Address: c.Address, PubKey: c.PublicKey}
			resp = &base
		}
	}

	if resp == nil {
		contacts := e.routes.FindCloseNodes(req.Key, e.cfg.K, req.SenderGUID)
		nodes := make([]FoundNodeTuple, 0, len(contacts))
		for _, c := range contacts {
			nodes = append(nodes, FoundNodeTuple{GUID: c.GUID, Address: c.Address, PubKey: c.PublicKey, Nickname: c.Nickname})
		}
		base.FoundNodes = nodes
		resp = &base
	}

	// Spec §9's first Open Question: the source refreshes the sender's
	// routing-table address at the very end regardless of which branch
	// produced the reply, but the early-return branches make this
	// unreachable there. This implementation resolves that explicitly:
	// the refresh always runs, on every inbound findNode.
	if senderRoute.Address != from.Address {
		updated := senderRoute
		updated.Address = from.Address
		if err := e.routes.Add(updated); err != nil {
			log.Warn().Err(err).Str("guid", senderRoute.GUID.String()).Msg("lookup: could not refresh sender address")
		}
	}

	return resp, nil
}

// Package node wires the DHT core (guid, kademlia/dht, kademlia/peer,
// kademlia/store, kademlia/lookup, kademlia/discovery) to the default
// external collaborators (transport, store/boltstore) into a single
// runnable instance: jittered periodic maintenance, known-nodes
// bootstrap persistence across restarts, and explicit shutdown.
package node

import (
	"context"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/config"
	"github.com/bowlingb/OpenBazaar/kademlia/dht"
	"github.com/bowlingb/OpenBazaar/kademlia/discovery"
	"github.com/bowlingb/OpenBazaar/kademlia/lookup"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
	"github.com/bowlingb/OpenBazaar/store/boltstore"
	"github.com/bowlingb/OpenBazaar/transport"
)

// Node is one participant in the overlay: its identity, every DHT
// core table, and the maintenance loop driving them. Every exported method
// here either runs on the caller's goroutine synchronously against the
// core tables (which lock internally) or hands off to the transport's
// own goroutines for I/O.
type Node struct {
	self      peer.Contact
	identity  *transport.Identity
	cfg       config.Config
	transport *transport.Transport
	listener  *transport.Listener

	routes  *dht.RoutingTable
	peers   *peer.PeerTable
	store   *store.Store
	engine  *lookup.Engine
	service *discovery.Service
	sched   *discovery.Scheduler
	db      *boltstore.DB

	stopMaintenance context.CancelFunc
}

// Options configures New.
type Options struct {
	ListenAddr string
	Nickname   string
	DataDir    string
	Config     config.Config
}

// New constructs a Node: generates an identity, opens the persistence
// backend, and wires every collaborator together. It does not start
// listening or run maintenance; call Listen and RunMaintenance.
func New(opts Options) (*Node, error) {
	identity, err := transport.NewIdentity()
	if err != nil {
		return nil, err
	}

	db, err := boltstore.Open(filepath.Join(opts.DataDir, "dht.db"))
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	if cfg.K == 0 {
		cfg = config.Default
	}

	self := peer.New(identity.GUID(), opts.ListenAddr, identity.PublicKey, opts.Nickname)

	tp := transport.New(self, transport.DialTCP, transport.WireCodec{})
	routes := dht.NewRoutingTable(identity.GUID(), cfg, tp)
	peers := peer.NewPeerTable(routes, tp, db)
	localStore := store.New()
	localStore.SetPersistence(db)
	engine := lookup.NewEngine(self, routes, peers, tp, cfg)
	service := discovery.NewService(engine, localStore, peers)
	sched := discovery.NewScheduler(identity.GUID(), routes, localStore, engine, tp, cfg)

	tp.SetDispatcher(service)

	n := &Node{
		self:      self,
		identity:  identity,
		cfg:       cfg,
		transport: tp,
		routes:    routes,
		peers:     peers,
		store:     localStore,
		engine:    engine,
		service:   service,
		sched:     sched,
		db:        db,
	}
	return n, nil
}

// Self returns the node's own contact tuple.
func (n *Node) Self() peer.Contact { return n.self }

// Listen starts accepting inbound overlay connections.
func (n *Node) Listen() error {
	ln, err := transport.Listen(n.self.Address, n.transport)
	if err != nil {
		return err
	}
	n.listener = ln
	go ln.Serve(context.Background())
	return nil
}

// Restore reloads persisted state from the last run: the value store
// and the known-nodes bootstrap log, seeding the peer table before
// the first Join.
func (n *Node) Restore() error {
	values, err := n.db.LoadValues()
	if err != nil {
		return err
	}
	for _, sv := range values {
		if sv.Internal {
			n.store.PutInternal(sv.Key, sv.Value, sv.LastPublishedAt)
			continue
		}
		if err := n.store.Put(sv.Key, sv.Value, sv.LastPublishedAt, sv.OriginallyPublishedAt, sv.OriginalPublisherGUID, sv.MarketID); err != nil {
			log.Warn().Err(err).Str("key", sv.Key.String()).Msg("node: restore value failed")
		}
	}

	known, err := n.db.LoadKnownNodes()
	if err != nil {
		return err
	}
	n.peers.SeedKnownNodes(known)
	return nil
}

// Join bootstraps against seed: an iterative findNode for the local
// GUID seeded with just the bootstrap contact, populating the routing
// table with whatever the swarm returns.
func (n *Node) Join(ctx context.Context, seed peer.Contact) error {
	if err := n.routes.Add(seed); err != nil {
		return err
	}

	done := make(chan lookup.Result, 1)
	n.engine.Bootstrap(ctx, func(r lookup.Result) { done <- r }, []peer.Contact{seed})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunMaintenance starts the periodic bucket-refresh/republish-expire
// loop, jittered so a swarm of nodes started together does not sweep
// in lockstep.
func (n *Node) RunMaintenance(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	n.stopMaintenance = cancel

	go func() {
		for {
			jitter := time.Duration(rand.Int63n(int64(interval) / 4))
			select {
			case <-time.After(interval + jitter):
				n.sched.RefreshNode(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown cancels outstanding searches, stops maintenance, persists
// the known-nodes log, and tears down the listener and persistence
// backend.
func (n *Node) Shutdown() error {
	if n.stopMaintenance != nil {
		n.stopMaintenance()
	}
	n.engine.Shutdown()
	if n.listener != nil {
		n.listener.Close()
	}
	if err := n.db.SaveKnownNodes(n.peers.KnownNodes()); err != nil {
		log.Warn().Err(err).Msg("node: could not persist known-nodes log at shutdown")
	}
	return n.db.Close()
}

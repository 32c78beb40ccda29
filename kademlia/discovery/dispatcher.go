// Package discovery implements the maintenance scheduler and the
// protocol dispatcher: routing already-decoded inbound overlay
// messages (findNode, findNodeResponse, store) to the routing table,
// lookup engine, and local store. Wire encoding and transport
// delivery are out of scope here.
package discovery

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/lookup"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

// Engine is the narrow lookup-engine contract the dispatcher drives.
type Engine interface {
	HandleFindNode(ctx context.Context, from peer.Contact, req lookup.FindNodeRequest, localStore lookup.LocalStore) (*lookup.FindNodeResponse, error)
	HandleFindNodeResponse(ctx context.Context, from peer.Contact, resp lookup.FindNodeResponse)
}

// Service is the protocol dispatcher.
type Service struct {
	engine     Engine
	localStore *store.Store
	peers      lookup.Peers
}

// NewService wires a Service to the engine and local store it
// dispatches against. peers may be nil for tests that drive the engine
// directly; when set, an inbound findNode's sender is reconciled into
// the peer table (and, through it, the routing table) before the
// engine handles the request, the way an established transport
// session introduces a peer.
func NewService(engine Engine, localStore *store.Store, peers lookup.Peers) *Service {
	return &Service{engine: engine, localStore: localStore, peers: peers}
}

// OnFindNode handles an inbound findNode message. A nil, nil return
// means "drop, do not respond".
func (s *Service) OnFindNode(ctx context.Context, from peer.Contact, req lookup.FindNodeRequest) (*lookup.FindNodeResponse, error) {
	if req.Key.IsZero() || req.FindID.IsZero() || req.URI == "" || len(req.PubKey) == 0 {
		log.Info().Str("from", from.String()).Msg("discovery: findNode missing required fields, dropping")
		return nil, nil
	}
	if s.peers != nil {
		// Dial-back verification: a sender we have never seen is only
		// admitted to the routing table once a session to its advertised
		// URI establishes. On failure the sender stays unknown and the
		// engine drops the request.
		if err := s.peers.Upsert(ctx, req.URI, req.PubKey, req.SenderGUID, req.SenderNick); err != nil {
			log.Info().Err(err).Str("from", from.String()).Msg("discovery: sender reconciliation failed")
		}
	}
	return s.engine.HandleFindNode(ctx, from, req, s.localStore)
}

// OnFindNodeResponse handles an inbound findNodeResponse message.
func (s *Service) OnFindNodeResponse(ctx context.Context, from peer.Contact, resp lookup.FindNodeResponse) {
	s.engine.HandleFindNodeResponse(ctx, from, resp)
}

// OnStore handles an inbound store message. Index-merge mutations and
// opaque stores share the same entry point; the Mutation field picks
// between them. Errors are logged at info and dropped; they never
// propagate.
func (s *Service) OnStore(ctx context.Context, from peer.Contact, req lookup.StoreRequest) {
	now := time.Now()
	age := time.Duration(req.Age) * time.Second

	var err error
	switch req.Mutation {
	case store.MutationNone:
		err = s.localStore.Put(req.Key, req.Value, now, now.Add(-age), req.OriginalPublisherID, "")
	case store.MutationNotaryAdd, store.MutationNotaryRemove:
		err = s.localStore.ApplyNotaryMutation(req.Key, req.Mutation, req.NotaryElement, now, age, req.OriginalPublisherID, "")
	case store.MutationKeywordAdd, store.MutationKeywordRemove:
		err = s.localStore.ApplyKeywordMutation(req.Key, req.Mutation, req.ListingElement, now, age, req.OriginalPublisherID, "")
	default:
		err = errors.Errorf("discovery: unknown store mutation %d", req.Mutation)
	}

	if err != nil {
		log.Info().Err(err).Str("from", from.String()).Str("key", req.Key.String()).Msg("discovery: inbound store dropped")
	}
}

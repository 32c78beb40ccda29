package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/lookup"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
)

// Dialer opens an outbound connection to address, kept as a seam so
// tests can swap in an in-memory pipe.
type Dialer func(address string) (net.Conn, error)

// DialTCP is the default Dialer.
func DialTCP(address string) (net.Conn, error) {
	return net.DialTimeout("tcp", address, 10*time.Second)
}

// Dispatcher is the narrow slice of kademlia/discovery.Service the
// transport needs to hand decoded inbound messages to.
type Dispatcher interface {
	OnFindNode(ctx context.Context, from peer.Contact, req lookup.FindNodeRequest) (*lookup.FindNodeResponse, error)
	OnFindNodeResponse(ctx context.Context, from peer.Contact, resp lookup.FindNodeResponse)
	OnStore(ctx context.Context, from peer.Contact, req lookup.StoreRequest)
}

// Codec is the narrow slice of the wire package the transport needs;
// kept as an interface here so transport does not import wire
// directly and the two packages can evolve independently.
type Codec interface {
	MarshalFindNode(lookup.FindNodeRequest) ([]byte, error)
	UnmarshalFindNode([]byte) (lookup.FindNodeRequest, error)
	MarshalFindNodeResponse(lookup.FindNodeResponse) ([]byte, error)
	UnmarshalFindNodeResponse([]byte) (lookup.FindNodeResponse, error)
	MarshalStore(lookup.StoreRequest) ([]byte, error)
	UnmarshalStore([]byte) (lookup.StoreRequest, error)
}

// Transport is the default crypto-transport: it owns every live
// cryptoPeer session, dials new ones on demand (peer.Transport), probes
// liveness for routing-table eviction (dht.Pinger), and dispatches
// findNode/store sends for the lookup engine (lookup.Sender,
// lookup.StoreSender).
type Transport struct {
	self   peer.Contact
	dialer Dialer
	codec  Codec
	disp   Dispatcher

	mu    sync.Mutex
	peers map[string]*cryptoPeer // keyed by address
}

// New wires a Transport to its collaborators. disp may be nil until
// the discovery service is constructed (a common wiring order: the
// transport is needed to build the lookup engine, which the discovery
// service wraps); SetDispatcher fills it in afterward.
func New(self peer.Contact, dialer Dialer, codec Codec) *Transport {
	return &Transport{
		self:   self,
		dialer: dialer,
		codec:  codec,
		peers:  make(map[string]*cryptoPeer),
	}
}

// SetDispatcher wires the transport to the service that will handle
// decoded inbound messages arriving over any connection it accepts or
// dials.
func (t *Transport) SetDispatcher(disp Dispatcher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disp = disp
}

// GetCryptoPeer implements peer.Transport: the peer table's exclusive
// seam for creating new crypto sessions.
func (t *Transport) GetCryptoPeer(ctx context.Context, c peer.Contact) (peer.CryptoPeer, error) {
	t.mu.Lock()
	if existing, ok := t.peers[c.Address]; ok {
		t.mu.Unlock()
		return existing, nil
	}
	cp := newCryptoPeer(c, t.dialer, func(kind frameKind, payload []byte) { t.handleFrame(ctx, c, kind, payload) })
	t.peers[c.Address] = cp
	t.mu.Unlock()
	return cp, nil
}

// Ping implements dht.Pinger: the eviction probe run when a full,
// non-splittable bucket needs to decide whether to evict its
// least-recently-seen entry.
func (t *Transport) Ping(ctx context.Context, c peer.Contact) bool {
	cp, err := t.GetCryptoPeer(ctx, c)
	if err != nil {
		return false
	}
	return cp.CheckPort(ctx)
}

// SendFindNode implements lookup.Sender.
func (t *Transport) SendFindNode(ctx context.Context, to peer.Contact, req lookup.FindNodeRequest) error {
	payload, err := t.codec.MarshalFindNode(req)
	if err != nil {
		return errors.Wrap(err, "transport: marshal findNode")
	}
	return t.send(ctx, to, kindFindNode, payload)
}

// SendStore implements lookup.StoreSender.
func (t *Transport) SendStore(ctx context.Context, to peer.Contact, req lookup.StoreRequest) error {
	payload, err := t.codec.MarshalStore(req)
	if err != nil {
		return errors.Wrap(err, "transport: marshal store")
	}
	return t.send(ctx, to, kindStore, payload)
}

// sendFindNodeResponse replies to an inbound findNode by sending to the
// requester's advertised address through the outbound session kept for
// that address, dialing one if needed. It does not write to the
// connection the request arrived on.
func (t *Transport) sendFindNodeResponse(ctx context.Context, to peer.Contact, resp lookup.FindNodeResponse) error {
	payload, err := t.codec.MarshalFindNodeResponse(resp)
	if err != nil {
		return errors.Wrap(err, "transport: marshal findNodeResponse")
	}
	return t.send(ctx, to, kindFindNodeResponse, payload)
}

func (t *Transport) send(ctx context.Context, to peer.Contact, kind frameKind, payload []byte) error {
	cp, err := t.GetCryptoPeer(ctx, to)
	if err != nil {
		return err
	}
	real := cp.(*cryptoPeer)
	if !real.established() {
		done := make(chan error, 1)
		real.StartHandshake(ctx, func(err error) { done <- err })
		select {
		case err := <-done:
			if err != nil {
				return errors.Wrap(err, "transport: handshake before send")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return real.Send(ctx, buildEnvelope(kind, payload))
}

func buildEnvelope(kind frameKind, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, byte(kind))
	return append(out, payload...)
}

func splitEnvelope(msg []byte) (frameKind, []byte) {
	if len(msg) == 0 {
		return kindFindNode, nil
	}
	return frameKind(msg[0]), msg[1:]
}

// handleFrame decodes an inbound frame from an established cryptoPeer
// and routes it to the dispatcher.
func (t *Transport) handleFrame(ctx context.Context, from peer.Contact, kind frameKind, payload []byte) {
	t.mu.Lock()
	disp := t.disp
	t.mu.Unlock()
	if disp == nil {
		return
	}

	switch kind {
	case kindFindNode:
		req, err := t.codec.UnmarshalFindNode(payload)
		if err != nil {
			log.Info().Err(err).Msg("transport: malformed findNode, dropping")
			return
		}
		resp, err := disp.OnFindNode(ctx, from, req)
		if err != nil {
			log.Info().Err(err).Msg("transport: findNode handling dropped")
			return
		}
		if resp != nil {
			if err := t.sendFindNodeResponse(ctx, from, *resp); err != nil {
				log.Info().Err(err).Msg("transport: findNodeResponse send failed")
			}
		}
	case kindFindNodeResponse:
		resp, err := t.codec.UnmarshalFindNodeResponse(payload)
		if err != nil {
			log.Info().Err(err).Msg("transport: malformed findNodeResponse, dropping")
			return
		}
		disp.OnFindNodeResponse(ctx, from, resp)
	case kindStore:
		req, err := t.codec.UnmarshalStore(payload)
		if err != nil {
			log.Info().Err(err).Msg("transport: malformed store, dropping")
			return
		}
		disp.OnStore(ctx, from, req)
	default:
		log.Info().Msg("transport: unknown frame kind, dropping")
	}
}

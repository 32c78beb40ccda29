package transport

import (
	"github.com/bowlingb/OpenBazaar/kademlia/lookup"
	"github.com/bowlingb/OpenBazaar/wire"
)

// WireCodec adapts the wire package's free functions to the Codec
// interface, the default (and only, for now) concrete encoding this
// module ships.
type WireCodec struct{}

func (WireCodec) MarshalFindNode(req lookup.FindNodeRequest) ([]byte, error) {
	return wire.MarshalFindNode(req)
}

func (WireCodec) UnmarshalFindNode(b []byte) (lookup.FindNodeRequest, error) {
	return wire.UnmarshalFindNode(b)
}

func (WireCodec) MarshalFindNodeResponse(resp lookup.FindNodeResponse) ([]byte, error) {
	return wire.MarshalFindNodeResponse(resp)
}

func (WireCodec) UnmarshalFindNodeResponse(b []byte) (lookup.FindNodeResponse, error) {
	return wire.UnmarshalFindNodeResponse(b)
}

func (WireCodec) MarshalStore(req lookup.StoreRequest) ([]byte, error) {
	return wire.MarshalStore(req)
}

func (WireCodec) UnmarshalStore(b []byte) (lookup.StoreRequest, error) {
	return wire.UnmarshalStore(b)
}

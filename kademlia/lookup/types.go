// Package lookup implements the iterative findNode/findValue engine:
// α-parallel shortlist convergence shared by lookups and the
// iterative store.
package lookup

import (
	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

// CallKind distinguishes a findNode lookup (looking for a peer) from a
// findValue lookup (looking for stored data); the two share every step
// of the engine except what counts as a terminal match.
type CallKind int

const (
	CallFindNode CallKind = iota
	CallFindValue
)

// FindNodeRequest is the findNode overlay message decoded to
// Go-native types. Encoding/decoding to the wire form is the
// transport/dispatcher's job; the engine only ever sees this shape.
type FindNodeRequest struct {
	SenderGUID guid.GUID
	SenderNick string
	URI        string
	PubKey     []byte
	Key        guid.GUID
	FindValue  bool
	FindID     guid.GUID
}

// FoundNodeTuple is a single (guid, address, pubkey, nickname) entry of
// a findNodeResponse's foundNodes list, or of a startup shortlist.
type FoundNodeTuple struct {
	GUID     guid.GUID
	Address  string
	PubKey   []byte
	Nickname string
}

// FindNodeResponse is the findNodeResponse overlay message.
// Exactly one of FoundKey, FoundNode, FoundNodes should be set; a
// response with none set is treated as an empty FoundNodes list.
type FindNodeResponse struct {
	SenderGUID guid.GUID
	SenderNick string
	URI        string
	PubKey     []byte
	FindID     guid.GUID

	FoundKey   *store.Value
	FoundNode  *FoundNodeTuple
	FoundNodes []FoundNodeTuple
}

// StoreRequest is the store overlay message. Mutation and its
// accompanying element identify an index-merge operation;
// Mutation == store.MutationNone means Value is stored opaquely
// as-is.
type StoreRequest struct {
	Key                 guid.GUID
	Value               store.Value
	OriginalPublisherID guid.GUID
	Age                 int64 // seconds, matching the wire's integer age field

	Mutation       store.Mutation
	NotaryElement  guid.GUID // meaningful iff Mutation is a notary mutation
	ListingElement string    // meaningful iff Mutation is a keyword mutation
}

package wire

import (
	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/kademlia/lookup"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

// MarshalFindNode/MarshalFindNodeResponse/MarshalStore encode a
// Go-native lookup request/response into the wire envelope's bytes.
// UnmarshalFindNode and friends do the reverse. Framing (length
// prefixing, message-type tagging) is the transport's job; these only
// handle one message's payload.

func MarshalFindNode(req lookup.FindNodeRequest) ([]byte, error) {
	m := &FindNode{
		SenderGuid: req.SenderGUID.Bytes(),
		SenderNick: req.SenderNick,
		Uri:        req.URI,
		Pubkey:     req.PubKey,
		Key:        req.Key.Bytes(),
		FindValue:  req.FindValue,
		FindId:     req.FindID.Bytes(),
	}
	return proto.Marshal(m)
}

func UnmarshalFindNode(b []byte) (lookup.FindNodeRequest, error) {
	var m FindNode
	if err := proto.Unmarshal(b, &m); err != nil {
		return lookup.FindNodeRequest{}, errors.Wrap(err, "wire: decode findNode")
	}
	sender, err := guid.FromBytes(m.SenderGuid)
	if err != nil {
		return lookup.FindNodeRequest{}, errors.Wrap(err, "wire: findNode sender_guid")
	}
	key, err := guid.FromBytes(m.Key)
	if err != nil {
		return lookup.FindNodeRequest{}, errors.Wrap(err, "wire: findNode key")
	}
	findID, err := guid.FromBytes(m.FindId)
	if err != nil {
		return lookup.FindNodeRequest{}, errors.Wrap(err, "wire: findNode find_id")
	}
	return lookup.FindNodeRequest{
		SenderGUID: sender,
		SenderNick: m.SenderNick,
		URI:        m.Uri,
		PubKey:     m.Pubkey,
		Key:        key,
		FindValue:  m.FindValue,
		FindID:     findID,
	}, nil
}

func valueToWire(v store.Value) *Value {
	out := &Value{Kind: int32(v.Kind), Opaque: v.Opaque}
	for _, n := range v.Notaries() {
		out.Notaries = append(out.Notaries, n.Bytes())
	}
	out.Listings = append(out.Listings, v.Listings()...)
	return out
}

func valueFromWire(m *Value) (store.Value, error) {
	if m == nil {
		return store.Value{}, nil
	}
	switch store.Kind(m.Kind) {
	case store.KindNotarySet:
		v := store.NewNotarySet()
		for _, b := range m.Notaries {
			id, err := guid.FromBytes(b)
			if err != nil {
				return store.Value{}, errors.Wrap(err, "wire: notary element")
			}
			v.AddNotary(id)
		}
		return v, nil
	case store.KindListingSet:
		v := store.NewListingSet()
		for _, l := range m.Listings {
			v.AddListing(l)
		}
		return v, nil
	default:
		return store.OpaqueValue(m.Opaque), nil
	}
}

func nodeTupleToWire(n lookup.FoundNodeTuple) *NodeTuple {
	return &NodeTuple{Guid: n.GUID.Bytes(), Address: n.Address, Pubkey: n.PubKey, Nickname: n.Nickname}
}

func nodeTupleFromWire(m *NodeTuple) (lookup.FoundNodeTuple, error) {
	id, err := guid.FromBytes(m.Guid)
	if err != nil {
		return lookup.FoundNodeTuple{}, errors.Wrap(err, "wire: node tuple guid")
	}
	return lookup.FoundNodeTuple{GUID: id, Address: m.Address, PubKey: m.Pubkey, Nickname: m.Nickname}, nil
}

func MarshalFindNodeResponse(resp lookup.FindNodeResponse) ([]byte, error) {
	m := &FindNodeResponse{
		SenderGuid: resp.SenderGUID.Bytes(),
		SenderNick: resp.SenderNick,
		Uri:        resp.URI,
		Pubkey:     resp.PubKey,
		FindId:     resp.FindID.Bytes(),
	}
	switch {
	case resp.FoundKey != nil:
		m.FoundKey = valueToWire(*resp.FoundKey)
	case resp.FoundNode != nil:
		m.FoundNode = nodeTupleToWire(*resp.FoundNode)
	default:
		for _, n := range resp.FoundNodes {
			m.FoundNodes = append(m.FoundNodes, nodeTupleToWire(n))
		}
	}
	return proto.Marshal(m)
}

func UnmarshalFindNodeResponse(b []byte) (lookup.FindNodeResponse, error) {
	var m FindNodeResponse
	if err := proto.Unmarshal(b, &m); err != nil {
		return lookup.FindNodeResponse{}, errors.Wrap(err, "wire: decode findNodeResponse")
	}
	sender, err := guid.FromBytes(m.SenderGuid)
	if err != nil {
		return lookup.FindNodeResponse{}, errors.Wrap(err, "wire: findNodeResponse sender_guid")
	}
	findID, err := guid.FromBytes(m.FindId)
	if err != nil {
		return lookup.FindNodeResponse{}, errors.Wrap(err, "wire: findNodeResponse find_id")
	}

	out := lookup.FindNodeResponse{SenderGUID: sender, SenderNick: m.SenderNick, URI: m.Uri, PubKey: m.Pubkey, FindID: findID}

	switch {
	case m.FoundKey != nil:
		v, err := valueFromWire(m.FoundKey)
		if err != nil {
			return lookup.FindNodeResponse{}, err
		}
		out.FoundKey = &v
	case m.FoundNode != nil:
		n, err := nodeTupleFromWire(m.FoundNode)
		if err != nil {
			return lookup.FindNodeResponse{}, err
		}
		out.FoundNode = &n
	default:
		for _, wn := range m.FoundNodes {
			n, err := nodeTupleFromWire(wn)
			if err != nil {
				return lookup.FindNodeResponse{}, err
			}
			out.FoundNodes = append(out.FoundNodes, n)
		}
	}
	return out, nil
}

func MarshalStore(req lookup.StoreRequest) ([]byte, error) {
	m := &Store{
		Key:                 req.Key.Bytes(),
		Value:               valueToWire(req.Value),
		OriginalPublisherId: req.OriginalPublisherID.Bytes(),
		Age:                 req.Age,
		Mutation:            int32(req.Mutation),
		NotaryElement:       req.NotaryElement.Bytes(),
		ListingElement:      req.ListingElement,
	}
	return proto.Marshal(m)
}

func UnmarshalStore(b []byte) (lookup.StoreRequest, error) {
	var m Store
	if err := proto.Unmarshal(b, &m); err != nil {
		return lookup.StoreRequest{}, errors.Wrap(err, "wire: decode store")
	}
	key, err := guid.FromBytes(m.Key)
	if err != nil {
		return lookup.StoreRequest{}, errors.Wrap(err, "wire: store key")
	}
	publisher, err := guid.FromBytes(m.OriginalPublisherId)
	if err != nil {
		return lookup.StoreRequest{}, errors.Wrap(err, "wire: store original_publisher_id")
	}
	value, err := valueFromWire(m.Value)
	if err != nil {
		return lookup.StoreRequest{}, err
	}

	var notaryElement guid.GUID
	if len(m.NotaryElement) > 0 {
		notaryElement, err = guid.FromBytes(m.NotaryElement)
		if err != nil {
			return lookup.StoreRequest{}, errors.Wrap(err, "wire: store notary_element")
		}
	}

	return lookup.StoreRequest{
		Key:                 key,
		Value:               value,
		OriginalPublisherID: publisher,
		Age:                 m.Age,
		Mutation:            store.Mutation(m.Mutation),
		NotaryElement:       notaryElement,
		ListingElement:      m.ListingElement,
	}, nil
}

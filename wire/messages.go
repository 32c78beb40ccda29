// Package wire defines the overlay control messages (findNode,
// findNodeResponse, store) as gogo/protobuf messages, in the shape
// protoc-gen-gogo would emit. No protoc toolchain ran to generate
// these; they are hand-written to the same contract so
// proto.Marshal/Unmarshal work unchanged.
package wire

import (
	"github.com/gogo/protobuf/proto"
)

// Value mirrors kademlia/store.Value on the wire: a tagged variant,
// never both an opaque payload and an index.
type Value struct {
	Kind     int32    `protobuf:"varint,1,opt,name=kind" json:"kind,omitempty"`
	Opaque   []byte   `protobuf:"bytes,2,opt,name=opaque" json:"opaque,omitempty"`
	Notaries [][]byte `protobuf:"bytes,3,rep,name=notaries" json:"notaries,omitempty"`
	Listings []string `protobuf:"bytes,4,rep,name=listings" json:"listings,omitempty"`
}

func (m *Value) Reset()         { *m = Value{} }
func (m *Value) String() string { return proto.CompactTextString(m) }
func (*Value) ProtoMessage()    {}

// NodeTuple is the (guid, address, pubkey, nickname) shape used for
// foundNode and each entry of foundNodes.
type NodeTuple struct {
	Guid     []byte `protobuf:"bytes,1,opt,name=guid" json:"guid,omitempty"`
	Address  string `protobuf:"bytes,2,opt,name=address" json:"address,omitempty"`
	Pubkey   []byte `protobuf:"bytes,3,opt,name=pubkey" json:"pubkey,omitempty"`
	Nickname string `protobuf:"bytes,4,opt,name=nickname" json:"nickname,omitempty"`
}

func (m *NodeTuple) Reset()         { *m = NodeTuple{} }
func (m *NodeTuple) String() string { return proto.CompactTextString(m) }
func (*NodeTuple) ProtoMessage()    {}

// FindNode is the findNode wire message.
type FindNode struct {
	SenderGuid []byte `protobuf:"bytes,1,opt,name=sender_guid,json=senderGuid" json:"sender_guid,omitempty"`
	SenderNick string `protobuf:"bytes,2,opt,name=sender_nick,json=senderNick" json:"sender_nick,omitempty"`
	Uri        string `protobuf:"bytes,3,opt,name=uri" json:"uri,omitempty"`
	Pubkey     []byte `protobuf:"bytes,4,opt,name=pubkey" json:"pubkey,omitempty"`
	Key        []byte `protobuf:"bytes,5,opt,name=key" json:"key,omitempty"`
	FindValue  bool   `protobuf:"varint,6,opt,name=find_value,json=findValue" json:"find_value,omitempty"`
	FindId     []byte `protobuf:"bytes,7,opt,name=find_id,json=findId" json:"find_id,omitempty"`
}

func (m *FindNode) Reset()         { *m = FindNode{} }
func (m *FindNode) String() string { return proto.CompactTextString(m) }
func (*FindNode) ProtoMessage()    {}

// FindNodeResponse is the findNodeResponse wire message. Exactly one
// of FoundKey, FoundNode, FoundNodes is populated (gogo/protobuf's
// generated oneof wrappers would enforce this at the type level; this
// hand-written shape relies on convention instead).
type FindNodeResponse struct {
	SenderGuid []byte       `protobuf:"bytes,1,opt,name=sender_guid,json=senderGuid" json:"sender_guid,omitempty"`
	SenderNick string       `protobuf:"bytes,2,opt,name=sender_nick,json=senderNick" json:"sender_nick,omitempty"`
	Uri        string       `protobuf:"bytes,3,opt,name=uri" json:"uri,omitempty"`
	Pubkey     []byte       `protobuf:"bytes,4,opt,name=pubkey" json:"pubkey,omitempty"`
	FindId     []byte       `protobuf:"bytes,5,opt,name=find_id,json=findId" json:"find_id,omitempty"`
	FoundKey   *Value       `protobuf:"bytes,6,opt,name=found_key,json=foundKey" json:"found_key,omitempty"`
	FoundNode  *NodeTuple   `protobuf:"bytes,7,opt,name=found_node,json=foundNode" json:"found_node,omitempty"`
	FoundNodes []*NodeTuple `protobuf:"bytes,8,rep,name=found_nodes,json=foundNodes" json:"found_nodes,omitempty"`
}

func (m *FindNodeResponse) Reset()         { *m = FindNodeResponse{} }
func (m *FindNodeResponse) String() string { return proto.CompactTextString(m) }
func (*FindNodeResponse) ProtoMessage()    {}

// Store is the store wire message, extended with the mutation fields
// needed to carry the index-merge operations over the wire
// (Mutation/NotaryElement/ListingElement are additive to the
// opaque-store case).
type Store struct {
	Key                 []byte `protobuf:"bytes,1,opt,name=key" json:"key,omitempty"`
	Value               *Value `protobuf:"bytes,2,opt,name=value" json:"value,omitempty"`
	OriginalPublisherId []byte `protobuf:"bytes,3,opt,name=original_publisher_id,json=originalPublisherId" json:"original_publisher_id,omitempty"`
	Age                 int64  `protobuf:"varint,4,opt,name=age" json:"age,omitempty"`
	Mutation            int32  `protobuf:"varint,5,opt,name=mutation" json:"mutation,omitempty"`
	NotaryElement       []byte `protobuf:"bytes,6,opt,name=notary_element,json=notaryElement" json:"notary_element,omitempty"`
	ListingElement      string `protobuf:"bytes,7,opt,name=listing_element,json=listingElement" json:"listing_element,omitempty"`
}

func (m *Store) Reset()         { *m = Store{} }
func (m *Store) String() string { return proto.CompactTextString(m) }
func (*Store) ProtoMessage()    {}

func init() {
	proto.RegisterType((*Value)(nil), "kademlia.wire.Value")
	proto.RegisterType((*NodeTuple)(nil), "kademlia.wire.NodeTuple")
	proto.RegisterType((*FindNode)(nil), "kademlia.wire.FindNode")
	proto.RegisterType((*FindNodeResponse)(nil), "kademlia.wire.FindNodeResponse")
	proto.RegisterType((*Store)(nil), "kademlia.wire.Store")
}

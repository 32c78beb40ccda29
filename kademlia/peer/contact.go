// Package peer defines Contact, the unit the routing table and peer
// table both traffic in, and PeerTable, the set of active crypto peers.
package peer

import (
	"fmt"

	"github.com/bowlingb/OpenBazaar/guid"
)

// Contact is a peer known by GUID, transport address, public key and an
// optional human-readable nickname. Equality is always by GUID: two
// Contacts with the same GUID but differing Address/PublicKey describe
// the same logical peer having moved or rotated keys.
type Contact struct {
	GUID      guid.GUID
	Address   string
	PublicKey []byte
	Nickname  string
}

// New builds a Contact. The GUID is not re-derived from PublicKey here:
// callers that want GUID = Hash(PublicKey) should call guid.Hash
// themselves, since some contacts (the local node in tests, for
// instance) may carry a GUID unrelated to any key material.
func New(id guid.GUID, address string, publicKey []byte, nickname string) Contact {
	return Contact{GUID: id, Address: address, PublicKey: publicKey, Nickname: nickname}
}

// Equals reports whether two contacts name the same peer, by GUID.
func (c Contact) Equals(other Contact) bool {
	return c.GUID.Equal(other.GUID)
}

// SameTuple reports whether two contacts are identical across every
// visible field.
func (c Contact) SameTuple(other Contact) bool {
	return c.GUID.Equal(other.GUID) && c.Address == other.Address &&
		c.Nickname == other.Nickname && string(c.PublicKey) == string(other.PublicKey)
}

// String renders the contact for logging.
func (c Contact) String() string {
	return fmt.Sprintf("Contact{GUID: %s, Address: %s, Nickname: %q}", c.GUID, c.Address, c.Nickname)
}

// IsZero reports whether c is the zero-value Contact (no GUID, no address).
func (c Contact) IsZero() bool {
	return c.GUID.IsZero() && c.Address == "" && c.PublicKey == nil
}

// Package transport is the default crypto-transport: identity
// keypairs, varint length-prefixed framing, a Diffie-Hellman
// handshake per connection, and a TCP listener. It is not part of the
// DHT core; the core only ever depends on the narrow
// peer.Transport/lookup.Sender/lookup.StoreSender/dht.Pinger seams
// this package implements.
package transport

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"

	"github.com/bowlingb/OpenBazaar/guid"
)

// Identity is a node's long-lived signing keypair plus the GUID
// derived from it.
type Identity struct {
	PublicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
	guid       guid.GUID
}

// NewIdentity generates a fresh ed25519 keypair and derives the
// node's self GUID by blake2b-hashing the public key (guid.Hash).
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "transport: generate identity keypair")
	}
	return &Identity{
		PublicKey:  pub,
		privateKey: priv,
		guid:       guid.Hash(pub),
	}, nil
}

// GUID returns the identity's self-assigned node GUID.
func (id *Identity) GUID() guid.GUID {
	return id.guid
}

// Sign signs data with the identity's private key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.privateKey, data)
}

// Verify checks a signature produced by the holder of publicKey.
func Verify(publicKey, data, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}

package transport

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/monnand/dhkx"
	"github.com/pkg/errors"
)

// dhGroup is shared process-wide: a single negotiated group reused
// across every connection's ephemeral keypair (dhkx.GetGroup(0) is
// the library's default group).
var dhGroup = mustDHGroup()

func mustDHGroup() *dhkx.DHGroup {
	g, err := dhkx.GetGroup(0)
	if err != nil {
		panic(err)
	}
	return g
}

// handshakeActive performs the dialing side of the Diffie-Hellman
// handshake: generate an ephemeral keypair, exchange public values
// with the passive side length-prefixed, and derive the shared
// secret. The secret keys the session; wire encryption itself is left
// to the outer transport.
func handshakeActive(conn net.Conn) ([]byte, error) {
	priv, err := dhGroup.GeneratePrivateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "transport: generate dh keypair")
	}

	if err := writeLenPrefixed(conn, priv.Bytes()); err != nil {
		return nil, errors.Wrap(err, "transport: send dh public value")
	}
	peerPub, err := readLenPrefixed(conn)
	if err != nil {
		return nil, errors.Wrap(err, "transport: receive dh public value")
	}

	shared, err := dhGroup.ComputeKey(dhkx.NewPublicKey(peerPub), priv)
	if err != nil {
		return nil, errors.Wrap(err, "transport: compute dh shared secret")
	}
	return shared.Bytes(), nil
}

// handshakePassive is handshakeActive's listener-side counterpart.
func handshakePassive(conn net.Conn) ([]byte, error) {
	priv, err := dhGroup.GeneratePrivateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "transport: generate dh keypair")
	}

	peerPub, err := readLenPrefixed(conn)
	if err != nil {
		return nil, errors.Wrap(err, "transport: receive dh public value")
	}
	if err := writeLenPrefixed(conn, priv.Bytes()); err != nil {
		return nil, errors.Wrap(err, "transport: send dh public value")
	}

	shared, err := dhGroup.ComputeKey(dhkx.NewPublicKey(peerPub), priv)
	if err != nil {
		return nil, errors.Wrap(err, "transport: compute dh shared secret")
	}
	return shared.Bytes(), nil
}

func writeLenPrefixed(conn net.Conn, b []byte) error {
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(b)))
	if _, err := conn.Write(lenBuf); err != nil {
		return err
	}
	_, err := conn.Write(b)
	return err
}

func readLenPrefixed(conn net.Conn) ([]byte, error) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf)
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

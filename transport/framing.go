package transport

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

// maxFrameLen bounds a single frame, guarding the receive loop
// against a runaway length prefix from a misbehaving or malicious
// peer.
const maxFrameLen = 4 << 20 // 4 MiB

// frameKind tags what a frame's payload decodes as, since a single
// connection interleaves findNode, findNodeResponse, and store
// messages.
type frameKind byte

const (
	kindFindNode frameKind = iota
	kindFindNodeResponse
	kindStore
)

// writeFrame writes a varint length prefix, a one-byte kind tag, then
// payload.
func writeFrame(conn net.Conn, kind frameKind, payload []byte) error {
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, uint64(len(payload)+1))
	if _, err := conn.Write(lenBuf[:n]); err != nil {
		return errors.Wrap(err, "transport: write frame length")
	}
	if _, err := conn.Write([]byte{byte(kind)}); err != nil {
		return errors.Wrap(err, "transport: write frame kind")
	}
	if _, err := conn.Write(payload); err != nil {
		return errors.Wrap(err, "transport: write frame payload")
	}
	return nil
}

// readFrame reads one frame from reader, the receive-side counterpart
// of writeFrame.
func readFrame(reader *bufio.Reader) (frameKind, []byte, error) {
	n, err := binary.ReadUvarint(reader)
	if err != nil {
		return 0, nil, err
	}
	if n == 0 || n > maxFrameLen {
		return 0, nil, errors.Errorf("transport: frame length %d out of bounds", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return 0, nil, errors.Wrap(err, "transport: read frame body")
	}
	return frameKind(buf[0]), buf[1:], nil
}

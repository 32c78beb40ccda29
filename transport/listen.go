package transport

import (
	"bufio"
	"context"
	"net"

	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
)

// Listener accepts inbound connections and feeds decoded frames to
// the transport's dispatcher, the passive-side counterpart of
// Transport's outbound GetCryptoPeer/send path.
type Listener struct {
	ln net.Listener
	t  *Transport
}

// Listen starts accepting connections on addr.
func Listen(addr string, t *Transport) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, t: t}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve runs the accept loop until the listener is closed. Each
// connection is handled on its own goroutine.
func (l *Listener) Serve(ctx context.Context) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			log.Info().Err(err).Msg("transport: accept loop stopped")
			return
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	if _, err := handshakePassive(conn); err != nil {
		log.Info().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("transport: inbound handshake failed")
		conn.Close()
		return
	}

	reader := bufio.NewReader(conn)
	remoteAddr := conn.RemoteAddr().String()

	for {
		kind, payload, err := readFrame(reader)
		if err != nil {
			conn.Close()
			return
		}
		from := l.senderContact(kind, payload, remoteAddr)
		l.t.handleFrame(ctx, from, kind, payload)
	}
}

// senderContact recovers a Contact for logging/dispatch purposes from
// whichever sender fields the decoded message carries. A store
// message carries no sender identity, so it gets an address-only
// contact; the dispatcher's OnStore only uses "from" for diagnostics.
func (l *Listener) senderContact(kind frameKind, payload []byte, remoteAddr string) peer.Contact {
	switch kind {
	case kindFindNode:
		if req, err := l.t.codec.UnmarshalFindNode(payload); err == nil {
			return peer.New(req.SenderGUID, req.URI, req.PubKey, req.SenderNick)
		}
	case kindFindNodeResponse:
		if resp, err := l.t.codec.UnmarshalFindNodeResponse(payload); err == nil {
			return peer.New(resp.SenderGUID, resp.URI, resp.PubKey, resp.SenderNick)
		}
	}
	return peer.Contact{Address: remoteAddr}
}

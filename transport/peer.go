package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
)

// portProbeTimeout bounds how long CheckPort waits for a TCP connect
// to succeed: the minimal "is this address reachable at all" check
// the peer-table Upsert path needs before trusting a brand-new peer.
const portProbeTimeout = 5 * time.Second

// cryptoPeer is the default peer.CryptoPeer: one TCP connection keyed
// to a DH-derived session, with sends circuit-broken so a peer that
// keeps failing stops being hammered by the maintenance scheduler's
// bucket-refresh lookups.
type cryptoPeer struct {
	contact peer.Contact
	dialer  Dialer

	mu           sync.Mutex
	conn         net.Conn
	reader       *bufio.Reader
	sharedSecret []byte
	breaker      *gobreaker.CircuitBreaker

	onFrame func(frameKind, []byte)
}

func newCryptoPeer(contact peer.Contact, dialer Dialer, onFrame func(frameKind, []byte)) *cryptoPeer {
	cp := &cryptoPeer{contact: contact, dialer: dialer, onFrame: onFrame}
	cp.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "transport:" + contact.GUID.String(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return cp
}

// CheckPort implements peer.CryptoPeer: a bare TCP dial.
func (cp *cryptoPeer) CheckPort(ctx context.Context) bool {
	d := net.Dialer{Timeout: portProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", cp.contact.Address)
	if err != nil {
		log.Info().Err(err).Str("address", cp.contact.Address).Msg("transport: port probe failed")
		return false
	}
	conn.Close()
	return true
}

// StartHandshake dials the peer and performs the DH handshake
// asynchronously, invoking onComplete exactly once. The peer table
// treats a non-nil error as "do not insert, retry later via normal
// discovery".
func (cp *cryptoPeer) StartHandshake(ctx context.Context, onComplete func(err error)) {
	go func() {
		conn, err := cp.dialer(cp.contact.Address)
		if err != nil {
			onComplete(errors.Wrap(err, "transport: dial"))
			return
		}
		secret, err := handshakeActive(conn)
		if err != nil {
			conn.Close()
			onComplete(err)
			return
		}
		cp.mu.Lock()
		cp.conn = conn
		cp.reader = bufio.NewReader(conn)
		cp.sharedSecret = secret
		cp.mu.Unlock()
		if cp.onFrame != nil {
			go cp.recvLoop()
		}
		onComplete(nil)
	}()
}

// Send implements peer.CryptoPeer.Send: breaker-guarded frame write.
// Send is idempotent with respect to message contents, not delivery.
// A breaker trip or write error simply returns an error to the caller
// (lookup.Sender/StoreSender), which logs and moves on.
func (cp *cryptoPeer) Send(ctx context.Context, msg []byte) error {
	cp.mu.Lock()
	conn := cp.conn
	cp.mu.Unlock()
	if conn == nil {
		return errors.New("transport: send on unestablished peer")
	}
	kind, payload := splitEnvelope(msg)
	_, err := cp.breaker.Execute(func() (interface{}, error) {
		return nil, writeFrame(conn, kind, payload)
	})
	return err
}

func (cp *cryptoPeer) recvLoop() {
	cp.mu.Lock()
	reader := cp.reader
	cp.mu.Unlock()
	for {
		kind, payload, err := readFrame(reader)
		if err != nil {
			log.Info().Err(err).Str("address", cp.contact.Address).Msg("transport: connection closed")
			return
		}
		cp.onFrame(kind, payload)
	}
}

// established reports whether the DH handshake has completed.
func (cp *cryptoPeer) established() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.conn != nil
}

func (cp *cryptoPeer) Close() {
	cp.mu.Lock()
	conn := cp.conn
	cp.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

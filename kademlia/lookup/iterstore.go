package lookup

import (
	"context"
	"time"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

// StoreSender dispatches a store request to a resolved contact; the
// handshake/crypto-peer plumbing lives in the transport layer, not
// here.
type StoreSender interface {
	SendStore(ctx context.Context, to peer.Contact, req StoreRequest) error
}

// LocalWriter is the narrow write side of the local value store that
// IterativeStore needs.
type LocalWriter interface {
	Put(key guid.GUID, value store.Value, now, originallyPublishedAt time.Time, originalPublisher guid.GUID, marketID string) error
}

// IterativeStore looks up the k nodes closest to key, writes the value
// into the local store first, then fires a store
// message at each of them (skipping self). originalPublisher defaults
// to the local node when the caller passes a zero GUID; age is used as
// given, and an age of zero publishes the value as new.
func (e *Engine) IterativeStore(ctx context.Context, key guid.GUID, value store.Value, originalPublisher guid.GUID, age time.Duration, marketID string, localStore LocalWriter, sender StoreSender) error {
	if originalPublisher.IsZero() {
		originalPublisher = e.self.GUID
	}

	return e.IterativeFind(ctx, key, CallFindNode, func(res Result) {
		now := time.Now()
		if err := localStore.Put(key, value, now, now.Add(-age), originalPublisher, marketID); err != nil {
			log.Warn().Err(err).Str("key", key.String()).Msg("lookup: iterative_store local put failed")
		}

		closest := res.Shortlist
		if len(closest) > e.cfg.K {
			closest = closest[:e.cfg.K]
		}
		for _, c := range closest {
			if c.GUID.Equal(e.self.GUID) {
				continue
			}
			req := StoreRequest{
				Key:                 key,
				Value:               value,
				OriginalPublisherID: originalPublisher,
				Age:                 int64(age.Seconds()),
			}
			go func(c peer.Contact, req StoreRequest) {
				if err := sender.SendStore(ctx, c, req); err != nil {
					log.Info().Err(err).Str("guid", c.GUID.String()).Msg("lookup: store send failed")
				}
			}(c, req)
		}
	}, nil)
}

package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/config"
	"github.com/bowlingb/OpenBazaar/kademlia/lookup"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

// Routes is the narrow routing-table contract the scheduler needs to
// find stale buckets.
type Routes interface {
	GetRefreshList(startIndex int, forceRefresh bool) []guid.GUID
}

// Scheduler runs the periodic bucket refresh and republish/expire
// sweep, refresh first. Bucket refreshes run one at a time, each
// lookup finishing before the next starts, to cap outbound fan-out.
// The sweep starts its republish/replicate stores without waiting for
// one to finish before starting the next.
type Scheduler struct {
	self        guid.GUID
	routes      Routes
	localStore  *store.Store
	engine      *lookup.Engine
	storeSender lookup.StoreSender
	cfg         config.Config

	mu      sync.Mutex
	running bool
}

// NewScheduler wires a Scheduler to its collaborators.
func NewScheduler(self guid.GUID, routes Routes, localStore *store.Store, engine *lookup.Engine, storeSender lookup.StoreSender, cfg config.Config) *Scheduler {
	return &Scheduler{
		self:        self,
		routes:      routes,
		localStore:  localStore,
		engine:      engine,
		storeSender: storeSender,
		cfg:         cfg,
	}
}

// RefreshNode runs one full maintenance pass: bucket refresh, then the
// republish/expire sweep. It is safe to call concurrently with itself;
// an overlapping call is skipped rather than queued, since the caller
// is expected to be a periodic timer loop and a skipped tick simply
// means the next tick covers a wider staleness window.
func (s *Scheduler) RefreshNode(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Info().Msg("discovery: maintenance sweep already in progress, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.refreshBuckets(ctx)
	s.sweepStore(ctx)
}

// refreshBuckets runs one lookup per stale bucket, sequentially.
func (s *Scheduler) refreshBuckets(ctx context.Context) {
	for _, key := range s.routes.GetRefreshList(0, false) {
		done := make(chan struct{})
		err := s.engine.IterativeFind(ctx, key, lookup.CallFindNode, func(lookup.Result) {
			close(done)
		}, nil)
		if err != nil {
			log.Info().Err(err).Str("key", key.String()).Msg("discovery: bucket refresh lookup aborted")
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// sweepStore republishes, replicates, or expires every stored value.
func (s *Scheduler) sweepStore(ctx context.Context) {
	now := time.Now()
	var toDelete []guid.GUID

	for _, key := range s.localStore.Keys() {
		if s.localStore.IsInternalKey(key) {
			continue
		}
		sv, ok := s.localStore.Get(key)
		if !ok {
			continue
		}
		age := sv.Age(now)

		switch {
		case sv.OriginalPublisherGUID.Equal(s.self) && age >= s.cfg.Expire:
			// Owner republish: publish fresh, resetting the value's age
			// so replicas do not immediately expire it again.
			s.restore(ctx, sv, 0)
		case age >= s.cfg.Expire:
			toDelete = append(toDelete, key)
		case now.Sub(sv.LastPublishedAt) >= s.cfg.Replicate:
			// Replication keeps the original publish time: the replica
			// must still expire T_expire after first publication.
			s.restore(ctx, sv, age)
		}
	}

	for _, key := range toDelete {
		s.localStore.Del(key)
	}
}

func (s *Scheduler) restore(ctx context.Context, sv store.StoredValue, age time.Duration) {
	err := s.engine.IterativeStore(ctx, sv.Key, sv.Value, sv.OriginalPublisherGUID, age, sv.MarketID, s.localStore, s.storeSender)
	if err != nil {
		log.Warn().Err(err).Str("key", sv.Key.String()).Msg("discovery: republish/replicate failed")
	}
}

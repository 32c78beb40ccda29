// Package store implements the local value store: a keyed map from
// 160-bit key to payload plus publish-lifecycle metadata, with
// index-merge semantics for notary and keyword/listing indices.
package store

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/internal/log"
)

// ErrMissingPublisher is returned by Put when neither the caller nor
// the RPC context supplied an original publisher GUID.
var ErrMissingPublisher = errors.New("store: original publisher is required")

// Persistence is the narrow KV-persistence contract a Store consults
// after every write so the in-memory value store survives a restart
// across a restart. Wiring it is optional: a Store
// with no Persistence set (the New default) is a pure in-memory store,
// which is what most tests want.
type Persistence interface {
	SaveValue(sv StoredValue) error
	DeleteValue(key guid.GUID) error
}

// NodeStateKey is the conventional internal bookkeeping key under which
// serialized routing state may be persisted; it and any other key
// marked internal at Put time are excluded from the republish sweep.
var NodeStateKey = guid.Hash([]byte("nodeState"))

// StoredValue is a single entry of the local value store.
type StoredValue struct {
	Key                   guid.GUID
	Value                 Value
	OriginalPublisherGUID guid.GUID
	OriginallyPublishedAt time.Time
	LastPublishedAt       time.Time
	MarketID              string
	Internal              bool
}

// Age reports how long ago the value was originally published.
func (sv StoredValue) Age(now time.Time) time.Duration {
	return now.Sub(sv.OriginallyPublishedAt)
}

// Store is the local value store. All operations are safe for
// concurrent use; it is intended to be driven from a single logical
// executor, so the lock here exists to make that safe under Go's
// goroutine model rather than to allow fine-grained concurrent
// mutation.
type Store struct {
	mu          sync.RWMutex
	values      map[guid.GUID]*StoredValue
	persistence Persistence
}

// New returns an empty Store with no persistence backend wired. Call
// SetPersistence to have writes survive a restart.
func New() *Store {
	return &Store{values: make(map[guid.GUID]*StoredValue)}
}

// SetPersistence wires p as the backend every subsequent Put, Del, and
// index-merge mutation writes through to. Intended to be called once,
// right after New, before the store is handed to concurrent callers.
func (s *Store) SetPersistence(p Persistence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistence = p
}

func (s *Store) persist(sv StoredValue) {
	s.mu.RLock()
	p := s.persistence
	s.mu.RUnlock()
	if p == nil {
		return
	}
	if err := p.SaveValue(sv); err != nil {
		log.Warn().Err(err).Str("key", sv.Key.String()).Msg("store: could not persist value")
	}
}

func (s *Store) persistDelete(key guid.GUID) {
	s.mu.RLock()
	p := s.persistence
	s.mu.RUnlock()
	if p == nil {
		return
	}
	if err := p.DeleteValue(key); err != nil {
		log.Warn().Err(err).Str("key", key.String()).Msg("store: could not persist delete")
	}
}

// Put creates or overwrites the entry at key. now is wall-clock time
// of this call; originallyPublishedAt
// records when the value was first published (equal to now for a fresh
// local publish; now.Add(-age) when relaying a replica). originalPublisher
// must be non-zero.
func (s *Store) Put(key guid.GUID, value Value, now, originallyPublishedAt time.Time, originalPublisher guid.GUID, marketID string) error {
	if originalPublisher.IsZero() {
		return ErrMissingPublisher
	}

	sv := StoredValue{
		Key:                   key,
		Value:                 value,
		OriginalPublisherGUID: originalPublisher,
		OriginallyPublishedAt: originallyPublishedAt,
		LastPublishedAt:       now,
		MarketID:              marketID,
	}

	s.mu.Lock()
	s.values[key] = &sv
	s.mu.Unlock()

	s.persist(sv)
	return nil
}

// PutInternal is Put for bookkeeping entries (e.g. NodeStateKey) that
// the republish sweep must never touch; it is still persisted so a
// restart recovers them.
func (s *Store) PutInternal(key guid.GUID, value Value, now time.Time) {
	sv := StoredValue{
		Key:                   key,
		Value:                 value,
		OriginalPublisherGUID: guid.Zero,
		OriginallyPublishedAt: now,
		LastPublishedAt:       now,
		Internal:              true,
	}

	s.mu.Lock()
	s.values[key] = &sv
	s.mu.Unlock()

	s.persist(sv)
}

// Get returns the stored value at key, if any.
func (s *Store) Get(key guid.GUID) (StoredValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.values[key]
	if !ok {
		return StoredValue{}, false
	}
	return *sv, true
}

// Del removes the entry at key, if present.
func (s *Store) Del(key guid.GUID) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()

	s.persistDelete(key)
}

// Keys returns every key currently stored, including internal ones.
func (s *Store) Keys() []guid.GUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]guid.GUID, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out
}

// IsInternalKey reports whether key is marked internal bookkeeping, and
// so must be skipped by the republish/expire sweep.
// An unknown key is reported as non-internal.
func (s *Store) IsInternalKey(key guid.GUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.values[key]
	return ok && sv.Internal
}

// OriginalPublisher returns the recorded original publisher for key.
func (s *Store) OriginalPublisher(key guid.GUID) (guid.GUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.values[key]
	if !ok {
		return guid.GUID{}, false
	}
	return sv.OriginalPublisherGUID, true
}

// OriginallyPublishedAt returns when key was first published.
func (s *Store) OriginallyPublishedAt(key guid.GUID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.values[key]
	if !ok {
		return time.Time{}, false
	}
	return sv.OriginallyPublishedAt, true
}

// LastPublishedAt returns when key was last (re)published or replicated.
func (s *Store) LastPublishedAt(key guid.GUID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.values[key]
	if !ok {
		return time.Time{}, false
	}
	return sv.LastPublishedAt, true
}

// Mutation names one of the four index-merge operations an inbound
// `store` message may carry.
type Mutation int

const (
	// MutationNone means the payload is opaque; store it as-is.
	MutationNone Mutation = iota
	MutationNotaryAdd
	MutationNotaryRemove
	MutationKeywordAdd
	MutationKeywordRemove
)

// ApplyNotaryMutation performs the load/mutate/write-back cycle for
// notary_index_add/notary_index_remove, creating the set on an add if
// it does not already exist. A remove targeting an absent key or an
// absent element is dropped silently: nothing is written, nothing is
// persisted, and no entry is created for the maintenance sweep to
// republish or expire.
func (s *Store) ApplyNotaryMutation(key guid.GUID, mutation Mutation, element guid.GUID, now time.Time, age time.Duration, originalPublisher guid.GUID, marketID string) error {
	sv, written, err := s.applyMutation(key, func(v Value) (Value, bool) {
		switch mutation {
		case MutationNotaryAdd:
			v = v.Clone()
			v.AddNotary(element)
			return v, true
		case MutationNotaryRemove:
			if !v.HasNotary(element) {
				return v, false
			}
			v = v.Clone()
			v.RemoveNotary(element)
			return v, true
		}
		return v, false
	}, NewNotarySet(), now, age, originalPublisher, marketID)
	if err != nil || !written {
		return err
	}
	s.persist(sv)
	return nil
}

// ApplyKeywordMutation is ApplyNotaryMutation's analogue for the
// keyword/listing index.
func (s *Store) ApplyKeywordMutation(key guid.GUID, mutation Mutation, listingID string, now time.Time, age time.Duration, originalPublisher guid.GUID, marketID string) error {
	sv, written, err := s.applyMutation(key, func(v Value) (Value, bool) {
		switch mutation {
		case MutationKeywordAdd:
			v = v.Clone()
			v.AddListing(listingID)
			return v, true
		case MutationKeywordRemove:
			if !v.HasListing(listingID) {
				return v, false
			}
			v = v.Clone()
			v.RemoveListing(listingID)
			return v, true
		}
		return v, false
	}, NewListingSet(), now, age, originalPublisher, marketID)
	if err != nil || !written {
		return err
	}
	s.persist(sv)
	return nil
}

// applyMutation loads the value at key (or fresh if absent), runs
// mutate, and writes the result back. mutate reports whether it
// changed anything; a no-op (a remove of something that was never
// there) leaves the store untouched and returns written=false so the
// caller skips persistence too.
func (s *Store) applyMutation(key guid.GUID, mutate func(Value) (Value, bool), fresh Value, now time.Time, age time.Duration, originalPublisher guid.GUID, marketID string) (StoredValue, bool, error) {
	if originalPublisher.IsZero() {
		return StoredValue{}, false, ErrMissingPublisher
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.values[key]
	var base Value
	if ok {
		base = existing.Value
	} else {
		base = fresh
	}

	merged, changed := mutate(base)
	if !changed {
		return StoredValue{}, false, nil
	}

	// originally_published_at = now - age on every store, merge
	// included; re-merges are not special-cased.
	sv := StoredValue{
		Key:                   key,
		Value:                 merged,
		OriginalPublisherGUID: originalPublisher,
		OriginallyPublishedAt: now.Add(-age),
		LastPublishedAt:       now,
		MarketID:              marketID,
	}
	s.values[key] = &sv
	return sv, true, nil
}

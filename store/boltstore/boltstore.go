// Package boltstore is the default KV-persistence backend: map-like
// access keyed by 160-bit hex keys, with per-key metadata, used to
// carry the in-memory value store, the known-nodes bootstrap log, and
// the nodeState bookkeeping key across process restarts.
package boltstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

var (
	valuesBucket     = []byte("values")
	knownNodesBucket = []byte("knownNodes")
	peersBucket      = []byte("peers")
)

// DB is the bbolt-backed persistence collaborator. Safe for concurrent
// use; bbolt serializes writers internally and this type adds no
// locking of its own.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt file at path and
// ensures its buckets exist.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "boltstore: create data directory")
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "boltstore: open database")
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{valuesBucket, knownNodesBucket, peersBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, errors.Wrap(err, "boltstore: create buckets")
	}

	return &DB{db: bdb}, nil
}

// Close releases the underlying file handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// persistedValue is the on-disk shape of a kademlia/store.StoredValue;
// store.Value's notary/listing sets are unexported maps, so they are
// flattened to slices for JSON round-tripping.
type persistedValue struct {
	Key                   string
	Kind                  store.Kind
	Opaque                []byte
	Notaries              []string
	Listings              []string
	OriginalPublisherGUID string
	OriginallyPublishedAt time.Time
	LastPublishedAt       time.Time
	MarketID              string
	Internal              bool
}

func toPersisted(sv store.StoredValue) persistedValue {
	p := persistedValue{
		Key:                   sv.Key.String(),
		Kind:                  sv.Value.Kind,
		Opaque:                sv.Value.Opaque,
		OriginalPublisherGUID: sv.OriginalPublisherGUID.String(),
		OriginallyPublishedAt: sv.OriginallyPublishedAt,
		LastPublishedAt:       sv.LastPublishedAt,
		MarketID:              sv.MarketID,
		Internal:              sv.Internal,
	}
	for _, n := range sv.Value.Notaries() {
		p.Notaries = append(p.Notaries, n.String())
	}
	p.Listings = sv.Value.Listings()
	return p
}

func fromPersisted(p persistedValue) (store.StoredValue, error) {
	key, err := guid.FromHex(p.Key)
	if err != nil {
		return store.StoredValue{}, errors.Wrap(err, "boltstore: decode key")
	}
	publisher, err := guid.FromHex(p.OriginalPublisherGUID)
	if err != nil {
		return store.StoredValue{}, errors.Wrap(err, "boltstore: decode original publisher")
	}

	var value store.Value
	switch p.Kind {
	case store.KindNotarySet:
		value = store.NewNotarySet()
		for _, n := range p.Notaries {
			id, err := guid.FromHex(n)
			if err != nil {
				return store.StoredValue{}, errors.Wrap(err, "boltstore: decode notary element")
			}
			value.AddNotary(id)
		}
	case store.KindListingSet:
		value = store.NewListingSet()
		for _, l := range p.Listings {
			value.AddListing(l)
		}
	default:
		value = store.OpaqueValue(p.Opaque)
	}

	return store.StoredValue{
		Key:                   key,
		Value:                 value,
		OriginalPublisherGUID: publisher,
		OriginallyPublishedAt: p.OriginallyPublishedAt,
		LastPublishedAt:       p.LastPublishedAt,
		MarketID:              p.MarketID,
		Internal:              p.Internal,
	}, nil
}

// SaveValue persists a single StoredValue, called after every local
// Store.Put so a restart recovers the full value store.
func (d *DB) SaveValue(sv store.StoredValue) error {
	p := toPersisted(sv)
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "boltstore: encode value")
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Put([]byte(p.Key), data)
	})
}

// DeleteValue removes a persisted value, called alongside Store.Del.
func (d *DB) DeleteValue(key guid.GUID) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Delete([]byte(key.String()))
	})
}

// LoadValues returns every persisted StoredValue, used to repopulate an
// in-memory kademlia/store.Store at startup before the first join.
func (d *DB) LoadValues() ([]store.StoredValue, error) {
	var out []store.StoredValue
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).ForEach(func(k, v []byte) error {
			var p persistedValue
			if err := json.Unmarshal(v, &p); err != nil {
				return errors.Wrapf(err, "boltstore: decode value %s", k)
			}
			sv, err := fromPersisted(p)
			if err != nil {
				return err
			}
			out = append(out, sv)
			return nil
		})
	})
	return out, err
}

// persistedContact is the on-disk shape of a peer.Contact.
type persistedContact struct {
	GUID      string
	Address   string
	PublicKey []byte
	Nickname  string
}

func contactToPersisted(c peer.Contact) persistedContact {
	return persistedContact{GUID: c.GUID.String(), Address: c.Address, PublicKey: c.PublicKey, Nickname: c.Nickname}
}

func contactFromPersisted(p persistedContact) (peer.Contact, error) {
	id, err := guid.FromHex(p.GUID)
	if err != nil {
		return peer.Contact{}, errors.Wrap(err, "boltstore: decode contact guid")
	}
	return peer.New(id, p.Address, p.PublicKey, p.Nickname), nil
}

// SavePeer implements peer.Persistence: persists the peer tuple on
// successful Upsert.
func (d *DB) SavePeer(c peer.Contact) error {
	data, err := json.Marshal(contactToPersisted(c))
	if err != nil {
		return errors.Wrap(err, "boltstore: encode peer")
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).Put([]byte(c.GUID.String()), data)
	})
}

// SaveKnownNodes overwrites the known-nodes bootstrap log. node.Shutdown
// calls it so the next startup's Restore can reload the log.
func (d *DB) SaveKnownNodes(nodes []peer.Contact) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(knownNodesBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(knownNodesBucket)
		if err != nil {
			return err
		}
		for i, c := range nodes {
			data, err := json.Marshal(contactToPersisted(c))
			if err != nil {
				return errors.Wrap(err, "boltstore: encode known node")
			}
			if err := b.Put(itob(i), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadKnownNodes returns the persisted known-nodes bootstrap log, used
// to seed the peer table's KnownNodes before the first join of a
// restarted node. The routing table is not seeded from it.
func (d *DB) LoadKnownNodes() ([]peer.Contact, error) {
	var out []peer.Contact
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(knownNodesBucket).ForEach(func(_, v []byte) error {
			var p persistedContact
			if err := json.Unmarshal(v, &p); err != nil {
				return errors.Wrap(err, "boltstore: decode known node")
			}
			c, err := contactFromPersisted(p)
			if err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

func itob(i int) []byte {
	return []byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)}
}

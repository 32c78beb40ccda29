package store

import (
	"github.com/bowlingb/OpenBazaar/guid"
)

// Kind tags which shape a Value's payload takes.
type Kind int

const (
	// KindOpaque carries arbitrary, uninterpreted bytes.
	KindOpaque Kind = iota
	// KindNotarySet carries a notary-index set, merged by GUID.
	KindNotarySet
	// KindListingSet carries a keyword/listing-index set, merged by
	// listing ID.
	KindListingSet
)

// Value is the tagged-variant payload of a StoredValue: opaque bytes,
// a notary-index set, or a keyword/listing-index set.
type Value struct {
	Kind     Kind
	Opaque   []byte
	notaries map[guid.GUID]struct{}
	listings map[string]struct{}
}

// OpaqueValue wraps arbitrary bytes for opaque storage.
func OpaqueValue(b []byte) Value {
	return Value{Kind: KindOpaque, Opaque: b}
}

// NewNotarySet returns an empty notary-index value.
func NewNotarySet() Value {
	return Value{Kind: KindNotarySet, notaries: make(map[guid.GUID]struct{})}
}

// NewListingSet returns an empty keyword/listing-index value.
func NewListingSet() Value {
	return Value{Kind: KindListingSet, listings: make(map[string]struct{})}
}

// Clone deep-copies v so merge operations never alias a caller's map.
func (v Value) Clone() Value {
	out := Value{Kind: v.Kind}
	if v.Opaque != nil {
		out.Opaque = append([]byte(nil), v.Opaque...)
	}
	if v.notaries != nil {
		out.notaries = make(map[guid.GUID]struct{}, len(v.notaries))
		for k := range v.notaries {
			out.notaries[k] = struct{}{}
		}
	}
	if v.listings != nil {
		out.listings = make(map[string]struct{}, len(v.listings))
		for k := range v.listings {
			out.listings[k] = struct{}{}
		}
	}
	return out
}

// AddNotary inserts id into the notary set, creating the set if v was
// previously some other kind.
func (v *Value) AddNotary(id guid.GUID) {
	if v.Kind != KindNotarySet || v.notaries == nil {
		*v = NewNotarySet()
	}
	v.notaries[id] = struct{}{}
}

// RemoveNotary removes id from the notary set if present, dropping the
// operation silently otherwise.
func (v *Value) RemoveNotary(id guid.GUID) {
	if v.Kind == KindNotarySet && v.notaries != nil {
		delete(v.notaries, id)
	}
}

// HasNotary reports whether id is in the notary set. Always false for
// other kinds.
func (v Value) HasNotary(id guid.GUID) bool {
	if v.Kind != KindNotarySet || v.notaries == nil {
		return false
	}
	_, ok := v.notaries[id]
	return ok
}

// Notaries returns the current notary set, unordered.
func (v Value) Notaries() []guid.GUID {
	out := make([]guid.GUID, 0, len(v.notaries))
	for k := range v.notaries {
		out = append(out, k)
	}
	return out
}

// AddListing inserts listingID into the keyword/listing set.
func (v *Value) AddListing(listingID string) {
	if v.Kind != KindListingSet || v.listings == nil {
		*v = NewListingSet()
	}
	v.listings[listingID] = struct{}{}
}

// RemoveListing removes listingID if present, silently otherwise.
func (v *Value) RemoveListing(listingID string) {
	if v.Kind == KindListingSet && v.listings != nil {
		delete(v.listings, listingID)
	}
}

// HasListing reports whether listingID is in the listing set. Always
// false for other kinds.
func (v Value) HasListing(listingID string) bool {
	if v.Kind != KindListingSet || v.listings == nil {
		return false
	}
	_, ok := v.listings[listingID]
	return ok
}

// Listings returns the current listing set, unordered.
func (v Value) Listings() []string {
	out := make([]string, 0, len(v.listings))
	for k := range v.listings {
		out = append(out, k)
	}
	return out
}

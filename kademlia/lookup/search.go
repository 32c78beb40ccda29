package lookup

import (
	"sort"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/kademlia/store"
)

// Result is delivered to a Search's callback exactly once, on
// whichever branch terminates the lookup.
type Result struct {
	// Shortlist is set on bootstrap-empty and on ordinary convergence
	// (no foundKey/foundNode ever arrived).
	Shortlist []peer.Contact
	// FoundValue is set when a findValue lookup's findNodeResponse
	// carried foundKey.
	FoundValue *store.Value
	// FoundNode is set when a findNode lookup's findNodeResponse
	// carried foundNode, or when iterative_find short-circuited because
	// key already names an active peer.
	FoundNode *peer.Contact
}

// Search is the state of one in-flight lookup. find_id is what ties
// inbound findNodeResponse messages back to the search that issued
// the probe.
type Search struct {
	FindID guid.GUID
	Key    guid.GUID
	Call   CallKind

	Shortlist        []peer.Contact
	ActiveProbes     []peer.Contact
	AlreadyContacted map[string]struct{}
	PreviousClosest  peer.Contact

	// SlowNodeCount snapshots how many probes were still outstanding
	// when the last iteration started. Nothing consults it yet.
	SlowNodeCount int
	ContactedNow  int

	Callback func(Result)
}

// tupleKey is the dedupe identity for a shortlist/active-probe entry:
// the full (address, guid) pair, compared positionally. Spec §9 flags
// the source's dedupe as collapsing tuples by *set* of components
// (losing information when two distinct peers share components in
// different positions) and instructs implementers to keep order-
// sensitive equality instead; this is that decision, applied uniformly
// to the shortlist, active_probes, and already_contacted.
func tupleKey(c peer.Contact) string {
	return c.Address + "|" + c.GUID.String()
}

// dedupeShortlist preserves first occurrence and drops later entries
// whose (address, guid) tuple already appeared.
func dedupeShortlist(list []peer.Contact) []peer.Contact {
	seen := make(map[string]struct{}, len(list))
	out := make([]peer.Contact, 0, len(list))
	for _, c := range list {
		k := tupleKey(c)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// sortByDistance orders contacts by ascending XOR distance to target.
func sortByDistance(list []peer.Contact, target guid.GUID) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].GUID.CloserTo(target, list[j].GUID)
	})
}

func removeFromActiveProbes(search *Search, c peer.Contact) {
	k := tupleKey(c)
	out := search.ActiveProbes[:0]
	for _, p := range search.ActiveProbes {
		if tupleKey(p) == k {
			continue
		}
		out = append(out, p)
	}
	search.ActiveProbes = out
}

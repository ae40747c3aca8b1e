package state

import (
	"net/netip"
	"slices"
)

// PrefixType classifies the origin of a PrefixEntry, spec.md §3.
type PrefixType int

const (
	PrefixLoopback PrefixType = iota
	PrefixBgp
	PrefixStatic
	PrefixConfig
	PrefixVip
	PrefixPrependLabel
	PrefixRib
)

// ForwardingType selects the dataplane encapsulation used for routes
// derived from a prefix, spec.md §4.6.
type ForwardingType int

const (
	ForwardingIP ForwardingType = iota
	ForwardingSrMpls
)

// ForwardingAlgo selects the SPF variant used to compute paths to a
// prefix, spec.md §4.5. KSP2_ED_ECMP requires ForwardingSrMpls: without
// an MPLS label stack there is no way to steer traffic onto the second,
// edge-disjoint path.
type ForwardingAlgo int

const (
	AlgoSpEcmp ForwardingAlgo = iota
	AlgoKsp2EdEcmp
)

// PrefixEntry is one advertised reachability claim, spec.md §3.
type PrefixEntry struct {
	Prefix           netip.Prefix
	Type             PrefixType
	ForwardingType   ForwardingType
	ForwardingAlgo   ForwardingAlgo
	MinNexthops      int
	Metrics          PrefixMetrics
	Tags             []string
	Area             AreaId
	EphemeralLabel   uint32 // set when this prefix carries a node/prepend segment
}

// PrefixMetrics carries the tie-break fields used to pick a best
// PrefixEntry when the same prefix is originated by more than one
// node, spec.md §4.5.
type PrefixMetrics struct {
	PathPreference    int32
	SourcePreference  int32
	DistinguisherTiebreak uint64
}

// Valid requires KSP2_ED_ECMP only ever pairs with SR_MPLS forwarding,
// spec.md §4.6's stated invariant.
func (p PrefixEntry) Valid() bool {
	if p.ForwardingAlgo == AlgoKsp2EdEcmp && p.ForwardingType != ForwardingSrMpls {
		return false
	}
	return true
}

// PrefixDb is one node's published set of originated prefixes within an
// area, spec.md §3.
type PrefixDb struct {
	NodeId   NodeId
	Area     AreaId
	Version  uint64
	Prefixes []PrefixEntry
}

func (db PrefixDb) Clone() PrefixDb {
	out := db
	out.Prefixes = slices.Clone(db.Prefixes)
	return out
}

// BetterPrefixMetrics reports whether candidate outranks current under
// spec.md §4.5's origin tie-break: higher path_preference wins, then
// higher source_preference, then the distinguisher (a stable hash of
// the originator) breaks remaining ties deterministically rather than
// by arrival order.
func BetterPrefixMetrics(current, candidate PrefixMetrics) bool {
	if candidate.PathPreference != current.PathPreference {
		return candidate.PathPreference > current.PathPreference
	}
	if candidate.SourcePreference != current.SourcePreference {
		return candidate.SourcePreference > current.SourcePreference
	}
	return candidate.DistinguisherTiebreak > current.DistinguisherTiebreak
}

package state

import (
	"net/netip"
	"slices"
)

// Adjacency is one established, bidirectional neighbor session on a
// local interface, spec.md §3.
type Adjacency struct {
	RemoteNode    NodeId
	LocalIface    InterfaceName
	RemoteIface   InterfaceName
	V4NextHop     netip.Addr
	V6NextHop     netip.Addr
	Metric        uint32
	AdjLabel      AdjLabel
	Weight        uint32
	Timestamp     int64 // unix nanos
	IsOverloaded  bool
}

// AdjLabelType selects how an adjacency-segment label is assigned,
// spec.md §4.6.
type AdjLabelType int

const (
	AdjLabelNone AdjLabelType = iota
	AdjLabelAutoIfIndex
	AdjLabelStatic
)

// AdjLabel is the MPLS label identifying one adjacency for segment
// routing php/pop routes.
type AdjLabel struct {
	Type  AdjLabelType
	Label uint32
}

// AdjacencyDb is one node's published view of its adjacencies within an
// area, spec.md §3. Version strictly increases on any observable change.
type AdjacencyDb struct {
	NodeId        NodeId
	Area          AreaId
	NodeLabel     uint32
	IsOverloaded  bool
	Version       uint64
	Adjacencies   []Adjacency
}

// Clone returns a deep-enough copy safe to hand across a component
// boundary as an immutable snapshot, spec.md §5 ("snapshots cross
// boundaries by value").
func (db AdjacencyDb) Clone() AdjacencyDb {
	out := db
	out.Adjacencies = slices.Clone(db.Adjacencies)
	return out
}

// SortedAdjacencies returns the adjacency list ordered by
// (RemoteNode, LocalIface) so iteration is deterministic, spec.md §4.6.
func (db AdjacencyDb) SortedAdjacencies() []Adjacency {
	out := slices.Clone(db.Adjacencies)
	slices.SortFunc(out, func(a, b Adjacency) int {
		if a.RemoteNode != b.RemoteNode {
			if a.RemoteNode < b.RemoteNode {
				return -1
			}
			return 1
		}
		if a.LocalIface != b.LocalIface {
			if a.LocalIface < b.LocalIface {
				return -1
			}
			return 1
		}
		return 0
	})
	return out
}

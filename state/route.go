package state

import (
	"net/netip"
	"slices"
)

// MplsAction describes the label operation applied at a next-hop,
// spec.md §4.6.
type MplsAction int

const (
	MplsActionNone MplsAction = iota
	MplsActionPush
	MplsActionSwap
	MplsActionPhp
	MplsActionPop
)

// NextHop is one ECMP member of a computed route, spec.md §3.
type NextHop struct {
	Address      netip.Addr
	Iface        InterfaceName
	Weight       uint32
	Metric       uint32
	Area         AreaId
	NeighborNode NodeId
	Action       MplsAction
	PushLabels   []uint32
	SwapLabel    uint32
}

// UnicastRoute is a computed IP route with its resolved next-hop set,
// spec.md §3.
type UnicastRoute struct {
	Prefix   netip.Prefix
	NextHops []NextHop
}

// MplsRoute is a computed label-switched route (node-segment swap or
// adjacency-segment php/pop), spec.md §4.6.
type MplsRoute struct {
	Label    uint32
	NextHops []NextHop
}

// RouteDb is the SPF engine's desired-state output, spec.md §3 — the
// input Fib reconciles against what the platform agent believes is
// installed.
type RouteDb struct {
	NodeId        NodeId
	UnicastRoutes []UnicastRoute
	MplsRoutes    []MplsRoute
}

func (db RouteDb) Clone() RouteDb {
	out := db
	out.UnicastRoutes = slices.Clone(db.UnicastRoutes)
	out.MplsRoutes = slices.Clone(db.MplsRoutes)
	return out
}

// SortedUnicastRoutes orders by prefix so route-db diffs and log output
// are deterministic across runs, spec.md §8 testable property 2.
func (db RouteDb) SortedUnicastRoutes() []UnicastRoute {
	out := slices.Clone(db.UnicastRoutes)
	slices.SortFunc(out, func(a, b UnicastRoute) int {
		return comparePrefix(a.Prefix, b.Prefix)
	})
	return out
}

func (db RouteDb) SortedMplsRoutes() []MplsRoute {
	out := slices.Clone(db.MplsRoutes)
	slices.SortFunc(out, func(a, b MplsRoute) int {
		if a.Label != b.Label {
			if a.Label < b.Label {
				return -1
			}
			return 1
		}
		return 0
	})
	return out
}

func comparePrefix(a, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	if a.Bits() != b.Bits() {
		if a.Bits() < b.Bits() {
			return -1
		}
		return 1
	}
	return 0
}

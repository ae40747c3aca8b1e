// Package state holds the data model shared by every control-plane
// component: node/area identifiers, the config tree, adjacency and
// prefix databases, KvStore values, route tables, and the single-
// threaded event loop (Scheduler) that every component schedules work on.
package state

import "net/netip"

// NodeId names a node within the fabric. Uniqueness is scoped globally,
// not per-area.
type NodeId string

// AreaId names a flooding/SPF scope. Keys in KvStore are partitioned by
// area; a node may belong to more than one area.
type AreaId string

// InterfaceName is the platform's local name for a network interface,
// e.g. "eth0".
type InterfaceName string

// Identity is a node's (node_name, area_id) pair, per spec.md §3.
type Identity struct {
	Node NodeId
	Area AreaId
}

// AddrToPrefix returns the host prefix (/32 or /128) covering addr.
func AddrToPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr, addr.BitLen())
}

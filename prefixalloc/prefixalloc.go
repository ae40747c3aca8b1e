// Package prefixalloc implements the dynamic prefix allocation service
// referenced by spec.md §4.1/§4.5: a DYNAMIC_ROOT_NODE hands out
// disjoint /allocate_prefix_len sub-blocks of its configured
// seed_prefix to DYNAMIC_LEAF_NODE peers over KvStore, the same
// channel AdjacencyDb/PrefixDb travel over. Grounded on the teacher's
// state/config.go seed-prefix carving idiom (SubtractPrefix/
// CoalescePrefix) generalized from nylon's static split-tunnel exclude
// list into an actively negotiated free-list.
package prefixalloc

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sort"

	"github.com/openr/openr-go/errs"
	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/state"
)

const allocKeyPrefix = "allocprefix:"

// AllocKey is the KvStore key a leaf node's allocated prefix (once
// granted) is published under, mirroring decision.AdjacencyKey's
// key-prefix convention.
func AllocKey(node state.NodeId) string {
	return allocKeyPrefix + string(node)
}

// Root runs on a node configured with PrefixAllocationDynamicRootNode.
// Allocate carves disjoint sub-blocks of SeedPrefix for a named
// requester and publishes the grant; Root does not itself subscribe to
// KvStore for leaf requests.
type Root struct {
	log     *slog.Logger
	metrics *metrics.Sink

	seed     netip.Prefix
	allocLen int

	allocated map[state.NodeId]netip.Prefix
	free      []netip.Prefix

	publish func(key string, value []byte)
}

func NewRoot(log *slog.Logger, sink *metrics.Sink, cfg state.PrefixAllocationConfig, publish func(key string, value []byte)) (*Root, error) {
	if cfg.Mode != state.PrefixAllocationDynamicRootNode {
		return nil, fmt.Errorf("%w: prefixalloc.NewRoot requires DYNAMIC_ROOT_NODE mode", errs.ErrInvalidConfiguration)
	}
	if cfg.SeedPrefix == nil {
		return nil, fmt.Errorf("%w: seed_prefix required", errs.ErrInvalidConfiguration)
	}
	if cfg.AllocatePrefixLen <= cfg.SeedPrefix.Bits() {
		return nil, fmt.Errorf("%w: allocate_prefix_len must exceed seed prefix length", errs.ErrOutOfRange)
	}
	return &Root{
		log:       log,
		metrics:   sink,
		seed:      *cfg.SeedPrefix,
		allocLen:  cfg.AllocatePrefixLen,
		allocated: make(map[state.NodeId]netip.Prefix),
		free:      []netip.Prefix{*cfg.SeedPrefix},
		publish:   publish,
	}, nil
}

// Allocate grants requester a sub-block, or returns its existing grant
// if one is already outstanding (idempotent under retry/replay, the
// same discipline Fib and KvStore use elsewhere).
func (r *Root) Allocate(requester state.NodeId) (netip.Prefix, error) {
	if p, ok := r.allocated[requester]; ok {
		return p, nil
	}
	block, rest, err := carveOne(r.free, r.seed.Bits(), r.allocLen)
	if err != nil {
		return netip.Prefix{}, err
	}
	r.free = rest
	r.allocated[requester] = block

	r.metrics.Counter("prefixalloc.granted").Add(1)
	if r.publish != nil {
		r.publish(AllocKey(requester), []byte(block.String()))
	}
	r.log.Info("prefixalloc: granted sub-block", "requester", requester, "prefix", block)
	return block, nil
}

// Release returns requester's block to the free list and coalesces
// adjacent siblings back into their parent where possible, keeping the
// free-list from fragmenting under allocate/release churn.
func (r *Root) Release(requester state.NodeId) {
	block, ok := r.allocated[requester]
	if !ok {
		return
	}
	delete(r.allocated, requester)
	r.free = append(r.free, block)
	if coalesced, err := state.CoalescePrefix(r.free); err == nil {
		r.free = coalesced
	}
	sortPrefixes(r.free)
	r.metrics.Counter("prefixalloc.released").Add(1)
}

// carveOne finds the first free prefix wide enough to contain an
// allocLen block, splits it via SubtractPrefix, and returns the
// carved block plus the updated free list.
func carveOne(free []netip.Prefix, seedBits, allocLen int) (netip.Prefix, []netip.Prefix, error) {
	sorted := append([]netip.Prefix(nil), free...)
	sortPrefixes(sorted)

	for _, candidate := range sorted {
		if candidate.Bits() > allocLen {
			continue
		}
		block := netip.PrefixFrom(candidate.Addr(), allocLen)
		rest, err := state.SubtractPrefix(candidate, []netip.Prefix{block})
		if err != nil {
			return netip.Prefix{}, nil, err
		}
		out := make([]netip.Prefix, 0, len(free)+len(rest))
		for _, f := range free {
			if f != candidate {
				out = append(out, f)
			}
		}
		out = append(out, rest...)
		return block, out, nil
	}
	return netip.Prefix{}, nil, fmt.Errorf("%w: seed prefix /%d exhausted for allocate_prefix_len /%d", errs.ErrOutOfRange, seedBits, allocLen)
}

func sortPrefixes(p []netip.Prefix) {
	sort.Slice(p, func(i, j int) bool {
		if p[i].Addr() != p[j].Addr() {
			return p[i].Addr().Less(p[j].Addr())
		}
		return p[i].Bits() < p[j].Bits()
	})
}

// Leaf runs on a node configured with PrefixAllocationDynamicLeafNode.
// It watches KvStore for its own AllocKey and, once present, exposes
// the granted prefix to PrefixManager as a PrefixEntry source.
type Leaf struct {
	nodeId   state.NodeId
	assigned *netip.Prefix
	onGrant  func(netip.Prefix)
}

func NewLeaf(nodeId state.NodeId, onGrant func(netip.Prefix)) *Leaf {
	return &Leaf{nodeId: nodeId, onGrant: onGrant}
}

// OnKvUpdate is wired to the same KvStore change feed decision.Component
// consumes; it recognizes only this node's own AllocKey.
func (l *Leaf) OnKvUpdate(key string, value []byte) {
	if key != AllocKey(l.nodeId) {
		return
	}
	p, err := netip.ParsePrefix(string(value))
	if err != nil {
		return
	}
	if l.assigned != nil && *l.assigned == p {
		return
	}
	l.assigned = &p
	if l.onGrant != nil {
		l.onGrant(p)
	}
}

func (l *Leaf) Assigned() (netip.Prefix, bool) {
	if l.assigned == nil {
		return netip.Prefix{}, false
	}
	return *l.assigned, true
}

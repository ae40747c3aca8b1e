package prefixalloc

import (
	"log/slog"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openr/openr-go/errs"
	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/state"
)

func newTestRoot(t *testing.T, publish func(key string, value []byte)) *Root {
	t.Helper()
	seed := netip.MustParsePrefix("10.0.0.0/24")
	cfg := state.PrefixAllocationConfig{
		Mode:              state.PrefixAllocationDynamicRootNode,
		SeedPrefix:        &seed,
		AllocatePrefixLen: 28,
	}
	r, err := NewRoot(slog.Default(), metrics.NewSink("patest"), cfg, publish)
	require.NoError(t, err)
	return r
}

func TestNewRootRejectsWrongMode(t *testing.T) {
	seed := netip.MustParsePrefix("10.0.0.0/24")
	cfg := state.PrefixAllocationConfig{Mode: state.PrefixAllocationDynamicLeafNode, SeedPrefix: &seed, AllocatePrefixLen: 28}
	_, err := NewRoot(slog.Default(), metrics.NewSink("patest2"), cfg, nil)
	require.ErrorIs(t, err, errs.ErrInvalidConfiguration)
}

func TestNewRootRejectsAllocLenNotWiderThanSeed(t *testing.T) {
	seed := netip.MustParsePrefix("10.0.0.0/24")
	cfg := state.PrefixAllocationConfig{Mode: state.PrefixAllocationDynamicRootNode, SeedPrefix: &seed, AllocatePrefixLen: 24}
	_, err := NewRoot(slog.Default(), metrics.NewSink("patest3"), cfg, nil)
	require.ErrorIs(t, err, errs.ErrOutOfRange)
}

func TestAllocateCarvesDisjointBlocks(t *testing.T) {
	r := newTestRoot(t, nil)
	a, err := r.Allocate("nodeA")
	require.NoError(t, err)
	b, err := r.Allocate("nodeB")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.Equal(t, 28, a.Bits())
	require.False(t, a.Overlaps(b))
}

func TestAllocateIsIdempotent(t *testing.T) {
	r := newTestRoot(t, nil)
	a, err := r.Allocate("nodeA")
	require.NoError(t, err)
	a2, err := r.Allocate("nodeA")
	require.NoError(t, err)
	require.Equal(t, a, a2)
}

func TestAllocatePublishesGrant(t *testing.T) {
	var gotKey string
	var gotValue string
	r := newTestRoot(t, func(key string, value []byte) {
		gotKey = key
		gotValue = string(value)
	})
	block, err := r.Allocate("nodeA")
	require.NoError(t, err)
	require.Equal(t, AllocKey("nodeA"), gotKey)
	require.Equal(t, block.String(), gotValue)
}

func TestAllocateExhaustsSeed(t *testing.T) {
	// /24 seed carved into /28 blocks yields exactly 16 blocks
	r := newTestRoot(t, nil)
	for i := 0; i < 16; i++ {
		_, err := r.Allocate(state.NodeId(string(rune('a' + i))))
		require.NoError(t, err)
	}
	_, err := r.Allocate("overflow")
	require.ErrorIs(t, err, errs.ErrOutOfRange)
}

func TestReleaseReturnsBlockToFreeList(t *testing.T) {
	r := newTestRoot(t, nil)
	a, err := r.Allocate("nodeA")
	require.NoError(t, err)
	r.Release("nodeA")

	// re-allocating a fresh requester must be able to reuse the released block
	b, err := r.Allocate("nodeB")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestReleaseCoalescesAdjacentBlocks(t *testing.T) {
	r := newTestRoot(t, nil)
	_, err := r.Allocate("nodeA")
	require.NoError(t, err)
	_, err = r.Allocate("nodeB")
	require.NoError(t, err)
	r.Release("nodeA")
	r.Release("nodeB")

	// the whole /24 should be carveable as a single unit again after both
	// sibling /28s are released and coalesced back
	seed := netip.MustParsePrefix("10.0.0.0/24")
	found := false
	for _, f := range r.free {
		if f == seed {
			found = true
		}
	}
	require.True(t, found, "adjacent released blocks should coalesce back into the seed prefix")
}

func TestLeafIgnoresOtherNodesKeys(t *testing.T) {
	var got netip.Prefix
	l := NewLeaf("leaf1", func(p netip.Prefix) { got = p })
	l.OnKvUpdate(AllocKey("someoneElse"), []byte("10.0.0.0/28"))
	_, ok := l.Assigned()
	require.False(t, ok)
	require.Zero(t, got)
}

func TestLeafAppliesOwnGrant(t *testing.T) {
	var got netip.Prefix
	l := NewLeaf("leaf1", func(p netip.Prefix) { got = p })
	l.OnKvUpdate(AllocKey("leaf1"), []byte("10.0.0.16/28"))

	p, ok := l.Assigned()
	require.True(t, ok)
	require.Equal(t, "10.0.0.16/28", p.String())
	require.Equal(t, p, got)
}

func TestLeafIgnoresUnchangedValue(t *testing.T) {
	calls := 0
	l := NewLeaf("leaf1", func(p netip.Prefix) { calls++ })
	l.OnKvUpdate(AllocKey("leaf1"), []byte("10.0.0.16/28"))
	l.OnKvUpdate(AllocKey("leaf1"), []byte("10.0.0.16/28"))
	require.Equal(t, 1, calls)
}

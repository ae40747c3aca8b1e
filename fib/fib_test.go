package fib

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/platform"
	"github.com/openr/openr-go/state"
	"log/slog"
)

func newTestComponent(t *testing.T, deleteDelay time.Duration) (*Component, *platform.MockAgent, *clock.Mock, *state.Scheduler) {
	t.Helper()
	clk := clock.NewMock()
	sched := state.NewScheduler(context.Background(), slog.Default(), clk)
	t.Cleanup(sched.Stop)
	agent := platform.NewMockAgent()
	c := NewComponent(sched, slog.Default(), metrics.NewSink("test"), agent, deleteDelay, false)
	return c, agent, clk, sched
}

func unicastRoute(prefix, hop string) state.UnicastRoute {
	return state.UnicastRoute{
		Prefix: netip.MustParsePrefix(prefix),
		NextHops: []state.NextHop{
			{Address: netip.MustParseAddr(hop), Weight: 1},
		},
	}
}

func TestAddsNewRouteImmediately(t *testing.T) {
	c, agent, _, sched := newTestComponent(t, time.Second)
	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.1")},
	})
	_, _ = sched.DispatchWait(func() (any, error) { return nil, nil }) // barrier

	require.Contains(t, agent.Unicast, "10.0.0.0/24")
}

func TestDeleteIsDelayedAndSupersedable(t *testing.T) {
	c, agent, clk, sched := newTestComponent(t, 2*time.Second)
	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.1")},
	})
	sched.DispatchWait(func() (any, error) { return nil, nil })
	require.Contains(t, agent.Unicast, "10.0.0.0/24")

	// withdraw the route: it must not disappear immediately
	c.SetDesired(state.RouteDb{})
	sched.DispatchWait(func() (any, error) { return nil, nil })
	require.Contains(t, agent.Unicast, "10.0.0.0/24", "delete must be delayed")

	// re-add before the delay elapses: the pending delete must be superseded
	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.1")},
	})
	sched.DispatchWait(func() (any, error) { return nil, nil })

	clk.Add(2 * time.Second)
	sched.DispatchWait(func() (any, error) { return nil, nil })
	require.Contains(t, agent.Unicast, "10.0.0.0/24", "re-added route must survive the original delete's fire time")
}

func TestDeleteFiresAfterDelayWhenNotSuperseded(t *testing.T) {
	c, agent, clk, sched := newTestComponent(t, 2*time.Second)
	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.1")},
	})
	sched.DispatchWait(func() (any, error) { return nil, nil })

	c.SetDesired(state.RouteDb{})
	sched.DispatchWait(func() (any, error) { return nil, nil })

	clk.Add(2 * time.Second)
	sched.DispatchWait(func() (any, error) { return nil, nil })
	require.NotContains(t, agent.Unicast, "10.0.0.0/24")
}

func TestModifyReplacesNextHops(t *testing.T) {
	c, agent, _, sched := newTestComponent(t, time.Second)
	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.1")},
	})
	sched.DispatchWait(func() (any, error) { return nil, nil })

	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.2")},
	})
	sched.DispatchWait(func() (any, error) { return nil, nil })

	require.Equal(t, "192.168.1.2", agent.Unicast["10.0.0.0/24"].NextHops[0].Address.String())
}

func TestResyncIsIdempotent(t *testing.T) {
	c, agent, _, sched := newTestComponent(t, time.Second)
	rdb := state.RouteDb{UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.1")}}
	c.SetDesired(rdb)
	sched.DispatchWait(func() (any, error) { return nil, nil })

	c.Resync()
	sched.DispatchWait(func() (any, error) { return nil, nil })
	c.Resync()
	sched.DispatchWait(func() (any, error) { return nil, nil })

	require.Len(t, agent.Unicast, 1)
}

func TestPlatformErrorRetriesWithBackoff(t *testing.T) {
	c, agent, clk, sched := newTestComponent(t, time.Second)
	agent.FailNext = errors.New("boom")

	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.1")},
	})
	sched.DispatchWait(func() (any, error) { return nil, nil })
	require.NotContains(t, agent.Unicast, "10.0.0.0/24", "first attempt should have failed")

	clk.Add(initialRetryBackoff)
	sched.DispatchWait(func() (any, error) { return nil, nil })
	require.Contains(t, agent.Unicast, "10.0.0.0/24", "retry should have applied the route")
}

func TestDesiredReturnsClone(t *testing.T) {
	c, _, _, sched := newTestComponent(t, time.Second)
	rdb := state.RouteDb{UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.1")}}
	c.SetDesired(rdb)
	sched.DispatchWait(func() (any, error) { return nil, nil })

	got := c.Desired()
	got.UnicastRoutes[0].Prefix = netip.MustParsePrefix("10.0.0.0/16")

	require.Equal(t, "10.0.0.0/24", c.Desired().UnicastRoutes[0].Prefix.String(), "mutating the returned RouteDb must not affect internal state")
}

func TestLookupResolvesLongestMatch(t *testing.T) {
	c, _, _, sched := newTestComponent(t, time.Second)
	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{
			unicastRoute("10.0.0.0/16", "192.168.1.1"),
			unicastRoute("10.0.5.0/24", "192.168.1.2"),
		},
	})
	sched.DispatchWait(func() (any, error) { return nil, nil })

	r, ok := c.Lookup(netip.MustParseAddr("10.0.5.7"))
	require.True(t, ok)
	require.Equal(t, "10.0.5.0/24", r.Prefix.String(), "lookup must prefer the more specific route")

	r, ok = c.Lookup(netip.MustParseAddr("10.0.9.1"))
	require.True(t, ok)
	require.Equal(t, "10.0.0.0/16", r.Prefix.String())

	_, ok = c.Lookup(netip.MustParseAddr("192.168.0.1"))
	require.False(t, ok, "no covering route should report no match")
}

// TestReconcileInstallsExactPrefixSet compares the installed prefix set
// against the desired one order-independently, grounded on the
// teacher's core/router_harness.go event-arg comparison, which uses
// cmp.Equal with cmpopts.EquateComparable(netip.Prefix{}) to compare
// netip values by their own equality rather than by reflected struct
// fields.
func TestReconcileInstallsExactPrefixSet(t *testing.T) {
	c, agent, _, sched := newTestComponent(t, time.Second)
	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{
			unicastRoute("10.0.2.0/24", "192.168.1.1"),
			unicastRoute("10.0.1.0/24", "192.168.1.1"),
			unicastRoute("10.0.3.0/24", "192.168.1.1"),
		},
	})
	sched.DispatchWait(func() (any, error) { return nil, nil })

	want := []netip.Prefix{
		netip.MustParsePrefix("10.0.1.0/24"),
		netip.MustParsePrefix("10.0.2.0/24"),
		netip.MustParsePrefix("10.0.3.0/24"),
	}
	var got []netip.Prefix
	for _, r := range agent.Unicast {
		got = append(got, r.Prefix)
	}

	if diff := cmp.Diff(want, got,
		cmpopts.EquateComparable(netip.Prefix{}),
		cmpopts.SortSlices(func(a, b netip.Prefix) bool { return a.String() < b.String() }),
	); diff != "" {
		t.Errorf("installed prefix set mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupReflectsWithdrawnRoutes(t *testing.T) {
	c, _, _, sched := newTestComponent(t, time.Second)
	c.SetDesired(state.RouteDb{
		UnicastRoutes: []state.UnicastRoute{unicastRoute("10.0.0.0/24", "192.168.1.1")},
	})
	sched.DispatchWait(func() (any, error) { return nil, nil })

	c.SetDesired(state.RouteDb{})
	sched.DispatchWait(func() (any, error) { return nil, nil })

	_, ok := c.Lookup(netip.MustParseAddr("10.0.0.1"))
	require.False(t, ok, "lpm index tracks desired state, so a withdrawn route must stop matching immediately even though the platform delete is delayed")
}

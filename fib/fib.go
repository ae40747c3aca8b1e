// Package fib reconciles Decision's desired RouteDb against what the
// platform agent believes is installed, spec.md §4.7. Grounded on the
// teacher's core/router.go apply-loop idiom (single event loop reacting
// to a channel of route updates) generalized from nylon's flat
// next-hop-per-destination table to Open/R's add/delete/modify delta
// against a pluggable platform.Agent.
package fib

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/gaissmai/bart"

	"github.com/openr/openr-go/errs"
	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/platform"
	"github.com/openr/openr-go/state"
)

const (
	initialRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
)

// Component owns the desired/installed RouteDb reconciliation loop.
type Component struct {
	sched   *state.Scheduler
	log     *slog.Logger
	metrics *metrics.Sink
	agent   platform.Agent

	deleteDelay time.Duration
	gracefulOnShutdown bool

	desired   state.RouteDb
	installed state.RouteDb

	// lpm indexes the desired unicast RouteDb for longest-prefix-match
	// lookup, mirroring the teacher's core/router.go ForwardTable: there
	// it backs live packet forwarding, here it backs the read-only
	// route-lookup debug surface since this rewrite never forwards
	// packets itself.
	lpm bart.Table[state.UnicastRoute]

	pendingUnicastDeletes map[string]int // prefix string -> generation at schedule time
	pendingMplsDeletes    map[uint32]int
	generation            int

	retryBackoff time.Duration
}

func NewComponent(sched *state.Scheduler, log *slog.Logger, sink *metrics.Sink, agent platform.Agent, deleteDelay time.Duration, gracefulOnShutdown bool) *Component {
	return &Component{
		sched:                 sched,
		log:                   log,
		metrics:               sink,
		agent:                 agent,
		deleteDelay:           deleteDelay,
		gracefulOnShutdown:    gracefulOnShutdown,
		pendingUnicastDeletes: make(map[string]int),
		pendingMplsDeletes:    make(map[uint32]int),
		retryBackoff:          initialRetryBackoff,
	}
}

// SetDesired is wired to decision.Component's publish callback.
func (c *Component) SetDesired(routes state.RouteDb) {
	c.sched.Dispatch(func() {
		c.desired = routes.Clone()
		c.reconcile()
	})
}

// Resync forces a full platform sync, spec.md §4.7 ("On platform
// restart or divergence detection, perform a full resync").
func (c *Component) Resync() {
	c.sched.Dispatch(func() {
		c.fullResync()
	})
}

// Desired returns the current desired RouteDb, for read-only
// operational dump surfaces.
func (c *Component) Desired() state.RouteDb {
	v, _ := c.sched.DispatchWait(func() (any, error) {
		return c.desired.Clone(), nil
	})
	rdb, _ := v.(state.RouteDb)
	return rdb
}

// reconcile computes the add/delete/modify delta between desired and
// installed and drives the platform agent. Deletions are delayed by
// deleteDelay to absorb transient withdrawals (spec.md §4.7); adds and
// modifies apply immediately since the desired RouteDb is always the
// source of truth for idempotent replay.
func (c *Component) reconcile() {
	c.generation++
	gen := c.generation

	desiredUnicast := indexUnicast(c.desired.UnicastRoutes)
	installedUnicast := indexUnicast(c.installed.UnicastRoutes)

	var toAdd []state.UnicastRoute
	for key, r := range desiredUnicast {
		delete(c.pendingUnicastDeletes, key)
		if old, ok := installedUnicast[key]; !ok || !sameUnicastRoute(old, r) {
			toAdd = append(toAdd, r)
		}
	}
	for key, r := range installedUnicast {
		if _, ok := desiredUnicast[key]; !ok {
			c.scheduleUnicastDelete(r.Prefix, gen)
		}
	}

	desiredMpls := indexMpls(c.desired.MplsRoutes)
	installedMpls := indexMpls(c.installed.MplsRoutes)

	var mplsAdd []state.MplsRoute
	for label, r := range desiredMpls {
		delete(c.pendingMplsDeletes, label)
		if old, ok := installedMpls[label]; !ok || !sameMplsRoute(old, r) {
			mplsAdd = append(mplsAdd, r)
		}
	}
	for label, r := range installedMpls {
		if _, ok := desiredMpls[label]; !ok {
			c.scheduleMplsDelete(r.Label, gen)
		}
	}

	if len(toAdd) > 0 {
		c.apply(func(ctx context.Context) error { return c.agent.AddUnicastRoutes(ctx, toAdd) })
	}
	if len(mplsAdd) > 0 {
		c.apply(func(ctx context.Context) error { return c.agent.AddMplsRoutes(ctx, mplsAdd) })
	}

	c.installed = c.desired.Clone()
	c.rebuildLpm()
}

// rebuildLpm rebuilds the longest-prefix-match index from the current
// desired unicast RouteDb.
func (c *Component) rebuildLpm() {
	c.lpm = bart.Table[state.UnicastRoute]{}
	for _, r := range c.desired.UnicastRoutes {
		c.lpm.Insert(r.Prefix, r)
	}
}

// Lookup performs a longest-prefix-match against the desired unicast
// RouteDb, for operational tooling that wants to answer "what would
// this node do with a packet to address X" without touching the
// platform agent.
func (c *Component) Lookup(addr netip.Addr) (state.UnicastRoute, bool) {
	v, _ := c.sched.DispatchWait(func() (any, error) {
		r, ok := c.lpm.Lookup(addr)
		return lookupResult{r, ok}, nil
	})
	res, _ := v.(lookupResult)
	return res.route, res.ok
}

type lookupResult struct {
	route state.UnicastRoute
	ok    bool
}

func (c *Component) scheduleUnicastDelete(prefix netip.Prefix, gen int) {
	key := prefix.String()
	c.pendingUnicastDeletes[key] = gen
	c.sched.ScheduleTask(func() {
		if c.pendingUnicastDeletes[key] != gen {
			return // superseded: prefix was re-added before the delay elapsed
		}
		delete(c.pendingUnicastDeletes, key)
		c.apply(func(ctx context.Context) error {
			return c.agent.DeleteUnicastRoutes(ctx, []netip.Prefix{prefix})
		})
	}, c.deleteDelay)
}

func (c *Component) scheduleMplsDelete(label uint32, gen int) {
	c.pendingMplsDeletes[label] = gen
	c.sched.ScheduleTask(func() {
		if c.pendingMplsDeletes[label] != gen {
			return
		}
		delete(c.pendingMplsDeletes, label)
		c.apply(func(ctx context.Context) error {
			return c.agent.DeleteMplsRoutes(ctx, []uint32{label})
		})
	}, c.deleteDelay)
}

// fullResync replaces the platform's entire route table with the
// current desired RouteDb, spec.md §4.7's divergence-recovery path.
func (c *Component) fullResync() {
	c.apply(func(ctx context.Context) error {
		if err := c.agent.SyncUnicastRoutes(ctx, c.desired.UnicastRoutes); err != nil {
			return err
		}
		return c.agent.SyncMplsRoutes(ctx, c.desired.MplsRoutes)
	})
	c.installed = c.desired.Clone()
	c.rebuildLpm()
}

// apply invokes op, retrying with exponential backoff on transient
// platform-agent errors, spec.md §4.7 and §7 ("Platform agent errors:
// retry with backoff; if persistent, Fib holds desired state and emits
// alarms via the watchdog path").
func (c *Component) apply(op func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(c.sched.Ctx, 5*time.Second)
	err := op(ctx)
	cancel()
	if err == nil {
		c.retryBackoff = initialRetryBackoff
		return
	}
	c.log.Warn("fib: platform agent error, retrying", "err", err, "backoff", c.retryBackoff)
	c.metrics.Counter("fib.platform_errors").Add(1)
	backoff := c.retryBackoff
	c.retryBackoff *= 2
	if c.retryBackoff > maxRetryBackoff {
		c.retryBackoff = maxRetryBackoff
	}
	c.sched.ScheduleTask(func() {
		c.apply(op)
	}, backoff)
}

// Shutdown is called on orderly node shutdown. When gracefulOnShutdown
// is set (Spark GR enabled), it leaves whatever is currently installed
// programmed rather than tearing it down, spec.md §4.7.
func (c *Component) Shutdown(ctx context.Context) error {
	if c.gracefulOnShutdown {
		return nil
	}
	if err := c.agent.SyncUnicastRoutes(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrPlatformAgent, err)
	}
	return c.agent.SyncMplsRoutes(ctx, nil)
}

func indexUnicast(routes []state.UnicastRoute) map[string]state.UnicastRoute {
	m := make(map[string]state.UnicastRoute, len(routes))
	for _, r := range routes {
		m[r.Prefix.String()] = r
	}
	return m
}

func indexMpls(routes []state.MplsRoute) map[uint32]state.MplsRoute {
	m := make(map[uint32]state.MplsRoute, len(routes))
	for _, r := range routes {
		m[r.Label] = r
	}
	return m
}

func sameUnicastRoute(a, b state.UnicastRoute) bool {
	if len(a.NextHops) != len(b.NextHops) {
		return false
	}
	for i := range a.NextHops {
		if !sameNextHop(a.NextHops[i], b.NextHops[i]) {
			return false
		}
	}
	return true
}

func sameMplsRoute(a, b state.MplsRoute) bool {
	if len(a.NextHops) != len(b.NextHops) {
		return false
	}
	for i := range a.NextHops {
		if !sameNextHop(a.NextHops[i], b.NextHops[i]) {
			return false
		}
	}
	return true
}

// sameNextHop compares by value except PushLabels, a slice field that
// makes NextHop non-comparable with ==.
func sameNextHop(a, b state.NextHop) bool {
	if a.Address != b.Address || a.Iface != b.Iface || a.Weight != b.Weight ||
		a.Metric != b.Metric || a.Area != b.Area || a.NeighborNode != b.NeighborNode ||
		a.Action != b.Action || a.SwapLabel != b.SwapLabel {
		return false
	}
	if len(a.PushLabels) != len(b.PushLabels) {
		return false
	}
	for i := range a.PushLabels {
		if a.PushLabels[i] != b.PushLabels[i] {
			return false
		}
	}
	return true
}

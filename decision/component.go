package decision

import (
	"log/slog"
	"time"

	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/state"
)

// Component owns the debounced recompute loop that turns KvStore
// change notifications into a fresh RouteDb, spec.md §4.6
// ("Recomputation is triggered by any input change, batched by a short
// debouncing window") and spec.md §5 ("Long computations run on a
// dedicated worker; cancellation is achieved by superseding inputs").
type Component struct {
	sched   *state.Scheduler
	log     *slog.Logger
	metrics *metrics.Sink

	local  state.NodeId
	debounce time.Duration

	adjacencies map[state.AreaId]map[state.NodeId]state.AdjacencyDb
	prefixes    map[state.AreaId]map[state.NodeId]state.PrefixDb

	pending    map[state.AreaId]bool
	generation uint64

	publish func(state.RouteDb)
}

func NewComponent(sched *state.Scheduler, log *slog.Logger, sink *metrics.Sink, local state.NodeId, debounce time.Duration, publish func(state.RouteDb)) *Component {
	return &Component{
		sched:       sched,
		log:         log,
		metrics:     sink,
		local:       local,
		debounce:    debounce,
		adjacencies: make(map[state.AreaId]map[state.NodeId]state.AdjacencyDb),
		prefixes:    make(map[state.AreaId]map[state.NodeId]state.PrefixDb),
		pending:     make(map[state.AreaId]bool),
		publish:     publish,
	}
}

// OnKvUpdate is wired to kvstore.Store's onUpdate callback; it decodes
// AdjacencyDb/PrefixDb values by key prefix convention (see
// keys.go) and schedules a debounced recompute.
func (c *Component) OnKvUpdate(area state.AreaId, v state.KvValue) {
	c.sched.Dispatch(func() {
		if adj, ok := DecodeAdjacencyDb(v); ok {
			table, ok := c.adjacencies[area]
			if !ok {
				table = make(map[state.NodeId]state.AdjacencyDb)
				c.adjacencies[area] = table
			}
			table[adj.NodeId] = adj
		} else if pfx, ok := DecodePrefixDb(v); ok {
			table, ok := c.prefixes[area]
			if !ok {
				table = make(map[state.NodeId]state.PrefixDb)
				c.prefixes[area] = table
			}
			table[pfx.NodeId] = pfx
		} else {
			return
		}
		c.scheduleRecompute(area)
	})
}

// scheduleRecompute debounces per area, spec.md §3 ("a node can belong
// to more than one area"): an in-flight debounce for area A must never
// suppress or swallow a concurrent update for area B.
func (c *Component) scheduleRecompute(area state.AreaId) {
	if c.pending[area] {
		return
	}
	c.pending[area] = true
	c.sched.ScheduleTask(func() {
		c.pending[area] = false
		c.recompute(area)
	}, c.debounce)
}

// recompute runs on the scheduler goroutine; a newer scheduleRecompute
// call that lands before this fires simply reuses the same pending
// flag, so bursts of updates collapse to one computation, matching
// spec.md §5's supersession-based cancellation.
func (c *Component) recompute(area state.AreaId) {
	c.generation++
	gen := c.generation

	snap := TopologySnapshot{
		Area:         area,
		AdjacencyDbs: c.adjacencies[area],
		PrefixDbs:    c.prefixes[area],
	}
	routes := Compute(c.local, snap)

	if gen != c.generation {
		return // superseded while computing
	}
	if c.publish != nil {
		c.publish(routes)
	}
}

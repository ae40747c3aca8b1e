// Package linkmonitor bridges platform link/address events and Spark
// neighbor events into a published AdjacencyDb, spec.md §4.4. It is
// grounded on the teacher's LinkMgr (impl/link_manager.go): a single
// component owning an InterfaceDb-equivalent table, driven by
// RepeatTask polling plus event channels, that reacts to connectivity
// changes by (re)computing what to advertise.
package linkmonitor

import (
	"log/slog"
	"time"

	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/platform"
	"github.com/openr/openr-go/spark"
	"github.com/openr/openr-go/state"
)

// InterfaceInfo is this component's view of one local interface,
// spec.md §4.4's InterfaceDb.
type InterfaceInfo struct {
	Name      state.InterfaceName
	Index     int
	Up        bool
	Addresses []platform.IpAddress
}

// flapState tracks per-interface exponential backoff, spec.md §4.4.
type flapState struct {
	backoff    time.Duration
	pendingAt  time.Time
	stableSince time.Time
}

// Component owns InterfaceDb, drives Spark sessions, and publishes
// AdjacencyDb snapshots into KvStore.
type Component struct {
	sched   *state.Scheduler
	log     *slog.Logger
	metrics *metrics.Sink

	nodeId state.NodeId
	areas  []*state.AreaConfig
	cfg    state.LinkMonitorConfig

	spark    *spark.Component
	platform platform.Agent

	publish func(area state.AreaId, db state.AdjacencyDb)

	interfaces map[state.InterfaceName]*InterfaceInfo
	flap       map[state.InterfaceName]*flapState
	adjacencies map[state.AreaId]map[state.NodeId]state.Adjacency
	version     map[state.AreaId]uint64
	nodeLabel   uint32
	overloaded  bool

	cachedSparkCfg state.SparkConfig
}

// NewComponent wires a LinkMonitor. publish is called on the
// scheduler's goroutine whenever a per-area AdjacencyDb changes;
// wiring it into a kvstore.Store.Set closes the LinkMonitor -> KvStore
// edge of spec.md §2's data flow diagram.
func NewComponent(sched *state.Scheduler, log *slog.Logger, sink *metrics.Sink, nodeId state.NodeId, areas []*state.AreaConfig, cfg state.LinkMonitorConfig, sparkComp *spark.Component, agent platform.Agent, publish func(state.AreaId, state.AdjacencyDb)) *Component {
	return &Component{
		sched:       sched,
		log:         log,
		metrics:     sink,
		nodeId:      nodeId,
		areas:       areas,
		cfg:         cfg,
		spark:       sparkComp,
		platform:    agent,
		publish:     publish,
		interfaces:  make(map[state.InterfaceName]*InterfaceInfo),
		flap:        make(map[state.InterfaceName]*flapState),
		adjacencies: make(map[state.AreaId]map[state.NodeId]state.Adjacency),
		version:     make(map[state.AreaId]uint64),
	}
}

// areasForInterface returns every configured area whose include/exclude
// regexes select iface, spec.md §4.4.
func (c *Component) areasForInterface(iface state.InterfaceName) []*state.AreaConfig {
	var out []*state.AreaConfig
	for _, a := range c.areas {
		if a.MatchesInterface(string(iface)) {
			out = append(out, a)
		}
	}
	return out
}

// OnInterfaceEvent handles a platform interface up/down notification,
// applying flap dampening before acting on it.
func (c *Component) OnInterfaceEvent(ev platform.InterfaceEvent) {
	c.sched.Dispatch(func() {
		info, ok := c.interfaces[ev.Name]
		if !ok {
			info = &InterfaceInfo{Name: ev.Name}
			c.interfaces[ev.Name] = info
		}
		wasUp := info.Up
		info.Up = ev.Up
		info.Index = ev.Index

		if wasUp == ev.Up {
			return
		}

		fs, ok := c.flap[ev.Name]
		if !ok {
			fs = &flapState{backoff: time.Duration(c.cfg.LinkflapInitialBackoffMs) * time.Millisecond}
			c.flap[ev.Name] = fs
		}

		now := c.sched.Clock.Now()
		maxBackoff := time.Duration(c.cfg.LinkflapMaxBackoffMs) * time.Millisecond
		if !fs.stableSince.IsZero() && now.Sub(fs.stableSince) > maxBackoff {
			fs.backoff = time.Duration(c.cfg.LinkflapInitialBackoffMs) * time.Millisecond
		} else if !fs.pendingAt.IsZero() {
			fs.backoff *= 2
			if fs.backoff > maxBackoff {
				fs.backoff = maxBackoff
			}
		}
		fs.pendingAt = now
		fs.stableSince = time.Time{}

		matchedAreas := c.areasForInterface(ev.Name)
		if ev.Up && len(matchedAreas) > 0 {
			c.spark.JoinInterface(ev.Name)
		} else if !ev.Up {
			c.spark.LeaveInterface(ev.Name)
		}
		for _, area := range matchedAreas {
			if ev.Up {
				c.spark.InterfaceUp(state.AreaId(area.AreaId), ev.Name, c.sparkCfg(), c.log)
			} else {
				c.spark.InterfaceDown(state.AreaId(area.AreaId), ev.Name)
			}
		}

		delay := fs.backoff
		c.sched.ScheduleTask(func() {
			fs.stableSince = c.sched.Clock.Now()
			c.publishAllAreas()
		}, delay)
	})
}

func (c *Component) sparkCfg() state.SparkConfig { return c.cachedSparkCfg }

// SetSparkConfig is called once at construction from the node's
// immutable Config, spec.md §5 ("Config is immutable after start").
func (c *Component) SetSparkConfig(cfg state.SparkConfig) { c.cachedSparkCfg = cfg }

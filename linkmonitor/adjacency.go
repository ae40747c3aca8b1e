package linkmonitor

import (
	"net/netip"

	"github.com/openr/openr-go/platform"
	"github.com/openr/openr-go/spark"
	"github.com/openr/openr-go/state"
)

// ConsumeSparkEvents drains the Spark component's outbound event
// channel for the lifetime of the scheduler; call once from core's
// wiring in a dedicated goroutine, spec.md §9 ("cycles (LinkMonitor <->
// Spark) are implemented as two one-way channels").
func (c *Component) ConsumeSparkEvents(events <-chan spark.Event) {
	for ev := range events {
		ev := ev
		c.sched.Dispatch(func() { c.onSparkEvent(ev) })
	}
}

func (c *Component) onSparkEvent(ev spark.Event) {
	table, ok := c.adjacencies[ev.Area]
	if !ok {
		table = make(map[state.NodeId]state.Adjacency)
		c.adjacencies[ev.Area] = table
	}

	switch ev.Kind {
	case spark.EventUp:
		info := c.interfaces[ev.Iface]
		adj := state.Adjacency{
			RemoteNode:  ev.NeighborName,
			LocalIface:  ev.Iface,
			RemoteIface: ev.Iface,
			Metric:      c.staticMetric(ev.Iface),
			Timestamp:   c.sched.Clock.Now().UnixNano(),
		}
		if info != nil {
			adj.V4NextHop, adj.V6NextHop = c.nexthopsFor(info)
		}
		table[ev.NeighborName] = adj
		c.log.Info("adjacency up", "area", ev.Area, "iface", ev.Iface, "neighbor", ev.NeighborName)
	case spark.EventDown:
		delete(table, ev.NeighborName)
		c.log.Info("adjacency down", "area", ev.Area, "iface", ev.Iface, "neighbor", ev.NeighborName)
	case spark.EventRttChange:
		if adj, ok := table[ev.NeighborName]; ok {
			adj.Metric = c.staticMetric(ev.Iface) + ev.Metric
			table[ev.NeighborName] = adj
		}
	case spark.EventGrStart:
		if adj, ok := table[ev.NeighborName]; ok {
			adj.IsOverloaded = false // GR keeps the adjacency programmed, spec.md §4.7 S5
			table[ev.NeighborName] = adj
		}
	case spark.EventGrEnd:
		// nothing structural changes; presence in table already implies liveness.
	}

	c.publishArea(ev.Area)
}

func (c *Component) staticMetric(_ state.InterfaceName) uint32 {
	return 1
}

func (c *Component) nexthopsFor(info *InterfaceInfo) (v4, v6 netip.Addr) {
	for _, addr := range info.Addresses {
		if addr.Address.Is4() {
			v4 = addr.Address
		} else if addr.Address.Is6() {
			v6 = addr.Address
		}
	}
	return
}

// OnAddressEvent updates InterfaceDb addresses, spec.md §4.4.
func (c *Component) OnAddressEvent(ev platform.AddressEvent) {
	c.sched.Dispatch(func() {
		info, ok := c.interfaces[ev.Iface]
		if !ok {
			info = &InterfaceInfo{Name: ev.Iface}
			c.interfaces[ev.Iface] = info
		}
		if ev.Added {
			info.Addresses = append(info.Addresses, platform.IpAddress{Address: ev.Address, PrefixLen: ev.PrefixLen})
		} else {
			out := info.Addresses[:0]
			for _, a := range info.Addresses {
				if a.Address != ev.Address {
					out = append(out, a)
				}
			}
			info.Addresses = out
		}
	})
}

// publishArea rebuilds and publishes the AdjacencyDb for one area,
// bumping version, spec.md §3 ("version strictly increases on any
// observable change").
func (c *Component) publishArea(area state.AreaId) {
	table := c.adjacencies[area]
	adjs := make([]state.Adjacency, 0, len(table))
	for _, a := range table {
		adjs = append(adjs, a)
	}
	c.version[area]++
	db := state.AdjacencyDb{
		NodeId:       c.nodeId,
		Area:         area,
		NodeLabel:    c.nodeLabel,
		IsOverloaded: c.overloaded,
		Version:      c.version[area],
		Adjacencies:  adjs,
	}
	if c.publish != nil {
		c.publish(area, db)
	}
}

func (c *Component) publishAllAreas() {
	for _, area := range c.areas {
		c.publishArea(state.AreaId(area.AreaId))
	}
}

// SetOverloaded toggles this node's transit-avoidance flag, spec.md
// §4.6's "overloaded node" concept, republishing every area.
func (c *Component) SetOverloaded(overloaded bool) {
	c.sched.Dispatch(func() {
		if c.overloaded == overloaded {
			return
		}
		c.overloaded = overloaded
		c.publishAllAreas()
	})
}

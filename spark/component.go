package spark

import (
	"log/slog"
	"time"

	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/protocol"
	"github.com/openr/openr-go/state"
)

// AreaMatcher answers the two questions the FSM needs to gate WARM ->
// NEGOTIATE and to decide interface participation, without spark
// depending on the linkmonitor package directly (spec.md §9's DAG-of-
// queues: Spark and LinkMonitor talk only via one-way channels).
type AreaMatcher interface {
	MatchesNeighbor(area state.AreaId, peerName string) bool
}

// Component owns every (area, iface) Session on this node and is
// itself driven by a single-threaded scheduler, spec.md §5. It is
// grounded on the teacher's LinkMgr (impl/link_manager.go): one struct
// holding all active sessions, initialized on the node's Env and
// driven by RepeatTask-scheduled ticks plus a Dispatch-delivered
// inbound-packet channel.
type Component struct {
	sched   *state.Scheduler
	metrics *metrics.Sink
	area    AreaMatcher
	nodeName state.NodeId
	restartCounter uint32

	sessions map[state.Pair[state.AreaId, state.InterfaceName]]*Session
	events   chan Event

	transport OutboundTransport
}

func NewComponent(sched *state.Scheduler, sink *metrics.Sink, nodeName state.NodeId, area AreaMatcher, restartCounter uint32) *Component {
	c := &Component{
		sched:          sched,
		metrics:        sink,
		area:           area,
		nodeName:       nodeName,
		restartCounter: restartCounter,
		sessions:       make(map[state.Pair[state.AreaId, state.InterfaceName]]*Session),
		events:         make(chan Event, 256),
	}
	return c
}

// Events returns the outbound neighbor-event stream LinkMonitor
// consumes, spec.md §4.2 ("Emits neighbor events ... on an outbound
// queue").
func (c *Component) Events() <-chan Event { return c.events }

func (c *Component) key(area state.AreaId, iface state.InterfaceName) state.Pair[state.AreaId, state.InterfaceName] {
	return state.Pair[state.AreaId, state.InterfaceName]{V1: area, V2: iface}
}

// EnsureSession returns the session for (area, iface), creating an
// IDLE one on first reference.
func (c *Component) EnsureSession(area state.AreaId, iface state.InterfaceName, cfg state.SparkConfig, log *slog.Logger) *Session {
	k := c.key(area, iface)
	if s, ok := c.sessions[k]; ok {
		return s
	}
	s := NewSession(area, iface, cfg, c.sched.Clock, log, c.events)
	c.sessions[k] = s
	return s
}

// InterfaceUp/InterfaceDown/handshake/hello/heartbeat delivery all run
// on the scheduler's single goroutine via Dispatch, so sessions never
// need their own locks, spec.md §5.

func (c *Component) InterfaceUp(area state.AreaId, iface state.InterfaceName, cfg state.SparkConfig, log *slog.Logger) {
	c.sched.Dispatch(func() {
		c.EnsureSession(area, iface, cfg, log).InterfaceUp()
	})
}

func (c *Component) InterfaceDown(area state.AreaId, iface state.InterfaceName) {
	c.sched.Dispatch(func() {
		if s, ok := c.sessions[c.key(area, iface)]; ok {
			s.InterfaceDown()
		}
	})
}

func (c *Component) ReceiveHello(area state.AreaId, iface state.InterfaceName, cfg state.SparkConfig, log *slog.Logger, h *protocol.Hello) {
	c.sched.Dispatch(func() {
		s := c.EnsureSession(area, iface, cfg, log)
		s.ReceiveHello(h, func(peer string) bool { return c.area.MatchesNeighbor(area, peer) })
	})
}

func (c *Component) ReceiveHandshake(area state.AreaId, iface state.InterfaceName, hs *protocol.Handshake) {
	c.sched.Dispatch(func() {
		if s, ok := c.sessions[c.key(area, iface)]; ok {
			s.ReceiveHandshake(hs)
		}
	})
}

func (c *Component) ReceiveHeartbeat(area state.AreaId, iface state.InterfaceName, hb *protocol.Heartbeat) {
	c.sched.Dispatch(func() {
		if s, ok := c.sessions[c.key(area, iface)]; ok {
			s.ReceiveHeartbeat(hb)
		}
	})
}

// tickHoldTimers is scheduled via RepeatTask at a sub-second interval
// so hold and GR deadlines are checked promptly across every session,
// spec.md §4.2.
func (c *Component) tickHoldTimers() {
	for _, s := range c.sessions {
		s.CheckHoldTimer()
	}
}

// StartHoldTimerLoop wires tickHoldTimers into the scheduler; called
// once during component construction by core's wiring.
func (c *Component) StartHoldTimerLoop(interval time.Duration) {
	c.sched.RepeatTask(c.tickHoldTimers, interval)
}

package spark

import (
	"log/slog"
	"time"

	"github.com/openr/openr-go/protocol"
	"github.com/openr/openr-go/state"
)

// OutboundTransport is the boundary Spark uses to put wire bytes on an
// interface and to manage which interfaces are joined. UdpTransport is
// the production implementation; tests can substitute a fake, matching
// how kvstore.Store is driven behind its own Transport interface.
type OutboundTransport interface {
	JoinInterface(iface state.InterfaceName) error
	LeaveInterface(iface state.InterfaceName)
	SendHello(iface state.InterfaceName, h *protocol.Hello) error
	SendHandshake(iface state.InterfaceName, hs *protocol.Handshake) error
	SendHeartbeat(iface state.InterfaceName, hb *protocol.Heartbeat) error
}

// SetTransport wires the outbound transport used by the send loop.
// Called once during node construction, before StartSendLoop.
func (c *Component) SetTransport(t OutboundTransport) { c.transport = t }

// JoinInterface/LeaveInterface delegate into the configured transport
// so LinkMonitor can drive multicast group membership the same way it
// already drives FSM interface-up/down, without depending on the
// transport's concrete type.
func (c *Component) JoinInterface(iface state.InterfaceName) {
	if c.transport == nil {
		return
	}
	if err := c.transport.JoinInterface(iface); err != nil {
		slog.Default().Warn("spark transport join failed", "iface", iface, "err", err)
	}
}

func (c *Component) LeaveInterface(iface state.InterfaceName) {
	if c.transport == nil {
		return
	}
	c.transport.LeaveInterface(iface)
}

// StartSendLoop schedules the periodic outbound tick that drives hello,
// handshake, and heartbeat cadence for every session, spec.md §4.2.
func (c *Component) StartSendLoop(interval time.Duration) {
	c.sched.RepeatTask(c.tickSends, interval)
}

func (c *Component) tickSends() {
	if c.transport == nil {
		return
	}
	now := c.sched.Clock.Now()
	for key, s := range c.sessions {
		c.tickSessionSend(key.V2, s, now)
	}
}

// tickSessionSend emits whatever this session's current state owes the
// wire: hellos while WARM/NEGOTIATE/ESTABLISHED/GR_HOLD, a handshake
// retransmit while NEGOTIATE, and heartbeats while ESTABLISHED/GR_HOLD.
func (c *Component) tickSessionSend(iface state.InterfaceName, s *Session, now time.Time) {
	switch s.state {
	case StateWarm, StateNegotiate, StateEstablished, StateGrHold:
	default:
		return
	}

	if !now.Before(s.nextHelloAt) {
		h := s.BuildHello(c.nodeName, s.cfg, c.restartCounter)
		if err := c.transport.SendHello(iface, h); err != nil {
			s.log.Debug("spark send hello failed", "iface", iface, "err", err)
		}
		s.nextHelloAt = now.Add(s.helloInterval())
	}

	if s.state == StateNegotiate && !now.Before(s.nextHandshakeAt) {
		hs := s.BuildHandshake(c.nodeName)
		if err := c.transport.SendHandshake(iface, hs); err != nil {
			s.log.Debug("spark send handshake failed", "iface", iface, "err", err)
		}
		s.nextHandshakeAt = now.Add(s.helloInterval())
	}

	if (s.state == StateEstablished || s.state == StateGrHold) && !now.Before(s.nextHeartbeatAt) {
		hb := s.BuildHeartbeat(c.nodeName, c.restartCounter)
		if err := c.transport.SendHeartbeat(iface, hb); err != nil {
			s.log.Debug("spark send heartbeat failed", "iface", iface, "err", err)
		}
		s.nextHeartbeatAt = now.Add(s.heartbeatInterval())
	}
}

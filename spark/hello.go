package spark

import (
	"regexp"
	"time"

	"github.com/openr/openr-go/protocol"
	"github.com/openr/openr-go/state"
)

// ReceiveHello processes an inbound hello. matchesArea reports whether
// (area_id, peer_name) satisfies the owning area's regexes, spec.md
// §4.2's WARM -> NEGOTIATE gate.
func (s *Session) ReceiveHello(h *protocol.Hello, matchesArea func(neighborName string) bool) {
	if h.Version != 1 {
		s.badHellos.VersionMismatch++
		s.log.Debug("bad hello: version mismatch", "iface", s.Iface, "version", h.Version)
		return
	}
	if state.AreaId(h.AreaId) != s.Area {
		s.badHellos.AreaMismatch++
		s.log.Debug("bad hello: area mismatch", "iface", s.Iface, "area", h.AreaId)
		return
	}
	if !matchesArea(h.NodeName) {
		s.badHellos.SchemaMismatch++
		s.log.Debug("bad hello: neighbor regex mismatch", "iface", s.Iface, "peer", h.NodeName)
		return
	}

	s.lastHelloAt = s.clock.Now()
	s.remoteRestartCt = h.RestartCounter
	s.supportsGr = h.SupportsGr

	switch s.state {
	case StateWarm:
		s.neighborName = state.NodeId(h.NodeName)
		s.negotiateDeadline = s.clock.Now().Add(time.Duration(s.cfg.HandshakeHoldTimeMs) * time.Millisecond)
		s.transition(StateNegotiate)
	case StateIdle:
		// A hello on an IDLE session means the interface came up
		// without an explicit InterfaceUp notification racing in
		// first; treat it as WARM then re-run the NEGOTIATE gate.
		s.transition(StateWarm)
		s.ReceiveHello(h, matchesArea)
	case StateGrHold:
		// A hello proves the peer is reachable and speaking again
		// before any heartbeat did; apply the same matching
		// restart-counter test as ReceiveHeartbeat's resumption path,
		// spec.md §4.2.
		s.resumeFromGrHold(h.RestartCounter)
	}
}

// resumeFromGrHold handles a signal (heartbeat or hello) that the peer
// is reachable again while in GR_HOLD, spec.md §4.2's "waiting for
// resumption with matching restart-counter": only a restart-counter
// that matches the one observed on entry proves this is the same
// incarnation that triggered GR, so the session can resume straight to
// ESTABLISHED. A changed counter means the peer actually restarted
// during the GR window, which breaks the GR contract (the peer's
// forwarding state is no longer known to have survived); treat that
// like any other adjacency loss and renegotiate from scratch.
func (s *Session) resumeFromGrHold(remoteRestartCt uint32) {
	if remoteRestartCt == s.grEntryRestartCt {
		s.transition(StateEstablished)
		s.emit(Event{Kind: EventGrEnd, Area: s.Area, Iface: s.Iface, NeighborName: s.neighborName})
		return
	}
	s.emit(Event{Kind: EventDown, Area: s.Area, Iface: s.Iface, NeighborName: s.neighborName})
	s.neighborName = ""
	s.transition(StateWarm)
}

// ReceiveHandshake completes bidirectional negotiation, spec.md §4.2's
// NEGOTIATE -> ESTABLISHED transition.
func (s *Session) ReceiveHandshake(hs *protocol.Handshake) {
	if s.state != StateNegotiate {
		return
	}
	if state.NodeId(hs.NodeName) != s.neighborName {
		return
	}
	s.establishedAt = s.clock.Now()
	s.localSeq = 0
	s.transition(StateEstablished)
	s.emit(Event{Kind: EventUp, Area: s.Area, Iface: s.Iface, NeighborName: s.neighborName})
}

// ReceiveHeartbeat refreshes liveness and feeds the step detector,
// spec.md §4.2.
func (s *Session) ReceiveHeartbeat(hb *protocol.Heartbeat) {
	if s.state != StateEstablished && s.state != StateGrHold {
		return
	}
	now := s.clock.Now()
	wasZero := s.lastHeartbeatAt.IsZero()
	rtt := now.Sub(s.lastHeartbeatAt)
	s.lastHeartbeatAt = now
	s.remoteSeq = hb.Seq

	if s.state == StateGrHold {
		s.resumeFromGrHold(hb.RestartCounter)
		return
	}

	if wasZero {
		// First heartbeat after ESTABLISHED: there is no prior timestamp
		// to measure RTT against, so skip the detector rather than feed
		// it a bogus multi-decade sample.
		return
	}
	if changed, metric := s.detector.Observe(rtt); changed {
		s.emit(Event{Kind: EventRttChange, Area: s.Area, Iface: s.Iface, NeighborName: s.neighborName, Metric: metric})
	}
}

// CheckHoldTimer is invoked periodically by the owning component's
// scheduler; it drives ESTABLISHED -> GR_HOLD -> IDLE on missed
// heartbeats, spec.md §4.2.
func (s *Session) CheckHoldTimer() {
	now := s.clock.Now()
	hold := time.Duration(s.cfg.HoldTimeS) * time.Second

	switch s.state {
	case StateNegotiate:
		if !s.negotiateDeadline.IsZero() && now.After(s.negotiateDeadline) {
			s.transition(StateIdle)
		}
	case StateEstablished:
		if now.Sub(s.lastHeartbeatAt) > hold {
			if s.supportsGr {
				s.grEntryRestartCt = s.remoteRestartCt
				s.grDeadline = now.Add(time.Duration(s.cfg.GracefulRestartTimeS) * time.Second)
				s.transition(StateGrHold)
				s.emit(Event{Kind: EventGrStart, Area: s.Area, Iface: s.Iface, NeighborName: s.neighborName})
			} else {
				s.InterfaceDown()
			}
		}
	case StateGrHold:
		if now.After(s.grDeadline) {
			s.InterfaceDown()
		}
	}
}

// BuildHello constructs the outbound hello for this session's current
// negotiation state.
func (s *Session) BuildHello(nodeName state.NodeId, cfg state.SparkConfig, restartCounter uint32) *protocol.Hello {
	s.localSeq++
	return &protocol.Hello{
		Version:              1,
		NodeName:             string(nodeName),
		AreaId:               string(s.Area),
		NeighborName:         string(s.neighborName),
		Interface:            string(s.Iface),
		Timestamp:            s.clock.Now().UnixNano(),
		Seq:                  s.localSeq,
		RestartCounter:       restartCounter,
		HoldTimeS:            uint32(cfg.HoldTimeS),
		KeepaliveTimeS:       uint32(cfg.KeepAliveTimeS),
		GracefulRestartTimeS: uint32(cfg.GracefulRestartTimeS),
		SupportsGr:           cfg.GracefulRestartTimeS > 0,
	}
}

// BuildHeartbeat constructs the outbound heartbeat for an ESTABLISHED
// or GR_HOLD session. restartCounter is this node's own incarnation
// number, carried so a peer that outlives our restart can apply the
// matching-restart-counter rule in reverse.
func (s *Session) BuildHeartbeat(nodeName state.NodeId, restartCounter uint32) *protocol.Heartbeat {
	s.localSeq++
	return &protocol.Heartbeat{
		NodeName:       string(nodeName),
		Seq:            s.localSeq,
		Timestamp:      s.clock.Now().UnixNano(),
		RestartCounter: restartCounter,
	}
}

// BuildHandshake constructs the outbound handshake completing NEGOTIATE,
// spec.md §6. This rewrite has no separate dataplane socket to
// advertise, so the addressing fields the wire schema carries for that
// purpose (V4Addr/V6Addr/TransportAddrs/OpenPort/KvSyncPort) are left
// at their zero values; Marshal already omits unset optional fields.
func (s *Session) BuildHandshake(nodeName state.NodeId) *protocol.Handshake {
	return &protocol.Handshake{
		NodeName:     string(nodeName),
		NeighborName: string(s.neighborName),
	}
}

// InFastInitWindow reports whether elapsed time since WARM entry is
// still within the bounded fast-init period, spec.md §4.2 ("fast-init
// hellos ... for a bounded startup window, then regular hellos").
func (s *Session) InFastInitWindow(warmSince time.Time, window time.Duration) bool {
	return s.clock.Now().Sub(warmSince) < window
}

// helloInterval is the current outbound hello cadence: fast-init
// cadence for FastInitWindow hellos' worth of time after entering WARM,
// then the regular hello interval, spec.md §4.2. FastInitWindow <= 0
// disables the fast-init phase entirely.
func (s *Session) helloInterval() time.Duration {
	regular := time.Duration(s.cfg.HelloTimeS) * time.Second
	if s.cfg.FastInitWindow <= 0 {
		return regular
	}
	fast := time.Duration(s.cfg.FastInitHelloTimeMs) * time.Millisecond
	window := time.Duration(s.cfg.FastInitWindow) * fast
	if s.InFastInitWindow(s.warmAt, window) {
		return fast
	}
	return regular
}

// heartbeatInterval is the outbound keepalive cadence for an
// ESTABLISHED or GR_HOLD session, spec.md §4.2.
func (s *Session) heartbeatInterval() time.Duration {
	return time.Duration(s.cfg.KeepAliveTimeS) * time.Second
}

// matchAreaRegex is a small helper areas.go-equivalent for callers that
// only have a compiled regexp rather than the full AreaConfig.
func matchAreaRegex(re *regexp.Regexp, name string) bool {
	if re == nil {
		return true
	}
	return re.MatchString(name)
}

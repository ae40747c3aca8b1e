// Package spark implements the per-(area,interface) neighbor discovery
// finite state machine of spec.md §4.2: IDLE -> WARM -> NEGOTIATE ->
// ESTABLISHED -> (GR_HOLD) -> IDLE. It is grounded on the teacher's
// impl/link_manager.go event-loop shape (a Dispatch-based state
// machine driven by a channel of inbound events plus scheduled
// timers) generalized from nylon's single neighbor-mesh FSM into one
// FSM instance per local interface.
package spark

import (
	"log/slog"
	"time"

	"github.com/openr/openr-go/state"
)

// SessionState is one point in the Spark FSM, spec.md §4.2.
type SessionState int

const (
	StateIdle SessionState = iota
	StateWarm
	StateNegotiate
	StateEstablished
	StateGrHold
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWarm:
		return "WARM"
	case StateNegotiate:
		return "NEGOTIATE"
	case StateEstablished:
		return "ESTABLISHED"
	case StateGrHold:
		return "GR_HOLD"
	default:
		return "UNKNOWN"
	}
}

// EventKind is one outbound neighbor event, spec.md §4.2.
type EventKind int

const (
	EventUp EventKind = iota
	EventDown
	EventRttChange
	EventGrStart
	EventGrEnd
)

// Event is published to LinkMonitor whenever a session's externally
// visible status changes.
type Event struct {
	Kind         EventKind
	Area         state.AreaId
	Iface        state.InterfaceName
	NeighborName state.NodeId
	Metric       uint32
}

// badHelloReasons counts non-fatal malformed-hello causes, spec.md
// §4.2's failure model ("a bad hello is counted and dropped, never
// fatal").
type badHelloReasons struct {
	SchemaMismatch int
	VersionMismatch int
	AreaMismatch    int
}

// Session is one (area, interface) FSM instance. It is owned
// exclusively by the Spark component's event loop; nothing outside
// spark ever mutates it directly.
type Session struct {
	Area  state.AreaId
	Iface state.InterfaceName

	cfg   state.SparkConfig
	clock stepClock
	log   *slog.Logger

	state           SessionState
	localSeq        uint64
	remoteSeq       uint64
	restartCounter  uint32
	remoteRestartCt uint32
	neighborName    state.NodeId
	supportsGr      bool
	lastHelloAt     time.Time
	lastHeartbeatAt time.Time
	establishedAt   time.Time
	negotiateDeadline time.Time
	grDeadline        time.Time
	grEntryRestartCt  uint32
	badHellos         badHelloReasons

	// warmAt is when this session last entered WARM, feeding
	// InFastInitWindow. nextHelloAt/nextHandshakeAt/nextHeartbeatAt are
	// the outbound send loop's due times; a zero value is always due,
	// which is what a fresh state transition wants.
	warmAt          time.Time
	nextHelloAt     time.Time
	nextHandshakeAt time.Time
	nextHeartbeatAt time.Time

	detector *StepDetector

	events chan<- Event
}

// stepClock is the minimal clock surface Session needs; satisfied by
// clock.Clock, narrowed here so tests can fake just Now().
type stepClock interface {
	Now() time.Time
}

// NewSession constructs an IDLE session. events receives every
// observable transition; the caller (LinkMonitor's Spark instance)
// owns the channel and never blocks it for long, per spec.md §5's
// suspension-point discipline.
func NewSession(area state.AreaId, iface state.InterfaceName, cfg state.SparkConfig, clock stepClock, log *slog.Logger, events chan<- Event) *Session {
	return &Session{
		Area:     area,
		Iface:    iface,
		cfg:      cfg,
		clock:    clock,
		log:      log,
		state:    StateIdle,
		detector: NewStepDetector(cfg.StepDetector),
		events:   events,
	}
}

func (s *Session) State() SessionState { return s.state }

func (s *Session) transition(to SessionState) {
	if s.state == to {
		return
	}
	s.log.Debug("spark fsm transition", "area", s.Area, "iface", s.Iface, "from", s.state, "to", to)
	s.state = to
	if to == StateWarm {
		s.warmAt = s.clock.Now()
	}
	// Every state change starts a fresh send cadence: whatever was due
	// (or not) under the old state has no bearing on the new one.
	s.nextHelloAt = time.Time{}
	s.nextHandshakeAt = time.Time{}
	s.nextHeartbeatAt = time.Time{}
}

// InterfaceUp handles the platform reporting the interface has a
// link-local v6 address, spec.md §4.2's IDLE->WARM transition.
func (s *Session) InterfaceUp() {
	if s.state != StateIdle {
		return
	}
	s.transition(StateWarm)
}

// InterfaceDown forces the session back to IDLE from any state and
// emits DOWN if it had been ESTABLISHED, spec.md §4.2 ("Any -> IDLE on
// interface DOWN").
func (s *Session) InterfaceDown() {
	wasEstablished := s.state == StateEstablished || s.state == StateGrHold
	s.transition(StateIdle)
	s.neighborName = ""
	if wasEstablished {
		s.emit(Event{Kind: EventDown, Area: s.Area, Iface: s.Iface})
	}
}

// AreaMismatch models "regex mismatch on reconfiguration" -> IDLE.
func (s *Session) AreaMismatch() {
	s.InterfaceDown()
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warn("spark event queue full, dropping", "kind", e.Kind, "area", s.Area, "iface", s.Iface)
	}
}

package spark

import (
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/openr/openr-go/protocol"
	"github.com/openr/openr-go/state"
)

func newEstablishedSession(t *testing.T, clk clock.Clock) (*Session, chan Event) {
	t.Helper()
	events := make(chan Event, 4)
	cfg := state.SparkConfig{
		HoldTimeS: 10,
		StepDetector: state.StepDetectorConfig{
			FastWindowMs:     1000,
			SlowWindowMs:     4000,
			LowerThresholdMs: 1,
			UpperThresholdMs: 1000,
		},
	}
	s := NewSession("area1", "eth0", cfg, clk, slog.Default(), events)
	s.state = StateEstablished
	return s, events
}

// TestReceiveHeartbeatSkipsRttOnFirstHeartbeat guards against the
// zero-time staleness guard being evaluated after lastHeartbeatAt was
// already overwritten: the very first heartbeat after ESTABLISHED must
// not feed a bogus rtt measured against the zero Time into the step
// detector.
func TestReceiveHeartbeatSkipsRttOnFirstHeartbeat(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s, events := newEstablishedSession(t, clk)
	require.True(t, s.lastHeartbeatAt.IsZero())

	s.ReceiveHeartbeat(&protocol.Heartbeat{Seq: 1})

	require.False(t, s.lastHeartbeatAt.IsZero(), "liveness must still be refreshed")
	select {
	case e := <-events:
		t.Fatalf("first heartbeat must not emit an rtt-change event, got %+v", e)
	default:
	}
}

// TestReceiveHeartbeatObservesRttFromSecondHeartbeatOnward confirms the
// step detector still warms up normally once a real prior sample exists.
func TestReceiveHeartbeatObservesRttFromSecondHeartbeatOnward(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s, events := newEstablishedSession(t, clk)

	s.ReceiveHeartbeat(&protocol.Heartbeat{Seq: 1})
	clk.Add(50 * time.Millisecond)
	s.ReceiveHeartbeat(&protocol.Heartbeat{Seq: 2})

	select {
	case e := <-events:
		require.Equal(t, EventRttChange, e.Kind)
		require.InDelta(t, 50, e.Metric, 5)
	default:
		t.Fatal("expected an rtt-change event once a real sample exists")
	}
}

func newGrHoldSession(t *testing.T, clk clock.Clock, entryRestartCt uint32) (*Session, chan Event) {
	t.Helper()
	s, events := newEstablishedSession(t, clk)
	s.supportsGr = true
	s.neighborName = "peer1"
	s.state = StateGrHold
	s.grEntryRestartCt = entryRestartCt
	s.grDeadline = clk.Now().Add(time.Minute)
	return s, events
}

// TestReceiveHeartbeatMatchingRestartCounterResumesEstablished covers
// spec.md §4.2's "resumption with matching restart-counter": a
// heartbeat arriving during GR_HOLD whose RestartCounter equals the one
// observed on entry proves the same incarnation survived, so the
// session goes straight back to ESTABLISHED rather than renegotiating.
func TestReceiveHeartbeatMatchingRestartCounterResumesEstablished(t *testing.T) {
	clk := clock.NewMock()
	s, events := newGrHoldSession(t, clk, 3)

	s.ReceiveHeartbeat(&protocol.Heartbeat{Seq: 1, RestartCounter: 3})

	require.Equal(t, StateEstablished, s.State())
	select {
	case e := <-events:
		require.Equal(t, EventGrEnd, e.Kind)
	default:
		t.Fatal("expected a gr-end event on matching-counter resumption")
	}
}

// TestReceiveHeartbeatMismatchedRestartCounterFallsBackToWarm covers the
// other half of spec.md §4.2: a changed restart-counter proves the peer
// genuinely restarted mid-GR-window, which breaks the GR contract, so
// the session must drop the adjacency and renegotiate from WARM instead
// of resuming to ESTABLISHED.
func TestReceiveHeartbeatMismatchedRestartCounterFallsBackToWarm(t *testing.T) {
	clk := clock.NewMock()
	s, events := newGrHoldSession(t, clk, 3)

	s.ReceiveHeartbeat(&protocol.Heartbeat{Seq: 1, RestartCounter: 4})

	require.Equal(t, StateWarm, s.State())
	require.Equal(t, state.NodeId(""), s.neighborName)
	select {
	case e := <-events:
		require.Equal(t, EventDown, e.Kind)
	default:
		t.Fatal("expected a down event on restart-counter mismatch")
	}
}

// TestReceiveHelloDuringGrHoldAppliesSameResumptionRule guards against
// ReceiveHello silently dropping a Hello that arrives during GR_HOLD
// before any Heartbeat does: it must apply the identical
// matching-restart-counter test as ReceiveHeartbeat.
func TestReceiveHelloDuringGrHoldAppliesSameResumptionRule(t *testing.T) {
	clk := clock.NewMock()
	s, events := newGrHoldSession(t, clk, 7)
	matches := func(string) bool { return true }

	s.ReceiveHello(&protocol.Hello{Version: 1, AreaId: "area1", NodeName: "peer1", RestartCounter: 7}, matches)

	require.Equal(t, StateEstablished, s.State())
	select {
	case e := <-events:
		require.Equal(t, EventGrEnd, e.Kind)
	default:
		t.Fatal("expected a gr-end event on matching-counter resumption via hello")
	}
}

func TestReceiveHelloDuringGrHoldMismatchFallsBackToWarm(t *testing.T) {
	clk := clock.NewMock()
	s, events := newGrHoldSession(t, clk, 7)
	matches := func(string) bool { return true }

	s.ReceiveHello(&protocol.Hello{Version: 1, AreaId: "area1", NodeName: "peer1", RestartCounter: 8}, matches)

	require.Equal(t, StateWarm, s.State())
	select {
	case e := <-events:
		require.Equal(t, EventDown, e.Kind)
	default:
		t.Fatal("expected a down event on restart-counter mismatch via hello")
	}
}

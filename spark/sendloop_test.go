package spark

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/protocol"
	"github.com/openr/openr-go/state"
)

type fakeMatcher struct{}

func (fakeMatcher) MatchesNeighbor(state.AreaId, string) bool { return true }

type fakeOutboundTransport struct {
	joined     map[state.InterfaceName]bool
	hellos     []*protocol.Hello
	handshakes []*protocol.Handshake
	heartbeats []*protocol.Heartbeat
}

func newFakeOutboundTransport() *fakeOutboundTransport {
	return &fakeOutboundTransport{joined: make(map[state.InterfaceName]bool)}
}

func (f *fakeOutboundTransport) JoinInterface(iface state.InterfaceName) error {
	f.joined[iface] = true
	return nil
}
func (f *fakeOutboundTransport) LeaveInterface(iface state.InterfaceName) { delete(f.joined, iface) }
func (f *fakeOutboundTransport) SendHello(_ state.InterfaceName, h *protocol.Hello) error {
	f.hellos = append(f.hellos, h)
	return nil
}
func (f *fakeOutboundTransport) SendHandshake(_ state.InterfaceName, hs *protocol.Handshake) error {
	f.handshakes = append(f.handshakes, hs)
	return nil
}
func (f *fakeOutboundTransport) SendHeartbeat(_ state.InterfaceName, hb *protocol.Heartbeat) error {
	f.heartbeats = append(f.heartbeats, hb)
	return nil
}

func newTestComponentForSend(t *testing.T, clk clock.Clock) (*Component, *fakeOutboundTransport) {
	t.Helper()
	sched := state.NewScheduler(context.Background(), slog.Default(), clk)
	t.Cleanup(sched.Stop)
	c := NewComponent(sched, metrics.NewSink("test"), "node1", fakeMatcher{}, 0)
	transport := newFakeOutboundTransport()
	c.SetTransport(transport)
	return c, transport
}

// TestTickSendsSendsHelloWhileWarmAndHeartbeatWhileEstablished exercises
// the outbound cadence end to end: a WARM session gets hellos, and an
// ESTABLISHED one gets both hellos and heartbeats, spec.md §4.2.
func TestTickSendsSendsHelloWhileWarmAndHeartbeatWhileEstablished(t *testing.T) {
	clk := clock.NewMock()
	c, transport := newTestComponentForSend(t, clk)
	cfg := state.SparkConfig{HelloTimeS: 2, KeepAliveTimeS: 1}

	s := c.EnsureSession("area1", "eth0", cfg, slog.Default())
	s.InterfaceUp()
	require.Equal(t, StateWarm, s.State())

	now := clk.Now()
	c.tickSends()
	require.Len(t, transport.hellos, 1)
	require.Len(t, transport.heartbeats, 0)

	s.state = StateEstablished
	c.tickSends()
	require.Len(t, transport.heartbeats, 1)

	_ = now
}

// TestTickSendsRespectsHelloCadence confirms a session doesn't resend a
// hello before its interval elapses, and does once it has.
func TestTickSendsRespectsHelloCadence(t *testing.T) {
	clk := clock.NewMock()
	c, transport := newTestComponentForSend(t, clk)
	cfg := state.SparkConfig{HelloTimeS: 2, KeepAliveTimeS: 1}

	s := c.EnsureSession("area1", "eth0", cfg, slog.Default())
	s.InterfaceUp()

	c.tickSends()
	require.Len(t, transport.hellos, 1)

	c.tickSends()
	require.Len(t, transport.hellos, 1, "hello interval has not elapsed yet")

	clk.Add(2 * time.Second)
	c.tickSends()
	require.Len(t, transport.hellos, 2)
}

// TestTickSendsUsesFastInitCadenceWithinWindow confirms fast-init hellos
// fire at FastInitHelloTimeMs cadence for FastInitWindow intervals after
// WARM entry, then fall back to the regular hello_time_s cadence.
func TestTickSendsUsesFastInitCadenceWithinWindow(t *testing.T) {
	clk := clock.NewMock()
	c, transport := newTestComponentForSend(t, clk)
	cfg := state.SparkConfig{
		HelloTimeS:          10,
		KeepAliveTimeS:      1,
		FastInitHelloTimeMs: 100,
		FastInitWindow:      2,
	}

	s := c.EnsureSession("area1", "eth0", cfg, slog.Default())
	s.InterfaceUp()

	c.tickSends()
	require.Len(t, transport.hellos, 1)

	clk.Add(100 * time.Millisecond)
	c.tickSends()
	require.Len(t, transport.hellos, 2, "still within the fast-init window")

	clk.Add(10 * time.Second)
	c.tickSends()
	require.Len(t, transport.hellos, 3, "falls back to hello_time_s cadence once past the window")
}

// TestTickSendsRetransmitsHandshakeWhileNegotiating covers the
// previously-missing outbound Handshake send.
func TestTickSendsRetransmitsHandshakeWhileNegotiating(t *testing.T) {
	clk := clock.NewMock()
	c, transport := newTestComponentForSend(t, clk)
	cfg := state.SparkConfig{HelloTimeS: 2, KeepAliveTimeS: 1, HandshakeHoldTimeMs: 5000}

	s := c.EnsureSession("area1", "eth0", cfg, slog.Default())
	s.InterfaceUp()
	s.ReceiveHello(&protocol.Hello{Version: 1, AreaId: "area1", NodeName: "peer1"}, func(string) bool { return true })
	require.Equal(t, StateNegotiate, s.State())

	c.tickSends()
	require.Len(t, transport.handshakes, 1)
	require.Equal(t, "node1", transport.handshakes[0].NodeName)
}

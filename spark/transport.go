package spark

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/openr/openr-go/protocol"
	"github.com/openr/openr-go/state"
)

// sparkMulticastGroup is the link-local IPv6 multicast group Hello,
// Handshake, and Heartbeat are flooded to on every joined interface,
// analogous to OSPF's AllSPFRouters.
const sparkMulticastGroup = "ff02::1:2"

// sparkRecvBufferSize is sized well above any real Hello/Handshake/
// Heartbeat encoding; these are small fixed-shape messages, not the
// batched KvStore frames protocol.MaxPacketSize guards against.
const sparkRecvBufferSize = 2048

// Receiver is the inbound half of a Spark component that UdpTransport
// dispatches decoded frames into; *Component satisfies it directly.
type Receiver interface {
	ReceiveHello(area state.AreaId, iface state.InterfaceName, cfg state.SparkConfig, log *slog.Logger, h *protocol.Hello)
	ReceiveHandshake(area state.AreaId, iface state.InterfaceName, hs *protocol.Handshake)
	ReceiveHeartbeat(area state.AreaId, iface state.InterfaceName, hb *protocol.Heartbeat)
}

// UdpTransport is Spark's OutboundTransport plus inbound dispatch: one
// IPv6 multicast socket per joined interface. Grounded on
// kvstore.TcpTransport's shape (Bind resolves the same
// component/transport construction cycle, a wireFrame multiplexes
// message kinds over one socket) adapted from a per-peer stream to a
// per-interface multicast datagram, since Spark neighbors are
// discovered rather than configured as static peers.
type UdpTransport struct {
	log      *slog.Logger
	nodeName state.NodeId
	port     int
	areas    []*state.AreaConfig
	cfg      state.SparkConfig
	recv     Receiver

	mu    sync.Mutex
	conns map[state.InterfaceName]*net.UDPConn
}

// NewUdpTransport constructs a transport bound to the node's immutable
// area list and Spark timers; port is shared by every joined
// interface, spec.md §5 ("Config is immutable after start").
func NewUdpTransport(log *slog.Logger, nodeName state.NodeId, port int, areas []*state.AreaConfig, cfg state.SparkConfig) *UdpTransport {
	return &UdpTransport{
		log:      log,
		nodeName: nodeName,
		port:     port,
		areas:    areas,
		cfg:      cfg,
		conns:    make(map[state.InterfaceName]*net.UDPConn),
	}
}

// Bind wires this transport into the component that owns session
// state, resolving the same chicken/egg construction dependency
// TcpTransport.Bind resolves for kvstore.
func (t *UdpTransport) Bind(recv Receiver) { t.recv = recv }

// areasForInterface mirrors linkmonitor.Component.areasForInterface;
// duplicated rather than imported so this package doesn't take on a
// dependency on linkmonitor purely for one filter.
func (t *UdpTransport) areasForInterface(iface state.InterfaceName) []*state.AreaConfig {
	var out []*state.AreaConfig
	for _, a := range t.areas {
		if a.MatchesInterface(string(iface)) {
			out = append(out, a)
		}
	}
	return out
}

// JoinInterface opens a multicast listener on iface, spec.md §4.2's
// discovery start condition. Called by core's wiring whenever an
// interface enters an area's participation set; a no-op if already
// joined.
func (t *UdpTransport) JoinInterface(iface state.InterfaceName) error {
	t.mu.Lock()
	if _, ok := t.conns[iface]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	ifi, err := net.InterfaceByName(string(iface))
	if err != nil {
		return fmt.Errorf("spark transport: interface %s: %w", iface, err)
	}
	group := &net.UDPAddr{IP: net.ParseIP(sparkMulticastGroup), Port: t.port}
	conn, err := net.ListenMulticastUDP("udp6", ifi, group)
	if err != nil {
		return fmt.Errorf("spark transport: join %s: %w", iface, err)
	}

	t.mu.Lock()
	t.conns[iface] = conn
	t.mu.Unlock()

	go t.receiveLoop(iface, conn)
	t.log.Info("spark transport joined interface", "iface", iface)
	return nil
}

// LeaveInterface closes the multicast listener on iface, spec.md §4.2's
// "Any -> IDLE on interface DOWN".
func (t *UdpTransport) LeaveInterface(iface state.InterfaceName) {
	t.mu.Lock()
	conn, ok := t.conns[iface]
	delete(t.conns, iface)
	t.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Close leaves every joined interface, called from Node.Stop.
func (t *UdpTransport) Close() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[state.InterfaceName]*net.UDPConn)
	t.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

func (t *UdpTransport) receiveLoop(iface state.InterfaceName, conn *net.UDPConn) {
	buf := make([]byte, sparkRecvBufferSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // closed by LeaveInterface or Close
		}
		var f wireFrame
		if err := f.Unmarshal(buf[:n]); err != nil {
			t.log.Debug("spark transport: bad frame", "iface", iface, "err", err)
			continue
		}
		t.dispatch(iface, &f)
	}
}

// dispatch resolves the receiving area(s) for iface and hands the
// decoded message to Receiver. Hello carries an explicit area_id and
// is matched exactly; Handshake/Heartbeat carry none, so every area
// the interface participates in is offered the message and Session's
// own node-name/state checks reject cross-talk on a multi-area
// interface.
func (t *UdpTransport) dispatch(iface state.InterfaceName, f *wireFrame) {
	if t.recv == nil {
		return
	}
	switch f.Kind {
	case frameKindHello:
		if f.Hello.NodeName == string(t.nodeName) {
			return
		}
		for _, a := range t.areasForInterface(iface) {
			if string(a.AreaId) == f.Hello.AreaId {
				t.recv.ReceiveHello(a.AreaId, iface, t.cfg, t.log, f.Hello)
				return
			}
		}
	case frameKindHandshake:
		if f.Handshake.NodeName == string(t.nodeName) {
			return
		}
		for _, a := range t.areasForInterface(iface) {
			t.recv.ReceiveHandshake(a.AreaId, iface, f.Handshake)
		}
	case frameKindHeartbeat:
		if f.Heartbeat.NodeName == string(t.nodeName) {
			return
		}
		for _, a := range t.areasForInterface(iface) {
			t.recv.ReceiveHeartbeat(a.AreaId, iface, f.Heartbeat)
		}
	}
}

// wireFrame multiplexes the three Spark message kinds over one
// multicast socket, mirroring kvstore's wireFrame idiom; UDP is
// already datagram-bounded so no length-prefix framing is needed here.
type wireFrame struct {
	Kind      byte
	Hello     *protocol.Hello
	Handshake *protocol.Handshake
	Heartbeat *protocol.Heartbeat
}

const (
	frameKindHello byte = iota
	frameKindHandshake
	frameKindHeartbeat
)

func (f *wireFrame) Marshal() []byte {
	var inner protocol.Marshaler
	switch f.Kind {
	case frameKindHello:
		inner = f.Hello
	case frameKindHandshake:
		inner = f.Handshake
	case frameKindHeartbeat:
		inner = f.Heartbeat
	}
	body := inner.Marshal()
	out := make([]byte, 1, 1+len(body))
	out[0] = f.Kind
	return append(out, body...)
}

func (f *wireFrame) Unmarshal(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("spark transport: empty frame")
	}
	f.Kind = data[0]
	body := data[1:]
	switch f.Kind {
	case frameKindHello:
		f.Hello = &protocol.Hello{}
		return f.Hello.Unmarshal(body)
	case frameKindHandshake:
		f.Handshake = &protocol.Handshake{}
		return f.Handshake.Unmarshal(body)
	case frameKindHeartbeat:
		f.Heartbeat = &protocol.Heartbeat{}
		return f.Heartbeat.Unmarshal(body)
	default:
		return fmt.Errorf("spark transport: unknown frame kind %d", f.Kind)
	}
}

func (t *UdpTransport) send(iface state.InterfaceName, f *wireFrame) error {
	t.mu.Lock()
	conn, ok := t.conns[iface]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("spark transport: interface %s not joined", iface)
	}
	dst := &net.UDPAddr{IP: net.ParseIP(sparkMulticastGroup), Port: t.port, Zone: string(iface)}
	_, err := conn.WriteToUDP(f.Marshal(), dst)
	return err
}

func (t *UdpTransport) SendHello(iface state.InterfaceName, h *protocol.Hello) error {
	return t.send(iface, &wireFrame{Kind: frameKindHello, Hello: h})
}

func (t *UdpTransport) SendHandshake(iface state.InterfaceName, hs *protocol.Handshake) error {
	return t.send(iface, &wireFrame{Kind: frameKindHandshake, Handshake: hs})
}

func (t *UdpTransport) SendHeartbeat(iface state.InterfaceName, hb *protocol.Heartbeat) error {
	return t.send(iface, &wireFrame{Kind: frameKindHeartbeat, Heartbeat: hb})
}

package protocol

import (
	"net/netip"

	"google.golang.org/protobuf/encoding/protowire"
)

// Hello is the periodic/fast-init discovery message, spec.md §6.
type Hello struct {
	Version              uint32
	NodeName             string
	AreaId               string
	NeighborName         string // empty until the sender has heard back
	Interface            string
	Timestamp            int64
	Seq                  uint64
	RestartCounter       uint32
	HoldTimeS            uint32
	KeepaliveTimeS       uint32
	GracefulRestartTimeS uint32
	SupportsGr           bool
}

const (
	helloVersion = protowire.Number(iota + 1)
	helloNodeName
	helloAreaId
	helloNeighborName
	helloInterface
	helloTimestamp
	helloSeq
	helloRestartCounter
	helloHoldTimeS
	helloKeepaliveTimeS
	helloGracefulRestartTimeS
	helloSupportsGr
)

func (h *Hello) Marshal() []byte {
	var b []byte
	b = appendVarintAlways(b, helloVersion, uint64(h.Version))
	b = appendStr(b, helloNodeName, h.NodeName)
	b = appendStr(b, helloAreaId, h.AreaId)
	b = appendStr(b, helloNeighborName, h.NeighborName)
	b = appendStr(b, helloInterface, h.Interface)
	b = appendVarintAlways(b, helloTimestamp, uint64(h.Timestamp))
	b = appendVarintAlways(b, helloSeq, h.Seq)
	b = appendVarint(b, helloRestartCounter, uint64(h.RestartCounter))
	b = appendVarint(b, helloHoldTimeS, uint64(h.HoldTimeS))
	b = appendVarint(b, helloKeepaliveTimeS, uint64(h.KeepaliveTimeS))
	b = appendVarint(b, helloGracefulRestartTimeS, uint64(h.GracefulRestartTimeS))
	if h.SupportsGr {
		b = appendVarintAlways(b, helloSupportsGr, 1)
	}
	return b
}

func (h *Hello) Unmarshal(data []byte) error {
	*h = Hello{}
	return consumeField(data, func(num protowire.Number, _ protowire.Type, v []byte, varint uint64) error {
		switch num {
		case helloVersion:
			h.Version = uint32(varint)
		case helloNodeName:
			h.NodeName = string(v)
		case helloAreaId:
			h.AreaId = string(v)
		case helloNeighborName:
			h.NeighborName = string(v)
		case helloInterface:
			h.Interface = string(v)
		case helloTimestamp:
			h.Timestamp = int64(varint)
		case helloSeq:
			h.Seq = varint
		case helloRestartCounter:
			h.RestartCounter = uint32(varint)
		case helloHoldTimeS:
			h.HoldTimeS = uint32(varint)
		case helloKeepaliveTimeS:
			h.KeepaliveTimeS = uint32(varint)
		case helloGracefulRestartTimeS:
			h.GracefulRestartTimeS = uint32(varint)
		case helloSupportsGr:
			h.SupportsGr = varint != 0
		}
		return nil
	})
}

// Handshake completes NEGOTIATE, exchanging addressing needed to open
// the data-carrying sockets, spec.md §6.
type Handshake struct {
	NodeName       string
	NeighborName   string
	V4Addr         netip.Addr
	V6Addr         netip.Addr
	TransportAddrs []netip.AddrPort
	OpenPort       uint16
	KvSyncPort     uint16
}

const (
	handshakeNodeName = protowire.Number(iota + 1)
	handshakeNeighborName
	handshakeV4Addr
	handshakeV6Addr
	handshakeTransportAddrs
	handshakeOpenPort
	handshakeKvSyncPort
)

func (h *Handshake) Marshal() []byte {
	var b []byte
	b = appendStr(b, handshakeNodeName, h.NodeName)
	b = appendStr(b, handshakeNeighborName, h.NeighborName)
	if h.V4Addr.IsValid() {
		b = appendBytes(b, handshakeV4Addr, h.V4Addr.AsSlice())
	}
	if h.V6Addr.IsValid() {
		b = appendBytes(b, handshakeV6Addr, h.V6Addr.AsSlice())
	}
	for _, ap := range h.TransportAddrs {
		b = appendBytes(b, handshakeTransportAddrs, []byte(ap.String()))
	}
	b = appendVarint(b, handshakeOpenPort, uint64(h.OpenPort))
	b = appendVarint(b, handshakeKvSyncPort, uint64(h.KvSyncPort))
	return b
}

func (h *Handshake) Unmarshal(data []byte) error {
	*h = Handshake{}
	return consumeField(data, func(num protowire.Number, _ protowire.Type, v []byte, varint uint64) error {
		switch num {
		case handshakeNodeName:
			h.NodeName = string(v)
		case handshakeNeighborName:
			h.NeighborName = string(v)
		case handshakeV4Addr:
			addr, ok := netip.AddrFromSlice(v)
			if ok {
				h.V4Addr = addr
			}
		case handshakeV6Addr:
			addr, ok := netip.AddrFromSlice(v)
			if ok {
				h.V6Addr = addr
			}
		case handshakeTransportAddrs:
			ap, err := netip.ParseAddrPort(string(v))
			if err == nil {
				h.TransportAddrs = append(h.TransportAddrs, ap)
			}
		case handshakeOpenPort:
			h.OpenPort = uint16(varint)
		case handshakeKvSyncPort:
			h.KvSyncPort = uint16(varint)
		}
		return nil
	})
}

// Heartbeat keeps an ESTABLISHED session alive, spec.md §6.
// RestartCounter carries the sender's current incarnation number so a
// peer in GR_HOLD can tell a graceful resumption (counter unchanged)
// from a genuine restart mid-window (counter changed), spec.md §4.2.
type Heartbeat struct {
	NodeName       string
	Seq            uint64
	Timestamp      int64
	RestartCounter uint32
}

const (
	heartbeatNodeName = protowire.Number(iota + 1)
	heartbeatSeq
	heartbeatTimestamp
	heartbeatRestartCounter
)

func (h *Heartbeat) Marshal() []byte {
	var b []byte
	b = appendStr(b, heartbeatNodeName, h.NodeName)
	b = appendVarintAlways(b, heartbeatSeq, h.Seq)
	b = appendVarintAlways(b, heartbeatTimestamp, uint64(h.Timestamp))
	b = appendVarint(b, heartbeatRestartCounter, uint64(h.RestartCounter))
	return b
}

func (h *Heartbeat) Unmarshal(data []byte) error {
	*h = Heartbeat{}
	return consumeField(data, func(num protowire.Number, _ protowire.Type, v []byte, varint uint64) error {
		switch num {
		case heartbeatNodeName:
			h.NodeName = string(v)
		case heartbeatSeq:
			h.Seq = varint
		case heartbeatTimestamp:
			h.Timestamp = int64(varint)
		case heartbeatRestartCounter:
			h.RestartCounter = uint32(varint)
		}
		return nil
	})
}

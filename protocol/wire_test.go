package protocol

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

// These cover spec.md §8's testable property 4 for the one place it
// actually matters: wire bytes. Each message is built with every field
// populated, marshaled, unmarshaled into a fresh zero value, and
// compared back against the original.

func TestHelloRoundTrip(t *testing.T) {
	h := &Hello{
		Version:              1,
		NodeName:             "node1",
		AreaId:               "area1",
		NeighborName:         "node2",
		Interface:            "eth0",
		Timestamp:            1234567890,
		Seq:                  42,
		RestartCounter:       3,
		HoldTimeS:            10,
		KeepaliveTimeS:       2,
		GracefulRestartTimeS: 60,
		SupportsGr:           true,
	}
	var got Hello
	require.NoError(t, got.Unmarshal(h.Marshal()))
	require.Equal(t, *h, got)
}

func TestHelloRoundTripZeroValues(t *testing.T) {
	h := &Hello{}
	var got Hello
	require.NoError(t, got.Unmarshal(h.Marshal()))
	require.Equal(t, *h, got)
}

func TestHandshakeRoundTrip(t *testing.T) {
	hs := &Handshake{
		NodeName:     "node1",
		NeighborName: "node2",
		V4Addr:       netip.MustParseAddr("10.0.0.1"),
		V6Addr:       netip.MustParseAddr("fe80::1"),
		TransportAddrs: []netip.AddrPort{
			netip.MustParseAddrPort("10.0.0.1:6668"),
			netip.MustParseAddrPort("[fe80::1]:6668"),
		},
		OpenPort:   6668,
		KvSyncPort: 6669,
	}
	var got Handshake
	require.NoError(t, got.Unmarshal(hs.Marshal()))
	require.Equal(t, *hs, got)
}

func TestHandshakeRoundTripWithoutOptionalAddressing(t *testing.T) {
	hs := &Handshake{NodeName: "node1", NeighborName: "node2"}
	var got Handshake
	require.NoError(t, got.Unmarshal(hs.Marshal()))
	require.Equal(t, *hs, got)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	hb := &Heartbeat{
		NodeName:       "node1",
		Seq:            7,
		Timestamp:      555,
		RestartCounter: 2,
	}
	var got Heartbeat
	require.NoError(t, got.Unmarshal(hb.Marshal()))
	require.Equal(t, *hb, got)
}

func TestUpdateRoundTripWithValue(t *testing.T) {
	u := &Update{
		Area:         "area1",
		Key:          "adj:node1",
		HasValue:     true,
		ValueBytes:   []byte{1, 2, 3, 4},
		Version:      9,
		OriginatorId: "node1",
		TtlMs:        300000,
		TtlVersion:   4,
		Hash:         0xdeadbeef,
	}
	var got Update
	require.NoError(t, got.Unmarshal(u.Marshal()))
	require.Equal(t, *u, got)
}

func TestUpdateRoundTripTtlRefreshOnly(t *testing.T) {
	u := &Update{
		Area:         "area1",
		Key:          "adj:node1",
		HasValue:     false,
		Version:      9,
		OriginatorId: "node1",
		TtlMs:        300000,
		TtlVersion:   5,
		Hash:         0xdeadbeef,
	}
	var got Update
	require.NoError(t, got.Unmarshal(u.Marshal()))
	require.Equal(t, *u, got)
	require.False(t, got.HasValue)
	require.Nil(t, got.ValueBytes)
}

func TestUpdateBatchRoundTrip(t *testing.T) {
	b := &UpdateBatch{Updates: []*Update{
		{Area: "area1", Key: "k1", HasValue: true, ValueBytes: []byte("v1"), Version: 1},
		{Area: "area1", Key: "k2", HasValue: true, ValueBytes: []byte("v2"), Version: 2},
	}}
	var got UpdateBatch
	require.NoError(t, got.Unmarshal(b.Marshal()))
	require.Equal(t, len(b.Updates), len(got.Updates))
	for i := range b.Updates {
		require.Equal(t, *b.Updates[i], *got.Updates[i])
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	s := &Summary{Area: "area1", Entries: []*SummaryEntry{
		{Key: "k1", Version: 1, Hash: 111},
		{Key: "k2", Version: 2, Hash: 222},
	}}
	var got Summary
	require.NoError(t, got.Unmarshal(s.Marshal()))
	require.Equal(t, s.Area, got.Area)
	require.Equal(t, len(s.Entries), len(got.Entries))
	for i := range s.Entries {
		require.Equal(t, *s.Entries[i], *got.Entries[i])
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	d := &Delta{Area: "area1", Updates: []*Update{
		{Area: "area1", Key: "k1", HasValue: true, ValueBytes: []byte("v1"), Version: 1},
	}}
	var got Delta
	require.NoError(t, got.Unmarshal(d.Marshal()))
	require.Equal(t, d.Area, got.Area)
	require.Equal(t, len(d.Updates), len(got.Updates))
	require.Equal(t, *d.Updates[0], *got.Updates[0])
}

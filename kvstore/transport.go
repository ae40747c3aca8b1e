package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openr/openr-go/protocol"
	"github.com/openr/openr-go/state"
)

// TcpTransport is the default Transport, one persistent TCP connection
// per peer carrying length-prefixed protocol.UpdateBatch/Summary/Delta
// frames. Grounded directly on the teacher's impl/ctl_tcp_link.go
// ListenCtlTCP/ConnectCtlTCP pair and impl/utils.go's send/receive
// framing, generalized from a single control message type to the
// three KvStore wire messages of spec.md §6.
type TcpTransport struct {
	log   *slog.Logger
	store *Store

	mu    sync.Mutex
	conns map[PeerId]net.Conn
}

func NewTcpTransport(log *slog.Logger) *TcpTransport {
	return &TcpTransport{
		log:   log,
		conns: make(map[PeerId]net.Conn),
	}
}

// Bind wires this transport into store, resolving the chicken/egg
// construction order (Store needs a Transport; TcpTransport dispatches
// into Store on receipt).
func (t *TcpTransport) Bind(store *Store) { t.store = store }

// Listen accepts inbound peer connections, grounded on ListenCtlTCP.
func (t *TcpTransport) Listen(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("kvstore transport listen: %w", err)
	}
	t.log.Info("kvstore transport listening", "addr", addr)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for ctx.Err() == nil {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.log.Warn("kvstore transport accept failed", "err", err)
			continue
		}
		sessionId := uuid.New()
		t.log.Debug("kvstore transport accepted connection", "remote", conn.RemoteAddr(), "session", sessionId)
		go t.serve(ctx, PeerId(conn.RemoteAddr().String()), conn, false)
	}
	return nil
}

// Connect dials a configured peer and registers it as the full-sync
// initiator, spec.md §4.3.
func (t *TcpTransport) Connect(ctx context.Context, peer PeerId, addr string, area state.AreaId) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("kvstore transport dial %s: %w", peer, err)
	}
	go t.serve(ctx, peer, conn, true)
	if t.store != nil {
		t.store.RegisterPeer(peer, area, true)
	}
	return nil
}

func (t *TcpTransport) serve(ctx context.Context, peer PeerId, conn net.Conn, initiator bool) {
	t.mu.Lock()
	t.conns[peer] = conn
	t.mu.Unlock()
	defer func() {
		conn.Close()
		t.mu.Lock()
		delete(t.conns, peer)
		t.mu.Unlock()
		if t.store != nil {
			t.store.UnregisterPeer(peer)
		}
	}()

	for ctx.Err() == nil {
		var frame wireFrame
		if err := protocol.ReadFramed(conn, &frame); err != nil {
			t.log.Debug("kvstore transport read failed, closing", "peer", peer, "err", err)
			return
		}
		t.dispatch(peer, &frame)
	}
}

// wireFrame multiplexes the three KvStore message kinds over one
// stream by tagging each frame with a one-byte kind prefix, so a
// single TCP connection carries updates, summaries, and deltas without
// needing three sockets per peer.
type wireFrame struct {
	Kind    byte
	Area    state.AreaId
	Batch   *protocol.UpdateBatch
	Summary *protocol.Summary
	Delta   *protocol.Delta
}

const (
	frameKindUpdate byte = iota
	frameKindSummary
	frameKindDelta
)

func (f *wireFrame) Marshal() []byte {
	var inner protocol.Marshaler
	switch f.Kind {
	case frameKindUpdate:
		inner = f.Batch
	case frameKindSummary:
		inner = f.Summary
	case frameKindDelta:
		inner = f.Delta
	}
	body := inner.Marshal()
	out := make([]byte, 1, 1+len(body))
	out[0] = f.Kind
	return append(out, body...)
}

func (f *wireFrame) Unmarshal(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("kvstore transport: empty frame")
	}
	f.Kind = data[0]
	body := data[1:]
	switch f.Kind {
	case frameKindUpdate:
		f.Batch = &protocol.UpdateBatch{}
		return f.Batch.Unmarshal(body)
	case frameKindSummary:
		f.Summary = &protocol.Summary{}
		return f.Summary.Unmarshal(body)
	case frameKindDelta:
		f.Delta = &protocol.Delta{}
		return f.Delta.Unmarshal(body)
	default:
		return fmt.Errorf("kvstore transport: unknown frame kind %d", f.Kind)
	}
}

func (t *TcpTransport) dispatch(peer PeerId, f *wireFrame) {
	if t.store == nil {
		return
	}
	switch f.Kind {
	case frameKindUpdate:
		for _, u := range f.Batch.Updates {
			t.store.Merge(state.AreaId(u.Area), peer, updateToValue(u))
		}
	case frameKindSummary:
		remote := make(map[string]summaryFingerprint, len(f.Summary.Entries))
		for _, e := range f.Summary.Entries {
			remote[e.Key] = summaryFingerprint{Version: e.Version, Hash: e.Hash}
		}
		t.store.ReceiveSummary(peer, state.AreaId(f.Summary.Area), remote)
	case frameKindDelta:
		vals := make([]state.KvValue, 0, len(f.Delta.Updates))
		for _, u := range f.Delta.Updates {
			vals = append(vals, updateToValue(u))
		}
		t.store.ReceiveDelta(peer, state.AreaId(f.Delta.Area), vals)
	}
}

func updateToValue(u *protocol.Update) state.KvValue {
	return state.KvValue{
		Key:          u.Key,
		OriginatorId: state.NodeId(u.OriginatorId),
		Version:      u.Version,
		Value:        u.ValueBytes,
		Hash:         u.Hash,
		TtlVersion:   u.TtlVersion,
		ExpiresAt:    time.Now().Add(time.Duration(u.TtlMs) * time.Millisecond),
	}
}

func valueToUpdate(area state.AreaId, v state.KvValue) *protocol.Update {
	return &protocol.Update{
		Area:         string(area),
		Key:          v.Key,
		HasValue:     true,
		ValueBytes:   v.Value,
		Version:      v.Version,
		OriginatorId: string(v.OriginatorId),
		TtlMs:        time.Until(v.ExpiresAt).Milliseconds(),
		TtlVersion:   v.TtlVersion,
		Hash:         v.Hash,
	}
}

func (t *TcpTransport) send(peer PeerId, f *wireFrame) error {
	t.mu.Lock()
	conn, ok := t.conns[peer]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("kvstore transport: no connection to %s", peer)
	}
	return protocol.WriteFramed(conn, f)
}

func (t *TcpTransport) SendUpdates(peer PeerId, area state.AreaId, updates []state.KvValue) error {
	batch := &protocol.UpdateBatch{}
	for _, v := range updates {
		batch.Updates = append(batch.Updates, valueToUpdate(area, v))
	}
	return t.send(peer, &wireFrame{Kind: frameKindUpdate, Area: area, Batch: batch})
}

func (t *TcpTransport) SendSummary(peer PeerId, area state.AreaId, entries map[string]summaryFingerprint) error {
	s := &protocol.Summary{Area: string(area)}
	for k, e := range entries {
		s.Entries = append(s.Entries, &protocol.SummaryEntry{Key: k, Version: e.Version, Hash: e.Hash})
	}
	return t.send(peer, &wireFrame{Kind: frameKindSummary, Area: area, Summary: s})
}

func (t *TcpTransport) SendDelta(peer PeerId, area state.AreaId, updates []state.KvValue) error {
	d := &protocol.Delta{Area: string(area)}
	for _, v := range updates {
		d.Updates = append(d.Updates, valueToUpdate(area, v))
	}
	return t.send(peer, &wireFrame{Kind: frameKindDelta, Area: area, Delta: d})
}

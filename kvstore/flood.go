package kvstore

import (
	"time"

	"github.com/openr/openr-go/state"
)

// dampingThreshold is the update rate above which a key enters
// exponential backoff, spec.md §4.3 ("a key that changes faster than a
// threshold enters exponential backoff").
const dampingThreshold = 200 * time.Millisecond

// allowFlood applies flood-rate limiting and per-key dampening. It
// returns false when the update is dropped rather than flooded; a
// dropped update is not queued or resent later.
func (t *areaTable) allowFlood(key string, now time.Time) bool {
	d, ok := t.dampening[key]
	if !ok {
		d = &dampState{backoff: time.Millisecond}
		t.dampening[key] = d
	}
	if now.Before(d.until) {
		return false
	}
	sinceLast := now.Sub(d.lastSeen)
	d.lastSeen = now
	if !d.lastSeen.IsZero() && sinceLast < dampingThreshold && sinceLast > 0 {
		d.backoff *= 2
		if d.backoff > time.Second {
			d.backoff = time.Second
		}
		d.until = now.Add(d.backoff)
	} else {
		d.backoff = time.Millisecond
	}
	return t.limiter.Allow()
}

// floodOne sends v to every peer registered for area.
func (s *Store) floodOne(area state.AreaId, v state.KvValue) {
	s.floodExcept(area, v, "")
}

// floodExcept sends v to every peer registered for area other than
// skip (the peer we just received it from), spec.md §4.3 ("winning
// sets are flooded to all peers except the sender").
func (s *Store) floodExcept(area state.AreaId, v state.KvValue, skip PeerId) {
	t := s.area(area)
	t.mu.Lock()
	allowed := t.allowFlood(v.Key, time.Now())
	t.mu.Unlock()
	if !allowed {
		s.metrics.Counter("kvstore.flood.dampened").Add(1)
		return
	}

	s.mu.RLock()
	peers := make([]PeerId, 0, len(s.peers))
	for p, a := range s.peers {
		if a == area && p != skip {
			peers = append(peers, p)
		}
	}
	s.mu.RUnlock()

	for _, p := range peers {
		if err := s.transport.SendUpdates(p, area, []state.KvValue{v}); err != nil {
			// spec.md §4.3: "Flood to an unreachable peer is dropped;
			// the next successful sync will close the gap."
			s.log.Debug("kvstore flood to peer failed, dropping", "peer", p, "area", area, "err", err)
			s.metrics.Counter("kvstore.flood.dropped").Add(1)
		}
	}
}

// RegisterPeer associates a transport session with an area and kicks
// off full-sync, spec.md §4.3 ("On new peer UP: one side sends a
// summary").
func (s *Store) RegisterPeer(peer PeerId, area state.AreaId, initiator bool) {
	s.mu.Lock()
	s.peers[peer] = area
	s.mu.Unlock()

	if !initiator {
		return
	}
	entries := make(map[string]summaryFingerprint)
	for _, v := range s.Snapshot(area) {
		entries[v.Key] = summaryFingerprint{Version: v.Version, Hash: v.Hash}
	}
	if err := s.transport.SendSummary(peer, area, entries); err != nil {
		s.log.Warn("kvstore full-sync summary send failed", "peer", peer, "area", area, "err", err)
	}
}

// UnregisterPeer drops bookkeeping for a peer session. The peer itself
// is not removed from configuration. Neither this package nor
// TcpTransport redials a dropped session; a new session starts only
// when Connect is called again or the peer dials in.
func (s *Store) UnregisterPeer(peer PeerId) {
	s.mu.Lock()
	delete(s.peers, peer)
	s.mu.Unlock()
	s.synced.Remove(peer)
}

// ReceiveSummary answers a peer's full-sync summary with the delta
// they are missing or hold stale, spec.md §4.3.
func (s *Store) ReceiveSummary(peer PeerId, area state.AreaId, remote map[string]summaryFingerprint) {
	local := s.Snapshot(area)
	localByKey := make(map[string]state.KvValue, len(local))
	for _, v := range local {
		localByKey[v.Key] = v
	}

	var delta []state.KvValue
	for key, v := range localByKey {
		rv, ok := remote[key]
		if !ok || rv.Version < v.Version || (rv.Version == v.Version && rv.Hash != v.Hash) {
			delta = append(delta, v)
		}
	}
	if len(delta) > 0 {
		if err := s.transport.SendDelta(peer, area, delta); err != nil {
			s.log.Warn("kvstore full-sync delta send failed", "peer", peer, "area", area, "err", err)
			return
		}
	}
	s.synced.Add(peer, struct{}{})
}

// ReceiveDelta merges every value in a full-sync delta reply.
func (s *Store) ReceiveDelta(peer PeerId, area state.AreaId, updates []state.KvValue) {
	for _, v := range updates {
		s.Merge(area, peer, v)
	}
}

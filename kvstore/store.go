// Package kvstore implements the eventually-consistent replicated map
// of spec.md §4.3: per-area Set/Merge with the deterministic merge
// order of spec.md §3, TTL expiry, flood control with dampening, and
// full-sync on new-peer-UP. It is grounded on the teacher's
// nylon_distribution.go (a single mutable table of signed config
// bundles gossipped between peers) generalized from "one config
// value" to "an arbitrary keyed map with per-key versions" — the
// gossip idiom (flood on local win, merge on receipt) is unchanged; a
// flood that fails to reach a peer is dropped, not retried.
package kvstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/state"
)

// PeerId names a KvStore peer session, distinct from NodeId because a
// node may be reachable over more than one transport session during
// reconnection races.
type PeerId string

// Transport is the boundary kvstore uses to talk to peers; it is
// satisfied by the TCP peer link in this package and by a fake in
// tests. Grounded on the teacher's TCPCtlLink (impl/ctl_tcp_link.go).
type Transport interface {
	SendUpdates(peer PeerId, area state.AreaId, updates []state.KvValue) error
	SendSummary(peer PeerId, area state.AreaId, entries map[string]summaryFingerprint) error
	SendDelta(peer PeerId, area state.AreaId, updates []state.KvValue) error
}

type summaryFingerprint struct {
	Version uint64
	Hash    uint64
}

// areaTable is the per-area replicated map plus its flood-control
// state.
type areaTable struct {
	mu     sync.RWMutex
	values map[string]state.KvValue
	ttl    *ttlcache.Cache[string, struct{}]

	limiter *rate.Limiter

	// dampening tracks per-key update frequency; a key updated faster
	// than the fixed dampingThreshold enters exponential backoff,
	// spec.md §4.3.
	dampening map[string]*dampState
}

type dampState struct {
	backoff  time.Duration
	until    time.Time
	lastSeen time.Time
}

// Store is the node's full KvStore, one areaTable per configured area.
type Store struct {
	log     *slog.Logger
	metrics *metrics.Sink
	sched   *state.Scheduler
	cfg     state.KvStoreConfig
	nodeId  state.NodeId

	mu     sync.RWMutex
	areas  map[state.AreaId]*areaTable
	peers  map[PeerId]state.AreaId // which area each peer session serves
	synced *lru.Cache[PeerId, struct{}]

	transport Transport

	onUpdate func(area state.AreaId, v state.KvValue)
}

// New constructs an empty Store. onUpdate is invoked (on the store's
// scheduler) whenever a key wins the merge order locally, so
// LinkMonitor/PrefixManager/Decision can react without polling.
func New(sched *state.Scheduler, sink *metrics.Sink, log *slog.Logger, cfg state.KvStoreConfig, nodeId state.NodeId, transport Transport, onUpdate func(state.AreaId, state.KvValue)) *Store {
	synced, _ := lru.New[PeerId, struct{}](1024)
	return &Store{
		log:       log,
		metrics:   sink,
		sched:     sched,
		cfg:       cfg,
		nodeId:    nodeId,
		areas:     make(map[state.AreaId]*areaTable),
		peers:     make(map[PeerId]state.AreaId),
		synced:    synced,
		transport: transport,
		onUpdate:  onUpdate,
	}
}

func (s *Store) area(area state.AreaId) *areaTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.areas[area]
	if ok {
		return t
	}
	rps := s.cfg.FloodMsgPerSec
	if rps <= 0 {
		rps = 50
	}
	burst := s.cfg.FloodMsgBurstSize
	if burst <= 0 {
		burst = 10
	}
	t = &areaTable{
		values:    make(map[string]state.KvValue),
		ttl:       ttlcache.New[string, struct{}](ttlcache.WithDisableTouchOnHit[string, struct{}]()),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		dampening: make(map[string]*dampState),
	}
	t.ttl.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if v, ok := t.values[item.Key()]; ok && v.Expired(time.Now()) {
			delete(t.values, item.Key())
		}
	})
	go t.ttl.Start()
	s.areas[area] = t
	return t
}

// Set publishes a locally originated value. version==0 means "compute
// automatically", spec.md §4.3: max(existing.version,1) plus 1 if the
// bytes changed.
func (s *Store) Set(area state.AreaId, key string, value []byte, version uint64, ttl time.Duration) {
	t := s.area(area)
	t.mu.Lock()
	existing, had := t.values[key]
	hash := state.HashValue(value)
	if version == 0 {
		v := uint64(1)
		if had {
			v = existing.Version
			if v < 1 {
				v = 1
			}
			if existing.Hash != hash {
				v++
			}
		}
		version = v
	}
	ttlVersion := uint32(0)
	if had {
		ttlVersion = existing.TtlVersion
		if existing.Version == version && existing.Hash == hash {
			// Re-publishing identical content: bump ttl_version so this
			// still refreshes the entry's TTL even though nothing else
			// changed, spec.md §3/§4.3.
			ttlVersion++
		}
	}
	candidate := state.KvValue{
		Key:          key,
		OriginatorId: s.nodeId,
		Version:      version,
		Value:        value,
		Hash:         hash,
		TtlVersion:   ttlVersion,
		ExpiresAt:    time.Now().Add(ttl),
	}
	var cur *state.KvValue
	if had {
		cur = &existing
	}
	changed := state.Wins(cur, candidate)
	refreshed := !changed && state.Refreshes(cur, candidate)
	if changed || refreshed {
		t.values[key] = candidate
		t.ttl.Set(key, struct{}{}, ttl)
	}
	t.mu.Unlock()

	switch {
	case changed:
		s.log.Debug("kvstore local set won merge", "area", area, "key", key, "version", version)
		s.floodOne(area, candidate)
		if s.onUpdate != nil {
			s.sched.Dispatch(func() { s.onUpdate(area, candidate) })
		}
	case refreshed:
		s.log.Debug("kvstore local set refreshed ttl", "area", area, "key", key, "ttl_version", ttlVersion)
		s.floodOne(area, candidate)
	}
}

// Merge applies an inbound update from a peer or from a full-sync
// delta identically to a local set, spec.md §4.3.
func (s *Store) Merge(area state.AreaId, from PeerId, v state.KvValue) {
	t := s.area(area)
	t.mu.Lock()
	existing, had := t.values[v.Key]
	var cur *state.KvValue
	if had {
		cur = &existing
	}
	changed := state.Wins(cur, v)
	refreshed := false
	if !changed {
		if !state.Refreshes(cur, v) {
			t.mu.Unlock()
			return
		}
		refreshed = true
		// Either side may have started the fresh TTL countdown; keep
		// whichever expiry is further out.
		if existing.ExpiresAt.After(v.ExpiresAt) {
			v.ExpiresAt = existing.ExpiresAt
		}
	}
	t.values[v.Key] = v
	t.ttl.Set(v.Key, struct{}{}, time.Until(v.ExpiresAt))
	t.mu.Unlock()

	switch {
	case changed:
		s.log.Debug("kvstore merged remote update", "area", area, "key", v.Key, "from", from, "version", v.Version)
		s.floodExcept(area, v, from)
		if s.onUpdate != nil {
			s.sched.Dispatch(func() { s.onUpdate(area, v) })
		}
	case refreshed:
		s.log.Debug("kvstore merged remote ttl refresh", "area", area, "key", v.Key, "from", from, "ttl_version", v.TtlVersion)
		s.floodExcept(area, v, from)
	}
}

// Get returns the winning value for key, if present and unexpired.
func (s *Store) Get(area state.AreaId, key string) (state.KvValue, bool) {
	t := s.area(area)
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key]
	if !ok || v.Expired(time.Now()) {
		return state.KvValue{}, false
	}
	return v, true
}

// Snapshot returns every unexpired value in area, sorted by key so
// callers get deterministic iteration, spec.md §4.6's determinism
// requirement flows from here.
func (s *Store) Snapshot(area state.AreaId) []state.KvValue {
	t := s.area(area)
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := time.Now()
	out := make([]state.KvValue, 0, len(t.values))
	for _, v := range t.values {
		if !v.Expired(now) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Package prefixmgr owns the node's locally originated prefixes,
// spec.md §4.5: static config, LinkMonitor redistribution, BGP
// translation, VIP service, and a runtime API, deduplicated by
// priority and published per-area into KvStore. It has no direct
// teacher analogue; grounded on the teacher's config-driven,
// single-owner-per-datum idiom (state/config.go's CentralCfg) and on
// digineo/go-ping for the health-check source that gates whether a
// prefix is currently eligible for advertisement.
package prefixmgr

import (
	"log/slog"
	"slices"

	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/state"
)

// sourcePriority ranks PrefixType for the "highest-priority type wins"
// dedup rule, spec.md §4.5. Lower index = higher priority.
var sourcePriority = []state.PrefixType{
	state.PrefixVip,
	state.PrefixStatic,
	state.PrefixConfig,
	state.PrefixBgp,
	state.PrefixLoopback,
	state.PrefixRib,
	state.PrefixPrependLabel,
}

func priorityRank(t state.PrefixType) int {
	for i, p := range sourcePriority {
		if p == t {
			return i
		}
	}
	return len(sourcePriority)
}

// Source names one input feeding PrefixManager, spec.md §4.5.
type Source string

const (
	SourceStaticConfig     Source = "static_config"
	SourceLinkMonitor      Source = "link_monitor"
	SourceBgpTranslation   Source = "bgp_translation"
	SourceVipService       Source = "vip_service"
	SourceRuntimeApi       Source = "runtime_api"
)

// Component owns the per-area merged PrefixDb.
type Component struct {
	sched   *state.Scheduler
	log     *slog.Logger
	metrics *metrics.Sink
	nodeId  state.NodeId

	// bySource[area][source] holds what that source currently wants
	// advertised; the merged PrefixDb is recomputed from all sources
	// whenever any one changes, so retraction is immediate, spec.md
	// §4.5 ("Removal is immediate on source retraction").
	bySource map[state.AreaId]map[Source][]state.PrefixEntry
	version  map[state.AreaId]uint64

	// lastEntries holds the entries produced by the previous recompute
	// per area, so a recompute triggered by a source change that
	// doesn't move the winning entry for any prefix does not bump
	// version or republish, spec.md §4.5 ("removal is immediate on
	// source retraction" is the only specified republish trigger).
	lastEntries map[state.AreaId][]state.PrefixEntry

	health HealthChecker

	publish func(area state.AreaId, db state.PrefixDb)
}

func NewComponent(sched *state.Scheduler, log *slog.Logger, sink *metrics.Sink, nodeId state.NodeId, health HealthChecker, publish func(state.AreaId, state.PrefixDb)) *Component {
	return &Component{
		sched:    sched,
		log:      log,
		metrics:  sink,
		nodeId:   nodeId,
		bySource:    make(map[state.AreaId]map[Source][]state.PrefixEntry),
		version:     make(map[state.AreaId]uint64),
		lastEntries: make(map[state.AreaId][]state.PrefixEntry),
		health:   health,
		publish:  publish,
	}
}

// SetSourcePrefixes replaces the full set of prefixes one source
// contributes for one area. An empty slice retracts everything that
// source previously advertised there.
func (c *Component) SetSourcePrefixes(area state.AreaId, src Source, entries []state.PrefixEntry) {
	c.sched.Dispatch(func() {
		table, ok := c.bySource[area]
		if !ok {
			table = make(map[Source][]state.PrefixEntry)
			c.bySource[area] = table
		}
		table[src] = entries
		c.recompute(area)
	})
}

func (c *Component) recompute(area state.AreaId) {
	byPrefix := make(map[string]state.PrefixEntry)
	sources := make([]Source, 0, len(c.bySource[area]))
	for s := range c.bySource[area] {
		sources = append(sources, s)
	}
	slices.Sort(sources)

	for _, src := range sources {
		for _, e := range c.bySource[area][src] {
			if c.health != nil && !c.health.Healthy(e) {
				continue
			}
			key := e.Prefix.String()
			existing, had := byPrefix[key]
			if !had || priorityRank(e.Type) < priorityRank(existing.Type) {
				byPrefix[key] = e
				continue
			}
			if priorityRank(e.Type) == priorityRank(existing.Type) {
				byPrefix[key] = mergeMetadata(existing, e)
			}
		}
	}

	keys := make([]string, 0, len(byPrefix))
	for k := range byPrefix {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	entries := make([]state.PrefixEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, byPrefix[k])
	}

	if sameEntries(c.lastEntries[area], entries) {
		return
	}
	c.lastEntries[area] = entries
	c.version[area]++
	db := state.PrefixDb{
		NodeId:   c.nodeId,
		Area:     area,
		Version:  c.version[area],
		Prefixes: entries,
	}
	if c.publish != nil {
		c.publish(area, db)
	}
}

// sameEntries reports whether two already-sorted-by-prefix entry
// slices are identical, including tags, so a recompute that changes
// nothing observable doesn't force a version bump.
func sameEntries(a, b []state.PrefixEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !samePrefixEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}

func samePrefixEntry(a, b state.PrefixEntry) bool {
	if a.Prefix != b.Prefix || a.Type != b.Type || a.ForwardingType != b.ForwardingType ||
		a.ForwardingAlgo != b.ForwardingAlgo || a.MinNexthops != b.MinNexthops ||
		a.Metrics != b.Metrics || a.Area != b.Area || a.EphemeralLabel != b.EphemeralLabel {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for i := range a.Tags {
		if a.Tags[i] != b.Tags[i] {
			return false
		}
	}
	return true
}

// mergeMetadata combines two equal-priority entries for the same
// prefix: min of min_nexthops, union of tags, spec.md §4.5.
func mergeMetadata(a, b state.PrefixEntry) state.PrefixEntry {
	out := a
	if b.MinNexthops > 0 && (out.MinNexthops == 0 || b.MinNexthops < out.MinNexthops) {
		out.MinNexthops = b.MinNexthops
	}
	tagSet := make(map[string]bool)
	for _, t := range out.Tags {
		tagSet[t] = true
	}
	for _, t := range b.Tags {
		if !tagSet[t] {
			out.Tags = append(out.Tags, t)
			tagSet[t] = true
		}
	}
	slices.Sort(out.Tags)
	return out
}

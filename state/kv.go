package state

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// KvValue is one KvStore entry, spec.md §3. Value is opaque to the
// KvStore itself; only originators interpret it (as an AdjacencyDb,
// PrefixDb, etc, once serialized through the protocol package).
type KvValue struct {
	Key          string
	OriginatorId NodeId
	Version      uint64
	Value        []byte
	Hash         uint64
	TtlVersion   uint32
	ExpiresAt    time.Time
}

// HashValue computes the value_hash used in the merge order, spec.md §3.
func HashValue(value []byte) uint64 {
	return xxhash.Sum64(value)
}

// Expired reports whether the value's TTL has elapsed as of now.
// "now >= expiry" makes the value unobservable, per spec.md §8.
func (v *KvValue) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// Wins reports whether candidate should replace current under the
// merge order of spec.md §3: higher version wins; ties break by
// lexicographically greater originator_id; further ties by greater
// value_hash. A nil current always loses.
func Wins(current *KvValue, candidate KvValue) bool {
	if current == nil {
		return true
	}
	if candidate.Version != current.Version {
		return candidate.Version > current.Version
	}
	if candidate.OriginatorId != current.OriginatorId {
		return candidate.OriginatorId > current.OriginatorId
	}
	return candidate.Hash > current.Hash
}

// Same reports whether two values are identical under the merge order
// (same version, originator and hash) — used to detect TTL-refresh-only
// updates, spec.md §3's ttl_version mechanism.
func Same(a, b KvValue) bool {
	return a.Version == b.Version && a.OriginatorId == b.OriginatorId && a.Hash == b.Hash
}

// Refreshes reports whether candidate is a TTL-only refresh of
// current: identical version/originator/hash (so Wins would report a
// tie, not a win) but a strictly greater ttl_version, spec.md §3 ("
// ttl_version advances independently to refresh TTL without rewriting
// value") and §4.3 ("a node ... refreshes by bumping ttl_version and
// re-flooding; value bytes do not change"). A nil current is never a
// refresh — there is nothing to refresh.
func Refreshes(current *KvValue, candidate KvValue) bool {
	if current == nil {
		return false
	}
	return Same(*current, candidate) && candidate.TtlVersion > current.TtlVersion
}

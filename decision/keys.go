package decision

import (
	"encoding/json"
	"strings"

	"github.com/openr/openr-go/state"
)

// KvStore values are opaque bytes per spec.md §3 ("KvStore value:
// opaque bytes plus {key, ...}"); only originators and Decision
// interpret them. AdjacencyDb/PrefixDb encoding is internal to this
// node's own component boundary rather than an inter-node wire
// message (those are Hello/Handshake/Heartbeat/Update, already
// protowire-encoded in package protocol), so plain encoding/json is
// used here rather than hand-rolling a second protobuf schema for a
// payload the wire format treats as opaque anyway.

const (
	adjacencyKeyPrefix = "adj:"
	prefixKeyPrefix    = "prefix:"
)

// AdjacencyKey is the KvStore key a node publishes its AdjacencyDb
// under, spec.md §4.4.
func AdjacencyKey(node state.NodeId) string {
	return adjacencyKeyPrefix + string(node)
}

// PrefixKey is the KvStore key a node publishes its PrefixDb under,
// spec.md §4.5.
func PrefixKey(node state.NodeId) string {
	return prefixKeyPrefix + string(node)
}

// EncodeAdjacencyDb serializes an AdjacencyDb for KvStore.Set.
func EncodeAdjacencyDb(db state.AdjacencyDb) []byte {
	b, _ := json.Marshal(db)
	return b
}

// EncodePrefixDb serializes a PrefixDb for KvStore.Set.
func EncodePrefixDb(db state.PrefixDb) []byte {
	b, _ := json.Marshal(db)
	return b
}

// DecodeAdjacencyDb decodes v as an AdjacencyDb iff its key matches the
// adjacency key convention.
func DecodeAdjacencyDb(v state.KvValue) (state.AdjacencyDb, bool) {
	if !strings.HasPrefix(v.Key, adjacencyKeyPrefix) {
		return state.AdjacencyDb{}, false
	}
	var db state.AdjacencyDb
	if err := json.Unmarshal(v.Value, &db); err != nil {
		return state.AdjacencyDb{}, false
	}
	return db, true
}

// DecodePrefixDb decodes v as a PrefixDb iff its key matches the
// prefix key convention.
func DecodePrefixDb(v state.KvValue) (state.PrefixDb, bool) {
	if !strings.HasPrefix(v.Key, prefixKeyPrefix) {
		return state.PrefixDb{}, false
	}
	var db state.PrefixDb
	if err := json.Unmarshal(v.Value, &db); err != nil {
		return state.PrefixDb{}, false
	}
	return db, true
}

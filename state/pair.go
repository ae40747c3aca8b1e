package state

// Pair bundles two values without giving them field names of their own.
// Kept from the teacher's idiom for small ad-hoc tuples (graph edges,
// dedup keys) where a named struct would only add noise.
type Pair[V1, V2 any] struct {
	V1 V1
	V2 V2
}

// Triple is Pair with one more slot.
type Triple[V1, V2, V3 any] struct {
	V1 V1
	V2 V2
	V3 V3
}

// Package state implements the read-only value tree served by the state
// server and the structured paths used to address its leaves.
//
// A Store is a nested mapping whose internal nodes are keyed by string
// (Map) or non-negative integer (List) and whose leaves are tagged values:
// scalars (string, int64, float64, bool) or multi-dimensional arrays.
// The tree is built once by the hosting process before the server starts
// and is never mutated afterwards, so concurrent lookups need no locking.
//
// Paths are written textually as `base[seg1][seg2]...` and parsed into a
// Path value exactly once; length and segment well-formedness are checked
// at construction time, not at every lookup.
package state

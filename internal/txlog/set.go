package txlog

import "sort"

// TransactionSet is a set of transaction IDs. Membership, not count, is what
// the reconciler cares about, so duplicates collapse on insert.
type TransactionSet map[string]struct{}

// NewTransactionSet builds a set from the given IDs
func NewTransactionSet(ids ...string) TransactionSet {
	set := make(TransactionSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Add inserts id into the set
func (s TransactionSet) Add(id string) {
	s[id] = struct{}{}
}

// Contains reports whether id is a member
func (s TransactionSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of distinct members
func (s TransactionSet) Len() int {
	return len(s)
}

// Difference returns the members of s that are not in other
func (s TransactionSet) Difference(other TransactionSet) TransactionSet {
	out := make(TransactionSet)
	for id := range s {
		if !other.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Equal reports set equality (same members, not merely the same size)
func (s TransactionSet) Equal(other TransactionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

// Sorted returns the members in lexical order
func (s TransactionSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GeoSet is the set of partition identifiers expected to produce transactions
type GeoSet map[int64]struct{}

// NewGeoSet builds a set from the given geo IDs
func NewGeoSet(ids ...int64) GeoSet {
	set := make(GeoSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Len returns the number of distinct geos
func (s GeoSet) Len() int {
	return len(s)
}

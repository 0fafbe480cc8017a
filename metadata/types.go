package metadata

import "strings"

// FetchMode controls when an association target is loaded.
type FetchMode int

const (
	FetchLazy FetchMode = iota
	FetchEager
)

// Cardinality of an association.
type Cardinality int

const (
	ManyToOne Cardinality = iota
	OneToOne
	OneToMany
)

// IsToOne reports whether the association references a single target row
// through a join column on the owner table.
func (c Cardinality) IsToOne() bool {
	return c == ManyToOne || c == OneToOne
}

func (c Cardinality) String() string {
	switch c {
	case ManyToOne:
		return "many-to-one"
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	}
	return "unknown"
}

// CascadeType is a bitmask of the operations propagated along an association.
type CascadeType uint8

const (
	CascadePersist CascadeType = 1 << iota
	CascadeMerge
	CascadeRemove
	CascadeRefresh
	CascadeDetach

	CascadeNone CascadeType = 0
	CascadeAll              = CascadePersist | CascadeMerge | CascadeRemove | CascadeRefresh | CascadeDetach
)

// Has reports whether every bit of op is set.
func (c CascadeType) Has(op CascadeType) bool {
	return op != 0 && c&op == op
}

func (c CascadeType) String() string {
	if c == CascadeNone {
		return "none"
	}
	if c == CascadeAll {
		return "all"
	}
	var parts []string
	names := []struct {
		bit  CascadeType
		name string
	}{
		{CascadePersist, "persist"},
		{CascadeMerge, "merge"},
		{CascadeRemove, "remove"},
		{CascadeRefresh, "refresh"},
		{CascadeDetach, "detach"},
	}
	for _, n := range names {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// CollectionKind selects the ordering semantics of a one-to-many collection.
type CollectionKind int

const (
	// CollectionBag keeps insertion order and allows duplicates.
	CollectionBag CollectionKind = iota
	// CollectionSet deduplicates by entity identity and has no order.
	CollectionSet
	// CollectionList is materialized in order column order.
	CollectionList
	// CollectionMap is keyed by the map key column.
	CollectionMap
)

func (k CollectionKind) String() string {
	switch k {
	case CollectionBag:
		return "bag"
	case CollectionSet:
		return "set"
	case CollectionList:
		return "list"
	case CollectionMap:
		return "map"
	}
	return "unknown"
}

// MapOrder is the iteration order of a map collection.
type MapOrder int

const (
	KeyOrder MapOrder = iota
	InsertionOrder
)

// CacheStrategy is the second-level cache concurrency strategy of an entity region.
type CacheStrategy int

const (
	CacheNone CacheStrategy = iota
	CacheReadOnly
	CacheNonstrictReadWrite
	CacheReadWrite
	// CacheTransactional requires an external transactional cache provider
	// and is rejected by validation.
	CacheTransactional
)

func (s CacheStrategy) String() string {
	switch s {
	case CacheNone:
		return "none"
	case CacheReadOnly:
		return "read-only"
	case CacheNonstrictReadWrite:
		return "nonstrict-read-write"
	case CacheReadWrite:
		return "read-write"
	case CacheTransactional:
		return "transactional"
	}
	return "unknown"
}

// VersionKind selects the optimistic lock token of an entity.
type VersionKind int

const (
	VersionNone VersionKind = iota
	VersionCounter
	VersionTimestamp
)

// IDGenerator selects how primary keys of new entities are produced.
type IDGenerator int

const (
	// IDAssigned expects the application to set the id before persist.
	IDAssigned IDGenerator = iota
	// IDSequence draws int64 values from the store sequencer.
	IDSequence
	// IDUUID generates random UUID strings.
	IDUUID
)

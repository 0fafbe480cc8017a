// Package metadata describes how entity types map onto tables.
//
// Metadata is consumed, never parsed: callers declare Entity values in Go and
// register them with a Registry, which applies defaults (table names, id and
// version columns, join columns) and validates each declaration and the
// references between them.
//
//	registry, err := metadata.NewRegistry(
//		&metadata.Entity{
//			Name:        "User",
//			IDGenerator: metadata.IDSequence,
//			Fields:      []string{"username", "email"},
//			NaturalID:   []string{"username"},
//			Cache:       metadata.CacheNonstrictReadWrite,
//		},
//		&metadata.Entity{
//			Name:        "Item",
//			IDGenerator: metadata.IDSequence,
//			Fields:      []string{"name"},
//			Version:     metadata.VersionCounter,
//			Cache:       metadata.CacheReadWrite,
//			Associations: []metadata.Association{
//				{Name: "seller", Target: "User", Cardinality: metadata.ManyToOne},
//			},
//		},
//	)
//
// Transactional cache strategies need an external provider and are rejected.
package metadata

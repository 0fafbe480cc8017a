package session

import "github.com/goliatone/go-persist/metadata"

// countryEntities is a read-only reference table with assigned ids.
func countryEntities() []*metadata.Entity {
	return []*metadata.Entity{{
		Name:   "Country",
		Fields: []string{"name"},
		Cache:  metadata.CacheReadOnly,
	}}
}

// playlistEntities maps an ordered unidirectional list with orphan removal.
func playlistEntities() []*metadata.Entity {
	return []*metadata.Entity{
		{
			Name:        "Playlist",
			IDGenerator: metadata.IDSequence,
			Fields:      []string{"name"},
			Version:     metadata.VersionCounter,
			Associations: []metadata.Association{{
				Name:          "tracks",
				Target:        "Track",
				Cardinality:   metadata.OneToMany,
				JoinColumn:    "playlist_id",
				Kind:          metadata.CollectionList,
				OrderColumn:   "position",
				Cascade:       metadata.CascadeAll,
				OrphanRemoval: true,
			}},
		},
		{
			Name:        "Track",
			IDGenerator: metadata.IDSequence,
			Fields:      []string{"title"},
		},
	}
}

// catalogEntities maps a key ordered map collection and a set.
func catalogEntities() []*metadata.Entity {
	return []*metadata.Entity{
		{
			Name:        "Catalog",
			IDGenerator: metadata.IDSequence,
			Fields:      []string{"name"},
			Cache:       metadata.CacheReadWrite,
			Associations: []metadata.Association{
				{
					Name:         "products",
					Target:       "Product",
					Cardinality:  metadata.OneToMany,
					JoinColumn:   "catalog_id",
					Kind:         metadata.CollectionMap,
					MapKeyColumn: "code",
					MapOrder:     metadata.KeyOrder,
					Cascade:      metadata.CascadeAll,
					Cached:       true,
				},
				{
					Name:        "tags",
					Target:      "Tag",
					Cardinality: metadata.OneToMany,
					JoinColumn:  "catalog_id",
					Kind:        metadata.CollectionSet,
					Cascade:     metadata.CascadePersist,
				},
			},
		},
		{
			Name:        "Product",
			IDGenerator: metadata.IDSequence,
			Fields:      []string{"code", "label"},
			Cache:       metadata.CacheReadWrite,
		},
		{
			Name:        "Tag",
			IDGenerator: metadata.IDUUID,
			Fields:      []string{"label"},
		},
	}
}

// accountEntities has a mutable natural id and timestamp versions.
func accountEntities() []*metadata.Entity {
	return []*metadata.Entity{{
		Name:                   "Account",
		IDGenerator:            metadata.IDSequence,
		Fields:                 []string{"handle", "email", "last_seen"},
		NaturalID:              []string{"handle"},
		MutableNaturalID:       true,
		Version:                metadata.VersionTimestamp,
		OptimisticLockExcluded: []string{"last_seen"},
		Cache:                  metadata.CacheReadWrite,
	}}
}

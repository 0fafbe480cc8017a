package testsupport

import (
	"fmt"
	"testing"

	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/store"
)

// AuctionEntities returns fresh metadata for the auction model used across
// the test suites: users sell items and items collect bids.
//
//   - User is cached nonstrict read-write and has the natural id username.
//   - Item is versioned, cached read-write and owns a cached bids collection.
//   - Bid is immutable, cached read-only and bumps its item's version.
func AuctionEntities() []*metadata.Entity {
	return []*metadata.Entity{
		{
			Name:        "User",
			IDGenerator: metadata.IDSequence,
			Fields:      []string{"username", "email"},
			NaturalID:   []string{"username"},
			Cache:       metadata.CacheNonstrictReadWrite,
		},
		{
			Name:        "Item",
			IDGenerator: metadata.IDSequence,
			Fields:      []string{"name", "initial_price"},
			Version:     metadata.VersionCounter,
			Cache:       metadata.CacheReadWrite,
			Associations: []metadata.Association{
				{Name: "seller", Target: "User", Cardinality: metadata.ManyToOne},
				{
					Name:        "bids",
					Target:      "Bid",
					Cardinality: metadata.OneToMany,
					JoinColumn:  "item_id",
					MappedBy:    "item",
					Kind:        metadata.CollectionBag,
					Cascade:     metadata.CascadePersist | metadata.CascadeRemove,
					Cached:      true,
				},
			},
		},
		{
			Name:        "Bid",
			IDGenerator: metadata.IDSequence,
			Fields:      []string{"amount"},
			Immutable:   true,
			Cache:       metadata.CacheReadOnly,
			Associations: []metadata.Association{
				{Name: "item", Target: "Item", Cardinality: metadata.ManyToOne, ForceVersionIncrement: true},
			},
		},
	}
}

// AuctionRegistry registers AuctionEntities and fails the test on error.
func AuctionRegistry(t *testing.T) *metadata.Registry {
	t.Helper()

	reg, err := metadata.NewRegistry(AuctionEntities()...)
	if err != nil {
		t.Fatalf("failed to register auction entities: %v", err)
	}
	return reg
}

// Seeder accepts committed rows, as memstore.Store does.
type Seeder interface {
	Seed(table string, rows ...store.Row)
}

// SeedAuction writes n users and n items, item i sold by user i, plus
// bidsPerItem bids per item. Ids start at 1 in every table.
func SeedAuction(s Seeder, n, bidsPerItem int) {
	bidID := int64(0)
	for i := int64(1); i <= int64(n); i++ {
		s.Seed("users", store.Row{"id": i, "username": UserName(i), "email": UserName(i) + "@example.com"})
		s.Seed("items", store.Row{"id": i, "name": "item", "initial_price": 10.0, "version": int64(0), "seller_id": i})
		for j := 0; j < bidsPerItem; j++ {
			bidID++
			s.Seed("bids", store.Row{"id": bidID, "amount": float64(11 + j), "item_id": i})
		}
	}
}

// UserName is the username SeedAuction gives user id.
func UserName(id int64) string {
	return fmt.Sprintf("user%d", id)
}

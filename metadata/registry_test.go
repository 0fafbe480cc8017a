package metadata

import (
	"testing"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auctionEntities() []*Entity {
	return []*Entity{
		{
			Name:        "User",
			IDGenerator: IDSequence,
			Fields:      []string{"username", "email"},
			NaturalID:   []string{"username"},
			Cache:       CacheNonstrictReadWrite,
		},
		{
			Name:        "Item",
			IDGenerator: IDSequence,
			Fields:      []string{"name", "initial_price"},
			Version:     VersionCounter,
			Cache:       CacheReadWrite,
			Associations: []Association{
				{Name: "seller", Target: "User", Cardinality: ManyToOne},
				{Name: "bids", Target: "Bid", Cardinality: OneToMany, JoinColumn: "item_id", MappedBy: "item", Cached: true},
			},
		},
		{
			Name:        "Bid",
			IDGenerator: IDSequence,
			Fields:      []string{"amount"},
			Immutable:   true,
			Cache:       CacheReadOnly,
			Associations: []Association{
				{Name: "item", Target: "Item", Cardinality: ManyToOne, ForceVersionIncrement: true},
			},
		},
	}
}

func TestNewRegistry_AppliesDefaults(t *testing.T) {
	reg, err := NewRegistry(auctionEntities()...)
	require.NoError(t, err)

	item := reg.MustEntity("Item")
	assert.Equal(t, "items", item.Table)
	assert.Equal(t, "id", item.IDColumn)
	assert.Equal(t, "version", item.VersionColumn)

	seller, ok := item.Association("seller")
	require.True(t, ok)
	assert.Equal(t, "seller_id", seller.JoinColumn)

	bid, ok := reg.ByTable("bids")
	require.True(t, ok)
	assert.Equal(t, "Bid", bid.Name)

	names := []string{}
	for _, e := range reg.Entities() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Bid", "Item", "User"}, names)
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]*Entity) []*Entity
	}{
		{
			name: "unknown target",
			mutate: func(es []*Entity) []*Entity {
				es[1].Associations[0].Target = "Account"
				return es
			},
		},
		{
			name: "transactional strategy",
			mutate: func(es []*Entity) []*Entity {
				es[0].Cache = CacheTransactional
				return es
			},
		},
		{
			name: "list without order column",
			mutate: func(es []*Entity) []*Entity {
				es[1].Associations[1].Kind = CollectionList
				return es
			},
		},
		{
			name: "natural id not a field",
			mutate: func(es []*Entity) []*Entity {
				es[0].NaturalID = []string{"handle"}
				return es
			},
		},
		{
			name: "mapped by with another column",
			mutate: func(es []*Entity) []*Entity {
				es[1].Associations[1].JoinColumn = "auction_id"
				return es
			},
		},
		{
			name: "field shadows version",
			mutate: func(es []*Entity) []*Entity {
				es[1].Fields = append(es[1].Fields, "version")
				return es
			},
		},
		{
			name: "orphan removal on many-to-one",
			mutate: func(es []*Entity) []*Entity {
				es[2].Associations[0].OrphanRemoval = true
				return es
			},
		},
		{
			name: "duplicate entity",
			mutate: func(es []*Entity) []*Entity {
				return append(es, &Entity{Name: "User", Table: "accounts", Fields: []string{"x"}})
			},
		},
		{
			name: "shared table",
			mutate: func(es []*Entity) []*Entity {
				return append(es, &Entity{Name: "Member", Table: "users", Fields: []string{"x"}})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.mutate(auctionEntities())...)
			require.Error(t, err)

			var perr *errors.Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, TextCodeInvalidMetadata, perr.TextCode)
		})
	}
}

func TestRegistry_UnknownEntity(t *testing.T) {
	reg, err := NewRegistry(auctionEntities()...)
	require.NoError(t, err)

	_, err = reg.Entity("Auction")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryBadInput))
	assert.Panics(t, func() { reg.MustEntity("Auction") })
}

func TestEntity_AssociationViews(t *testing.T) {
	reg, err := NewRegistry(auctionEntities()...)
	require.NoError(t, err)
	item := reg.MustEntity("Item")

	require.Len(t, item.ToOne(), 1)
	require.Len(t, item.Collections(), 1)
	assert.Equal(t, "Item.bids", item.Role(item.Collections()[0]))
	assert.Equal(t, "User##NaturalId", reg.MustEntity("User").NaturalIDRegion())

	a, ok := item.ToOneByColumn("seller_id")
	require.True(t, ok)
	assert.Equal(t, "seller", a.Name)

	assert.Equal(t, 25, item.Collections()[0].EffectiveBatchSize(25))
	assert.Equal(t, 1, item.Collections()[0].EffectiveBatchSize(0))
}

func TestCascadeType(t *testing.T) {
	c := CascadePersist | CascadeRemove
	assert.True(t, c.Has(CascadePersist))
	assert.False(t, c.Has(CascadeMerge))
	assert.False(t, c.Has(CascadeNone))
	assert.True(t, CascadeAll.Has(CascadeDetach))
	assert.Equal(t, "persist|remove", c.String())
	assert.Equal(t, "all", CascadeAll.String())
}

func TestTableName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User", "users"},
		{"Item", "items"},
		{"LineItem", "line_items"},
		{"Category", "categories"},
		{"HTTPRoute", "http_routes"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, TableName(tt.in))
		})
	}
}

func TestRegistry_CollectionsOf(t *testing.T) {
	reg, err := NewRegistry(auctionEntities()...)
	require.NoError(t, err)

	inverse := reg.CollectionsOf(reg.MustEntity("Bid"))
	require.Len(t, inverse, 1)
	assert.Equal(t, "Item", inverse[0].Owner.Name)
	assert.Equal(t, "bids", inverse[0].Association.Name)
	assert.Equal(t, "item_id", inverse[0].Association.JoinColumn)

	assert.Empty(t, reg.CollectionsOf(reg.MustEntity("User")))
}

func TestRegistry_FetchProfiles(t *testing.T) {
	reg, err := NewRegistry(auctionEntities()...)
	require.NoError(t, err)

	require.NoError(t, reg.RegisterFetchProfile(FetchProfile{
		Name:    "item-details",
		Fetches: []ProfileFetch{{Entity: "Item", Association: "seller"}},
	}))
	p, err := reg.FetchProfile("item-details")
	require.NoError(t, err)
	assert.True(t, p.Includes("Item", "seller"))
	assert.False(t, p.Includes("Item", "bids"))

	tests := []struct {
		name    string
		profile FetchProfile
	}{
		{"missing name", FetchProfile{Fetches: []ProfileFetch{{Entity: "Item", Association: "seller"}}}},
		{"no fetches", FetchProfile{Name: "empty"}},
		{"unknown entity", FetchProfile{Name: "x", Fetches: []ProfileFetch{{Entity: "Invoice", Association: "lines"}}}},
		{"unknown association", FetchProfile{Name: "y", Fetches: []ProfileFetch{{Entity: "Item", Association: "buyer"}}}},
		{"duplicate", FetchProfile{Name: "item-details", Fetches: []ProfileFetch{{Entity: "Item", Association: "bids"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.RegisterFetchProfile(tt.profile)
			var perr *errors.Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, TextCodeInvalidMetadata, perr.TextCode)
		})
	}

	_, err = reg.FetchProfile("unknown")
	var perr *errors.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, TextCodeUnknownFetchProfile, perr.TextCode)
}

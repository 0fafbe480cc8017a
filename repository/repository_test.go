package repository

import (
	"context"
	"testing"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-persist/cache"
	"github.com/goliatone/go-persist/pkg/testsupport"
	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/session"
	"github.com/goliatone/go-persist/store"
	"github.com/goliatone/go-persist/store/memstore"
)

type user struct {
	ID       int64
	Username string
	Email    string
}

type item struct {
	ID       int64
	Name     string
	Price    float64
	SellerID int64
	Version  int64
}

func optionalID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

var userMapper = Mapper[user]{
	ToEntity: func(_ context.Context, _ *session.Session, u user, e *session.Entity) error {
		if err := e.Set("username", u.Username); err != nil {
			return err
		}
		return e.Set("email", u.Email)
	},
	FromEntity: func(_ context.Context, e *session.Entity) (user, error) {
		u := user{ID: e.ID().(int64)}
		u.Username, _ = e.Get("username").(string)
		u.Email, _ = e.Get("email").(string)
		return u, nil
	},
	ID: func(u user) any { return optionalID(u.ID) },
}

var itemMapper = Mapper[item]{
	ToEntity: func(_ context.Context, s *session.Session, it item, e *session.Entity) error {
		if err := e.Set("name", it.Name); err != nil {
			return err
		}
		if err := e.Set("initial_price", it.Price); err != nil {
			return err
		}
		if it.SellerID == 0 {
			return nil
		}
		seller, err := s.GetReference("User", it.SellerID)
		if err != nil {
			return err
		}
		return e.SetRefProxy("seller", seller)
	},
	FromEntity: func(_ context.Context, e *session.Entity) (item, error) {
		it := item{ID: e.ID().(int64)}
		it.Name, _ = e.Get("name").(string)
		it.Price, _ = e.Get("initial_price").(float64)
		it.Version, _ = e.Version().(int64)
		if ref := e.Ref("seller"); ref != nil {
			it.SellerID, _ = ref.ID().(int64)
		}
		return it, nil
	},
	ID:      func(it item) any { return optionalID(it.ID) },
	Version: func(it item) any { return it.Version },
}

func newFactory(t *testing.T) (*session.Factory, *memstore.Store) {
	t.Helper()

	backend, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	l2, err := secondlevel.New(backend, secondlevel.DefaultConfig())
	require.NoError(t, err)

	st := memstore.New()
	f, err := session.NewFactory(testsupport.AuctionRegistry(t), st, l2, session.DefaultConfig())
	require.NoError(t, err)
	return f, st
}

func TestRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	f, _ := newFactory(t)
	users := New(f, "User", userMapper)

	created, err := users.Create(ctx, user{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	got, err := users.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	byName, err := users.FindBy(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	_, err = users.FindBy(ctx, "nobody")
	assert.True(t, session.IsEntityNotFound(err))
}

func TestRepository_GetIsServedFromCache(t *testing.T) {
	ctx := context.Background()
	f, st := newFactory(t)
	testsupport.SeedAuction(st, 1, 0)
	items := New(f, "Item", itemMapper)

	first, err := items.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.SellerID)
	assert.Equal(t, int64(1), st.Stats().Reads)

	second, err := items.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), st.Stats().Reads)
}

func TestRepository_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	f, st := newFactory(t)
	testsupport.SeedAuction(st, 2, 0)
	items := New(f, "Item", itemMapper)

	original, err := items.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), original.Version)

	changed := original
	changed.Name = "lamp"
	changed.SellerID = 2
	updated, err := items.Update(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, int64(2), updated.SellerID)

	original.Name = "stale"
	_, err = items.Update(ctx, original)
	require.Error(t, err)
	assert.True(t, session.IsStaleState(err))

	stored, err := items.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "lamp", stored.Name)

	_, err = items.Update(ctx, item{Name: "no id"})
	var perr *errors.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, session.TextCodeMissingID, perr.TextCode)
}

func TestRepository_List(t *testing.T) {
	ctx := context.Background()
	f, st := newFactory(t)
	testsupport.SeedAuction(st, 3, 0)
	items := New(f, "Item", itemMapper)

	all, err := items.List(ctx, session.QuerySpec{OrderBy: []store.Order{{Column: "id", Desc: true}}})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{all[0].ID, all[1].ID, all[2].ID})

	bySeller, err := items.List(ctx, session.QuerySpec{
		Name:    "itemsBySeller",
		Entity:  "Ignored",
		Filters: []store.Filter{store.Eq("seller_id", int64(2))},
	})
	require.NoError(t, err)
	require.Len(t, bySeller, 1)
	assert.Equal(t, int64(2), bySeller[0].ID)
}

func TestRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	f, st := newFactory(t)
	testsupport.SeedAuction(st, 1, 2)
	items := New(f, "Item", itemMapper)

	require.NoError(t, items.Delete(ctx, 1))
	assert.Empty(t, st.Rows("items"))
	assert.Empty(t, st.Rows("bids"))

	_, err := items.Get(ctx, 1)
	assert.True(t, session.IsEntityNotFound(err))

	err = items.Delete(ctx, 1)
	assert.True(t, session.IsEntityNotFound(err))
}

func TestRepository_InvalidMapper(t *testing.T) {
	f, _ := newFactory(t)
	broken := New(f, "User", Mapper[user]{ID: userMapper.ID})

	_, err := broken.Get(context.Background(), 1)
	var perr *errors.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, TextCodeInvalidMapper, perr.TextCode)
	assert.Equal(t, errors.CategoryBadInput, perr.Category)
}

func TestTags(t *testing.T) {
	ctx := WithTags(context.Background(), "catalog", "")
	ctx = WithTags(ctx, "catalog", "admin")
	assert.Equal(t, []string{"catalog", "admin"}, TagsFromContext(ctx))

	assert.Nil(t, TagsFromContext(context.Background()))
	assert.Equal(t, context.Background(), WithTags(context.Background()))
}

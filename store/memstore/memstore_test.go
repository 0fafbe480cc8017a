package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-persist/store"
)

func seeded() *Store {
	s := New()
	s.Seed("items",
		store.Row{"id": 1, "name": "Item One", "version": 0, "price": 9.5},
		store.Row{"id": 2, "name": "Item Two", "version": 3, "price": 20},
		store.Row{"id": 3, "name": "Other", "version": 0, "price": nil},
	)
	return s
}

func TestStore_ReadByKey(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	row, err := s.ReadByKey(ctx, "items", "id", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "Item One", row["name"])
	assert.Equal(t, int64(0), row["version"])

	_, err = s.ReadByKey(ctx, "items", "id", 99)
	assert.True(t, store.IsRowNotFound(err))

	rows, err := s.ReadByKeys(ctx, "items", "id", []any{1, 3, 7})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int64(3), s.Stats().Reads)
}

func TestStore_ReadByQuery(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tests := []struct {
		name  string
		query store.Query
		want  []int64
	}{
		{
			name:  "like ordered desc",
			query: store.Query{Table: "items", Filters: []store.Filter{{Column: "name", Op: store.OpLike, Value: "Item%"}}, OrderBy: []store.Order{{Column: "id", Desc: true}}},
			want:  []int64{2, 1},
		},
		{
			name:  "in with limit",
			query: store.Query{Table: "items", Filters: []store.Filter{store.In("id", []any{1, 2, 3})}, OrderBy: []store.Order{{Column: "id"}}, Limit: 2},
			want:  []int64{1, 2},
		},
		{
			name:  "offset",
			query: store.Query{Table: "items", OrderBy: []store.Order{{Column: "id"}}, Offset: 2},
			want:  []int64{3},
		},
		{
			name:  "greater than",
			query: store.Query{Table: "items", Filters: []store.Filter{{Column: "price", Op: store.OpGt, Value: 10}}},
			want:  []int64{2},
		},
		{
			name:  "is null",
			query: store.Query{Table: "items", Filters: []store.Filter{{Column: "price", Op: store.OpIsNull}}},
			want:  []int64{3},
		},
		{
			name:  "not equal",
			query: store.Query{Table: "items", Filters: []store.Filter{{Column: "version", Op: store.OpNe, Value: 0}}},
			want:  []int64{2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.ReadByQuery(ctx, tt.query)
			require.NoError(t, err)
			var got []int64
			for _, r := range rows {
				got = append(got, r["id"].(int64))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTx_ReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, "items", store.Row{"id": 4, "name": "New", "version": 0}))

	n, err := tx.Update(ctx, store.Update{Table: "items", IDColumn: "id", ID: 1, Set: store.Row{"name": "Renamed"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := tx.ReadByKey(ctx, "items", "id", 4)
	require.NoError(t, err)
	assert.Equal(t, "New", row["name"])

	committed, err := s.ReadByKey(ctx, "items", "id", 1)
	require.NoError(t, err)
	assert.Equal(t, "Item One", committed["name"], "uncommitted writes must stay invisible")

	require.NoError(t, tx.Commit(ctx))

	row, err = s.ReadByKey(ctx, "items", "id", 1)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", row["name"])
	assert.Len(t, s.Rows("items"), 4)
}

func TestTx_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, _ := s.Begin(ctx)
	n, err := tx.Update(ctx, store.Update{Table: "items", IDColumn: "id", ID: 2, VersionColumn: "version", Version: 2, Set: store.Row{"version": 3}})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = tx.Delete(ctx, store.Delete{Table: "items", IDColumn: "id", ID: 2, VersionColumn: "version", Version: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Commit(ctx))

	_, err = s.ReadByKey(ctx, "items", "id", 2)
	assert.True(t, store.IsRowNotFound(err))
}

func TestTx_FirstCommitWins(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	a, _ := s.Begin(ctx)
	b, _ := s.Begin(ctx)

	update := store.Update{Table: "items", IDColumn: "id", ID: 1, VersionColumn: "version", Version: 0}

	update.Set = store.Row{"name": "from A", "version": 1}
	n, err := a.Update(ctx, update)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	update.Set = store.Row{"name": "from B", "version": 1}
	n, err = b.Update(ctx, update)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, b.Commit(ctx))
	err = a.Commit(ctx)
	require.Error(t, err)
	assert.True(t, store.IsWriteConflict(err))

	row, _ := s.ReadByKey(ctx, "items", "id", 1)
	assert.Equal(t, "from B", row["name"])
	assert.Equal(t, int64(1), s.Stats().Conflicts)
}

func TestTx_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, _ := s.Begin(ctx)
	_, err := tx.Delete(ctx, store.Delete{Table: "items", IDColumn: "id", ID: 1})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx))

	assert.Len(t, s.Rows("items"), 3)
	assert.Error(t, tx.Commit(ctx))
	assert.Equal(t, int64(1), s.Stats().Rollbacks)
}

func TestTx_InsertRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, _ := s.Begin(ctx)
	err := tx.Insert(ctx, "items", store.Row{"id": int64(1), "name": "Again", "version": 0})
	assert.True(t, store.IsDuplicateKey(err), "committed key")

	require.NoError(t, tx.Insert(ctx, "items", store.Row{"id": 4, "name": "New", "version": 0}))
	err = tx.Insert(ctx, "items", store.Row{"id": int64(4), "name": "Twice", "version": 0})
	assert.True(t, store.IsDuplicateKey(err), "key inserted by the same transaction")

	// other tables and tables keyed by another column are independent
	require.NoError(t, tx.Insert(ctx, "bids", store.Row{"id": 1, "amount": 5.0}))
	require.NoError(t, tx.Commit(ctx))

	rows, err := s.ReadByKeys(ctx, "items", "id", []any{4})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "New", rows[0]["name"])

	keyed := New(WithKeyColumn("users", "username"))
	keyed.Seed("users", store.Row{"username": "alice"})
	tx, _ = keyed.Begin(ctx)
	assert.True(t, store.IsDuplicateKey(tx.Insert(ctx, "users", store.Row{"username": "alice"})))
	require.NoError(t, tx.Insert(ctx, "users", store.Row{"username": "bob"}))
}

func TestTx_DuplicateKeyDetectedAtCommit(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	first, _ := s.Begin(ctx)
	second, _ := s.Begin(ctx)
	require.NoError(t, first.Insert(ctx, "items", store.Row{"id": 5, "name": "First", "version": 0}))
	require.NoError(t, second.Insert(ctx, "items", store.Row{"id": 5, "name": "Second", "version": 0}))
	_, err := second.Update(ctx, store.Update{Table: "items", IDColumn: "id", ID: 1, Set: store.Row{"name": "Touched"}})
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx))
	err = second.Commit(ctx)
	assert.True(t, store.IsDuplicateKey(err))

	rows := s.Rows("items")
	assert.Len(t, rows, 4)
	row, err := s.ReadByKey(ctx, "items", "id", 5)
	require.NoError(t, err)
	assert.Equal(t, "First", row["name"])
	row, err = s.ReadByKey(ctx, "items", "id", 1)
	require.NoError(t, err)
	assert.Equal(t, "Item One", row["name"], "a failed commit applies nothing")
	assert.Equal(t, int64(1), s.Stats().Rollbacks)
	assert.Zero(t, s.Stats().Conflicts)
}

func TestStore_NextIDAndStats(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, _ := s.NextID(ctx, "items")
	second, _ := s.NextID(ctx, "items")
	other, _ := s.NextID(ctx, "bids")
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, int64(1), other)

	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.Insert(ctx, "items", store.Row{"id": first, "at": time.Now()}))
	require.NoError(t, tx.Commit(ctx))

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.RoundTrips())
	assert.Equal(t, int64(1), stats.Commits)

	s.ResetStats()
	assert.Zero(t, s.Stats().RoundTrips())
}

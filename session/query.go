package session

import (
	"context"
	"fmt"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/store"
)

// QuerySpec is a filtered select over one entity type.
type QuerySpec struct {
	// Name identifies the query in statistics and cache keys. It defaults
	// to the entity name.
	Name    string
	Entity  string
	Filters []store.Filter
	OrderBy []store.Order
	Limit   int
	Offset  int
	// Cacheable keeps the result ids in the query cache until the entity
	// table is written.
	Cacheable bool
}

// Query returns the managed entities matching q. In FlushAuto mode pending
// changes to the queried table are flushed first.
func (s *Session) Query(ctx context.Context, q QuerySpec) ([]*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	meta, err := s.entityMeta(q.Entity)
	if err != nil {
		return nil, err
	}
	if q.Name == "" {
		q.Name = meta.Name
	}
	if s.flushMode == FlushAuto {
		if _, dirty := s.dirtyTables()[meta.Table]; dirty {
			if err := s.Flush(ctx); err != nil {
				return nil, err
			}
		}
	}

	sq := store.Query{Table: meta.Table, Filters: q.Filters, OrderBy: q.OrderBy, Limit: q.Limit, Offset: q.Offset}
	s.f.stats.queryExecutions.Add(1)

	var entities []*Entity
	if q.Cacheable && s.f.cache.QueryCacheEnabled() && s.cacheMode.reads() && !s.wrote(meta.Table) {
		entities, err = s.cachedQuery(ctx, meta, q.Name, sq)
	} else {
		entities, err = s.runQuery(ctx, meta, sq)
	}
	if err != nil {
		return nil, err
	}

	out := entities[:0]
	for _, e := range entities {
		if e.state == Managed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Session) runQuery(ctx context.Context, meta *metadata.Entity, q store.Query) ([]*Entity, error) {
	rows, err := s.reader().ReadByQuery(ctx, q)
	s.f.stats.entityFetches.Add(1)
	if err != nil {
		return nil, store.Wrap(err, "query failed")
	}
	return s.materializeRows(ctx, meta, rows)
}

func (s *Session) materializeRows(ctx context.Context, meta *metadata.Entity, rows []store.Row) ([]*Entity, error) {
	out := make([]*Entity, 0, len(rows))
	var fresh []*Entity
	for _, row := range rows {
		_, existed := s.lookup(meta.Name, row[meta.IDColumn])
		e, err := s.materialize(ctx, meta, row, true)
		if err != nil {
			return nil, err
		}
		if !existed {
			fresh = append(fresh, e)
		}
		out = append(out, e)
	}
	if err := s.fetchEager(ctx, fresh); err != nil {
		return nil, err
	}
	return out, nil
}

// cachedQuery serves q from the query cache. On a hit the cached ids are
// resolved through the identity map, the entity cache and batched reads.
func (s *Session) cachedQuery(ctx context.Context, meta *metadata.Entity, name string, q store.Query) ([]*Entity, error) {
	qc := s.f.cache.Queries()
	key := qc.QueryKey(name, q)

	var rows []store.Row
	ids, hit, err := qc.GetOrExecute(ctx, name, key, []string{meta.Table}, func(ctx context.Context) ([]any, error) {
		var err error
		rows, err = s.reader().ReadByQuery(ctx, q)
		s.f.stats.entityFetches.Add(1)
		if err != nil {
			return nil, store.Wrap(err, "query failed")
		}
		ids := make([]any, len(rows))
		for i, r := range rows {
			ids[i] = store.Normalize(r[meta.IDColumn])
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	if !hit {
		return s.materializeRows(ctx, meta, rows)
	}

	if err := s.fetchEntities(ctx, meta, ids); err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.lookup(meta.Name, id); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindByNaturalID returns the entity whose natural id fields equal values,
// given in declaration order. Managed entities are matched first; cached
// entity types then consult the natural-id index before querying the store.
func (s *Session) FindByNaturalID(ctx context.Context, name string, values ...any) (*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	meta, err := s.entityMeta(name)
	if err != nil {
		return nil, err
	}
	if !meta.HasNaturalID() || len(values) != len(meta.NaturalID) {
		return nil, errors.New(fmt.Sprintf("%s natural id has %d fields, got %d values", name, len(meta.NaturalID), len(values)), errors.CategoryBadInput).
			WithTextCode(TextCodeUnknownField)
	}
	normalized := make([]any, len(values))
	for i, v := range values {
		normalized[i] = store.Normalize(v)
	}

	for _, e := range s.managed() {
		if e.meta == meta && e.state == Managed && naturalIDEquals(e, normalized) {
			return e, nil
		}
	}

	var loaded store.Row
	loader := func(ctx context.Context) (any, error) {
		rows, err := s.reader().ReadByQuery(ctx, naturalIDQuery(meta, normalized))
		s.f.stats.entityFetches.Add(1)
		if err != nil {
			return nil, store.Wrap(err, "natural id lookup failed")
		}
		if len(rows) == 0 {
			return nil, store.ErrRowNotFound
		}
		loaded = rows[0]
		return rows[0][meta.IDColumn], nil
	}

	if s.cacheReads(meta) {
		id, found, err := s.f.cache.NaturalIDs().Resolve(ctx, meta, normalized, loader)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, EntityNotFoundError(name, normalized)
		}
		if loaded == nil {
			return s.Find(ctx, name, id)
		}
	} else if _, err := loader(ctx); err != nil {
		if store.IsRowNotFound(err) {
			return nil, EntityNotFoundError(name, normalized)
		}
		return nil, err
	}

	e, err := s.materialize(ctx, meta, loaded, true)
	if err != nil {
		return nil, err
	}
	if e.state != Managed {
		return nil, EntityNotFoundError(name, normalized)
	}
	if err := s.fetchEager(ctx, []*Entity{e}); err != nil {
		return nil, err
	}
	return e, nil
}

func naturalIDQuery(meta *metadata.Entity, values []any) store.Query {
	q := store.Query{Table: meta.Table, Limit: 1}
	for i, f := range meta.NaturalID {
		q.Filters = append(q.Filters, store.Eq(f, values[i]))
	}
	return q
}

func naturalIDValues(meta *metadata.Entity, row store.Row) []any {
	out := make([]any, len(meta.NaturalID))
	for i, f := range meta.NaturalID {
		out[i] = store.Normalize(row[f])
	}
	return out
}

func naturalIDEquals(e *Entity, values []any) bool {
	for i, f := range e.meta.NaturalID {
		if !store.Equal(e.values[f], values[i]) {
			return false
		}
	}
	return true
}

package session

import (
	"context"

	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/store"
)

func (s *Session) wrote(table string) bool {
	_, ok := s.written[table]
	return ok
}

// cacheReads reports whether entities of meta may be served from the
// second-level cache. Tables changed by the open transaction are read from
// the store so the session observes its own writes.
func (s *Session) cacheReads(meta *metadata.Entity) bool {
	return s.f.cache.Enabled() && meta.IsCached() && s.cacheMode.reads() && !s.wrote(meta.Table)
}

func (s *Session) cachePuts(meta *metadata.Entity) bool {
	return s.f.cache.Enabled() && meta.IsCached() && s.cacheMode.puts() && !s.wrote(meta.Table)
}

// fetchEntities brings the entities with ids into the identity map. Ids
// already managed are skipped, cached ones are assembled from their
// entries, and the rest are read with one ReadByKeys per BatchSize ids.
// Missing rows are not an error.
func (s *Session) fetchEntities(ctx context.Context, meta *metadata.Entity, ids []any) error {
	var missing []any
	var loaded []*Entity
	seen := make(map[any]bool, len(ids))

	for _, id := range ids {
		id = store.Normalize(id)
		if id == nil || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := s.lookup(meta.Name, id); ok {
			continue
		}
		if s.cacheReads(meta) {
			region := s.f.cache.EntityRegion(meta)
			if entry, ok := region.Get(ctx, region.Key(id)); ok {
				e, err := s.materialize(ctx, meta, assemble(meta, id, entry), false)
				if err != nil {
					return err
				}
				loaded = append(loaded, e)
				continue
			}
		}
		missing = append(missing, id)
	}

	batch := s.f.cfg.BatchSize
	for start := 0; start < len(missing); start += batch {
		chunk := missing[start:min(start+batch, len(missing))]
		rows, err := s.reader().ReadByKeys(ctx, meta.Table, meta.IDColumn, chunk)
		s.f.stats.entityFetches.Add(1)
		if err != nil {
			return store.Wrap(err, "failed to load "+meta.Name)
		}
		s.logger.Debug("entities fetched", "entity", meta.Name, "requested", len(chunk), "found", len(rows))
		for _, row := range rows {
			e, err := s.materialize(ctx, meta, row, true)
			if err != nil {
				return err
			}
			loaded = append(loaded, e)
		}
	}
	return s.fetchEager(ctx, loaded)
}

// materialize returns the managed entity for row. An entity already in the
// identity map wins over the row.
func (s *Session) materialize(ctx context.Context, meta *metadata.Entity, row store.Row, fromStore bool) (*Entity, error) {
	id := store.Normalize(row[meta.IDColumn])
	if e, ok := s.lookup(meta.Name, id); ok {
		return e, nil
	}
	e := newEntity(s, meta)
	e.hydrate(row)
	e.state = Managed
	s.attach(e)
	s.f.stats.entityLoads.Add(1)
	if fromStore {
		s.putFromLoad(ctx, e)
	}
	if err := s.hooks.run(ctx, s, PostLoad, e); err != nil {
		return nil, err
	}
	return e, nil
}

// fetchEager loads the eager associations of freshly loaded entities,
// including those selected by enabled fetch profiles.
func (s *Session) fetchEager(ctx context.Context, loaded []*Entity) error {
	for _, e := range loaded {
		for i := range e.meta.Associations {
			a := &e.meta.Associations[i]
			if !s.fetchesEagerly(e.meta, a) {
				continue
			}
			if a.Cardinality.IsToOne() {
				p := e.refs[a.Name]
				if p == nil || p.entity != nil {
					continue
				}
				if _, err := p.Load(ctx); err != nil && !IsEntityNotFound(err) {
					return err
				}
				continue
			}
			if err := e.colls[a.Name].Load(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) putFromLoad(ctx context.Context, e *Entity) {
	if !s.cachePuts(e.meta) {
		return
	}
	region := s.f.cache.EntityRegion(e.meta)
	key := region.Key(e.id)
	entry := s.disassemble(e)
	if s.cacheMode == CacheRefresh {
		region.Put(ctx, key, entry)
		return
	}
	region.PutFromLoad(ctx, key, entry, s.txStart, s.f.cfg.MinimalPuts)
}

// disassemble copies the state of e into a cache entry holding no
// references into the session.
func (s *Session) disassemble(e *Entity) *secondlevel.Entry {
	values := e.dehydrate()
	delete(values, e.meta.IDColumn)
	if e.meta.IsVersioned() {
		delete(values, e.meta.VersionColumn)
	}
	return &secondlevel.Entry{
		Values:    values,
		Version:   e.version,
		Timestamp: s.now(),
	}
}

func assemble(meta *metadata.Entity, id any, entry *secondlevel.Entry) store.Row {
	row := make(store.Row, len(entry.Values)+2)
	for k, v := range entry.Values {
		row[k] = v
	}
	row[meta.IDColumn] = id
	if meta.IsVersioned() {
		row[meta.VersionColumn] = entry.Version
	}
	return row
}

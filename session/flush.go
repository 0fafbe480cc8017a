package session

import (
	"context"
	"sort"
	"time"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/store"
)

// write is one entity statement of a flush.
type write struct {
	e     *Entity
	row   store.Row
	dirty []string
	// bump is set when a column covered by optimistic locking changed.
	bump bool

	region       *secondlevel.Region
	lock         *secondlevel.SoftLock
	oldNaturalID []any
}

type collectionKey struct {
	role  string
	owner any
}

type collectionChange struct {
	owner *metadata.Entity
	assoc *metadata.Association
	id    any
}

type flushPlan struct {
	inserts     []*write
	updates     []*write
	deletes     []*write
	collections map[collectionKey]collectionChange
}

func (p *flushPlan) empty() bool {
	return len(p.inserts) == 0 && len(p.updates) == 0 && len(p.deletes) == 0
}

// Flush writes pending changes to the store inside the session transaction.
// Nothing is visible to other sessions until Commit. A failed flush rolls
// the transaction back and detaches every entity.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		return s.fail(ctx, err)
	}
	return nil
}

func (s *Session) flush(ctx context.Context) error {
	if err := s.cascadePersist(ctx); err != nil {
		return err
	}
	if err := s.removeOrphans(ctx); err != nil {
		return err
	}
	if err := s.checkTransientReferences(); err != nil {
		return err
	}
	s.applyCollectionColumns()

	plan, err := s.plan(ctx)
	if err != nil {
		return err
	}
	verify := s.optimisticChecks(plan)
	if plan.empty() && len(verify) == 0 {
		s.f.stats.flushes.Add(1)
		return s.hooks.run(ctx, s, PostFlush, nil)
	}

	if s.tx == nil {
		tx, err := s.f.store.Begin(ctx)
		if err != nil {
			return store.Wrap(err, "failed to begin transaction")
		}
		s.tx = tx
		s.written = make(map[string]struct{})
		s.f.stats.transactions.Add(1)
	}

	if err := s.beforeWrites(ctx, plan); err != nil {
		return err
	}
	if err := s.execute(ctx, plan); err != nil {
		return err
	}
	for _, e := range verify {
		if err := s.verifyVersion(ctx, e); err != nil {
			return err
		}
	}
	s.afterWrites(plan)

	s.f.stats.flushes.Add(1)
	s.logger.Debug("flushed",
		"inserts", len(plan.inserts), "updates", len(plan.updates), "deletes", len(plan.deletes),
		"collections", len(plan.collections))
	return s.hooks.run(ctx, s, PostFlush, nil)
}

func (s *Session) cascadePersist(ctx context.Context) error {
	visited := make(map[*Entity]bool)
	for _, e := range s.managed() {
		if e.state != Managed {
			continue
		}
		if err := s.persist(ctx, e, visited); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) removeOrphans(ctx context.Context) error {
	visited := make(map[*Entity]bool)
	for _, e := range s.managed() {
		if e.state != Managed {
			continue
		}
		for _, a := range e.meta.Collections() {
			c := e.colls[a.Name]
			if !a.OrphanRemoval || !c.initialized {
				continue
			}
			for _, orphan := range c.removed() {
				if orphan.state != Managed {
					continue
				}
				s.logger.Debug("removing orphan", "role", c.role, "entity", orphan.meta.Name, "id", orphan.id)
				if err := s.remove(ctx, orphan, visited); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Session) checkTransientReferences() error {
	for _, e := range s.managed() {
		if e.state != Managed {
			continue
		}
		for _, a := range e.meta.ToOne() {
			if p := e.refs[a.Name]; p != nil && p.entity != nil && p.entity.state == Transient {
				return transientReferenceError(e.meta.Name, a.Name, a.Target)
			}
		}
		for _, a := range e.meta.Collections() {
			c := e.colls[a.Name]
			if !c.initialized {
				continue
			}
			for _, el := range c.elements {
				if el.state == Transient {
					return transientReferenceError(e.meta.Name, a.Name, a.Target)
				}
			}
		}
	}
	return nil
}

// applyCollectionColumns writes the columns a collection maintains on its
// elements: the owner key of unidirectional collections, list positions and
// map keys.
func (s *Session) applyCollectionColumns() {
	for _, owner := range s.managed() {
		if owner.state != Managed {
			continue
		}
		for _, a := range owner.meta.Collections() {
			c := owner.colls[a.Name]
			if !c.initialized {
				continue
			}
			for i, el := range c.elements {
				if el.state != Managed {
					continue
				}
				if a.MappedBy == "" {
					el.setColumn(a.JoinColumn, owner.id)
				}
				switch a.Kind {
				case metadata.CollectionList:
					el.setColumn(a.OrderColumn, int64(i))
				case metadata.CollectionMap:
					el.setColumn(a.MapKeyColumn, c.keys[i])
				}
			}
			if a.MappedBy != "" {
				continue
			}
			for _, el := range c.removed() {
				if el.state == Managed && store.Equal(el.column(a.JoinColumn), owner.id) {
					el.setColumn(a.JoinColumn, nil)
				}
			}
		}
	}
}

// plan sorts pending changes into statements, runs the pre hooks and
// resolves forced version increments.
func (s *Session) plan(ctx context.Context) (*flushPlan, error) {
	plan := &flushPlan{collections: make(map[collectionKey]collectionChange)}

	var inserts, deletes []*Entity
	candidates := make(map[*Entity]*write)
	var candidateOrder []*Entity
	for _, e := range s.managed() {
		switch {
		case e.state == Managed && e.snapshot == nil:
			inserts = append(inserts, e)
		case e.state == Removed:
			deletes = append(deletes, e)
		case e.state == Managed && !e.readOnly && !e.meta.Immutable:
			w, err := s.dirtyCheck(e)
			if err != nil {
				return nil, err
			}
			candidates[e] = w
			candidateOrder = append(candidateOrder, e)
			if e.lockMode == LockOptimisticForceIncrement && e.meta.IsVersioned() {
				e.forceIncrement = true
			}
		}
	}

	for _, e := range inserts {
		if err := s.hooks.run(ctx, s, PreInsert, e); err != nil {
			return nil, err
		}
	}
	for _, e := range deletes {
		if err := s.hooks.run(ctx, s, PreDelete, e); err != nil {
			return nil, err
		}
	}

	if err := s.forceIncrements(ctx, inserts, deletes, candidates); err != nil {
		return nil, err
	}
	// forced owners may have been loaded just now
	for _, e := range s.managed() {
		if e.forceIncrement && candidates[e] == nil {
			w, err := s.dirtyCheck(e)
			if err != nil {
				return nil, err
			}
			candidates[e] = w
			candidateOrder = append(candidateOrder, e)
		}
	}

	for _, e := range candidateOrder {
		w := candidates[e]
		if len(w.dirty) == 0 && !e.forceIncrement {
			continue
		}
		if err := s.hooks.run(ctx, s, PreUpdate, e); err != nil {
			return nil, err
		}
		w, err := s.dirtyCheck(e)
		if err != nil {
			return nil, err
		}
		plan.updates = append(plan.updates, w)
	}

	for _, e := range orderByDependency(inserts, false) {
		plan.inserts = append(plan.inserts, &write{e: e})
	}
	for _, e := range orderByDependency(deletes, true) {
		plan.deletes = append(plan.deletes, &write{e: e, row: e.snapshot})
	}
	return plan, nil
}

func (s *Session) dirtyCheck(e *Entity) (*write, error) {
	row := e.dehydrate()
	w := &write{e: e, row: row, dirty: e.dirtyColumns(row)}
	sort.Strings(w.dirty)
	for _, col := range w.dirty {
		if e.meta.IsNaturalIDField(col) && !e.meta.MutableNaturalID {
			return nil, immutableNaturalIDError(e.meta.Name, e.id, col)
		}
		if !e.meta.IsLockExcluded(col) {
			w.bump = true
		}
	}
	return w, nil
}

// forceIncrements flags owners whose version must change although their own
// row did not: targets of many-to-one associations declaring
// ForceVersionIncrement when the referencing row is inserted, deleted or
// moved, and owners of such collections whose membership changed.
func (s *Session) forceIncrements(ctx context.Context, inserts, deletes []*Entity, updates map[*Entity]*write) error {
	inserted := make(map[*Entity]bool, len(inserts))
	for _, e := range inserts {
		inserted[e] = true
	}
	deleted := make(map[*Entity]bool, len(deletes))
	for _, e := range deletes {
		deleted[e] = true
	}
	force := func(target *Entity) {
		if target != nil && target.state == Managed && target.snapshot != nil && target.meta.IsVersioned() &&
			!target.readOnly && !target.meta.Immutable {
			target.forceIncrement = true
		}
	}
	resolve := func(a *metadata.Association, id any) (*Entity, error) {
		if id == nil {
			return nil, nil
		}
		e, err := s.Find(ctx, a.Target, id)
		if IsEntityNotFound(err) {
			return nil, nil
		}
		return e, err
	}

	for _, e := range s.managed() {
		for _, a := range e.meta.ToOne() {
			if !a.ForceVersionIncrement {
				continue
			}
			var current any
			if p := e.refs[a.Name]; p != nil {
				current = p.ID()
			}
			var old any
			if e.snapshot != nil {
				old = e.snapshot[a.JoinColumn]
			}

			var ids []any
			switch {
			case inserted[e]:
				ids = []any{current}
			case deleted[e]:
				ids = []any{old}
			case updates[e] != nil && !store.Equal(old, current):
				ids = []any{old, current}
			}
			for _, id := range ids {
				target, err := resolve(a, id)
				if err != nil {
					return err
				}
				force(target)
			}
		}
		if e.state != Managed {
			continue
		}
		for _, a := range e.meta.Collections() {
			if a.ForceVersionIncrement && e.colls[a.Name].changed() {
				force(e)
			}
		}
	}
	return nil
}

// optimisticChecks returns the entities locked with LockOptimistic that the
// plan does not write; their versions are verified after the writes.
func (s *Session) optimisticChecks(plan *flushPlan) []*Entity {
	written := make(map[*Entity]bool, len(plan.updates)+len(plan.deletes))
	for _, w := range plan.updates {
		written[w.e] = true
	}
	for _, w := range plan.deletes {
		written[w.e] = true
	}
	var out []*Entity
	for _, e := range s.managed() {
		if e.lockMode == LockOptimistic && e.state == Managed && e.snapshot != nil && !written[e] {
			out = append(out, e)
		}
	}
	return out
}

// orderByDependency sorts entities so that referenced rows come first. The
// reverse order is used for deletes.
func orderByDependency(list []*Entity, reverse bool) []*Entity {
	if len(list) < 2 {
		return list
	}
	in := make(map[*Entity]bool, len(list))
	for _, e := range list {
		in[e] = true
	}
	deps := make(map[*Entity][]*Entity)
	for _, e := range list {
		for _, a := range e.meta.ToOne() {
			if p := e.refs[a.Name]; p != nil && p.entity != nil && in[p.entity] && p.entity != e {
				deps[e] = append(deps[e], p.entity)
			}
		}
		for _, a := range e.meta.Collections() {
			c := e.colls[a.Name]
			if a.MappedBy != "" || !c.initialized {
				continue
			}
			for _, el := range c.elements {
				if in[el] && el != e {
					deps[el] = append(deps[el], e)
				}
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Entity]int, len(list))
	out := make([]*Entity, 0, len(list))
	var visit func(e *Entity)
	visit = func(e *Entity) {
		if state[e] != unvisited {
			return
		}
		state[e] = visiting
		for _, d := range deps[e] {
			visit(d)
		}
		state[e] = done
		out = append(out, e)
	}
	for _, e := range list {
		visit(e)
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// beforeWrites takes soft locks, evicts natural ids about to change and
// pre-invalidates the written tables.
func (s *Session) beforeWrites(ctx context.Context, plan *flushPlan) error {
	s.collectCollectionChanges(plan)
	if !s.f.cache.Enabled() {
		return nil
	}
	l2 := s.f.cache

	for _, w := range plan.updates {
		e := w.e
		if e.meta.IsCached() {
			w.region = l2.EntityRegion(e.meta)
			lock, err := w.region.BeginUpdate(ctx, w.region.Key(e.id))
			if err != nil {
				return err
			}
			s.hold(w.region, lock)
			w.lock = lock
		}
		if e.meta.HasNaturalID() && e.meta.IsCached() {
			old := naturalIDValues(e.meta, e.snapshot)
			if !slicesEqual(old, naturalIDValues(e.meta, w.row)) {
				l2.NaturalIDs().Evict(ctx, e.meta, old)
				w.oldNaturalID = old
			}
		}
	}
	for _, w := range plan.deletes {
		e := w.e
		if !e.meta.IsCached() {
			continue
		}
		w.region = l2.EntityRegion(e.meta)
		w.lock = w.region.Lock(ctx, w.region.Key(e.id))
		s.hold(w.region, w.lock)
		if e.meta.HasNaturalID() {
			l2.NaturalIDs().Evict(ctx, e.meta, naturalIDValues(e.meta, e.snapshot))
		}
	}
	for k, ch := range plan.collections {
		region := l2.CollectionRegion(ch.owner, ch.assoc)
		s.hold(region, region.Lock(ctx, region.Key(k.owner)))
	}

	spaces := plan.spaces()
	l2.Timestamps().PreInvalidate(ctx, spaces)
	s.preInvalidated = append(s.preInvalidated, spaces...)
	return nil
}

func (s *Session) hold(region *secondlevel.Region, lock *secondlevel.SoftLock) {
	if lock != nil {
		s.locks = append(s.locks, heldLock{region: region, lock: lock})
	}
}

// collectCollectionChanges records the cached collections whose membership
// the plan changes, either through the owner's collection or through the
// join column of an element row.
func (s *Session) collectCollectionChanges(plan *flushPlan) {
	add := func(owner *metadata.Entity, a *metadata.Association, id any) {
		id = store.Normalize(id)
		if id == nil || !s.collectionCached(owner, a) {
			return
		}
		plan.collections[collectionKey{role: owner.Role(a), owner: id}] = collectionChange{owner: owner, assoc: a, id: id}
	}

	for _, e := range s.managed() {
		for _, a := range e.meta.Collections() {
			if e.state == Removed || e.colls[a.Name].changed() {
				add(e.meta, a, e.id)
			}
		}
	}
	for _, w := range plan.inserts {
		for _, inv := range s.f.registry.CollectionsOf(w.e.meta) {
			add(inv.Owner, inv.Association, w.e.column(inv.Association.JoinColumn))
		}
	}
	for _, w := range plan.deletes {
		for _, inv := range s.f.registry.CollectionsOf(w.e.meta) {
			add(inv.Owner, inv.Association, w.e.snapshot[inv.Association.JoinColumn])
		}
	}
	for _, w := range plan.updates {
		for _, inv := range s.f.registry.CollectionsOf(w.e.meta) {
			a := inv.Association
			old, cur := w.e.snapshot[a.JoinColumn], w.row[a.JoinColumn]
			moved := !store.Equal(old, cur)
			for _, col := range []string{a.OrderColumn, a.MapKeyColumn} {
				if col != "" && !store.Equal(w.e.snapshot[col], w.row[col]) {
					moved = true
				}
			}
			if moved {
				add(inv.Owner, a, old)
				add(inv.Owner, a, cur)
			}
		}
	}
}

func (p *flushPlan) spaces() []string {
	set := make(map[string]struct{})
	for _, list := range [][]*write{p.inserts, p.updates, p.deletes} {
		for _, w := range list {
			set[w.e.meta.Table] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// execute issues the statements: inserts, then updates, then deletes.
// Updates and deletes of versioned rows are conditional on the version the
// session read; a statement matching no row fails with a StaleStateError.
func (s *Session) execute(ctx context.Context, plan *flushPlan) error {
	for _, w := range plan.inserts {
		e := w.e
		if e.meta.IsVersioned() {
			e.version = initialVersion(e.meta)
		}
		w.row = e.dehydrate()
		if err := s.tx.Insert(ctx, e.meta.Table, w.row); err != nil {
			return store.Wrap(err, "insert failed")
		}
		s.written[e.meta.Table] = struct{}{}
		s.f.stats.entityInserts.Add(1)
		if err := s.hooks.run(ctx, s, PostInsert, e); err != nil {
			return err
		}
	}

	for _, w := range plan.updates {
		e := w.e
		set := make(store.Row, len(w.dirty)+1)
		for _, col := range w.dirty {
			set[col] = w.row[col]
		}
		next := e.version
		if e.meta.IsVersioned() && (w.bump || e.forceIncrement) {
			next = nextVersion(e.meta, e.version)
			set[e.meta.VersionColumn] = next
		}
		u := store.Update{Table: e.meta.Table, IDColumn: e.meta.IDColumn, ID: e.id, Set: set}
		if e.meta.IsVersioned() {
			u.VersionColumn, u.Version = e.meta.VersionColumn, e.version
		}
		n, err := s.tx.Update(ctx, u)
		if err != nil {
			return store.Wrap(err, "update failed")
		}
		if n == 0 {
			s.f.stats.optimisticFailures.Add(1)
			return StaleStateError(e.meta.Name, e.id, e.version)
		}
		e.version = next
		if e.meta.IsVersioned() {
			w.row[e.meta.VersionColumn] = next
		}
		s.written[e.meta.Table] = struct{}{}
		s.conditional = append(s.conditional, e)
		s.f.stats.entityUpdates.Add(1)
		if err := s.hooks.run(ctx, s, PostUpdate, e); err != nil {
			return err
		}
	}

	for _, w := range plan.deletes {
		e := w.e
		d := store.Delete{Table: e.meta.Table, IDColumn: e.meta.IDColumn, ID: e.id}
		if e.meta.IsVersioned() {
			d.VersionColumn, d.Version = e.meta.VersionColumn, e.version
		}
		n, err := s.tx.Delete(ctx, d)
		if err != nil {
			return store.Wrap(err, "delete failed")
		}
		if n == 0 {
			s.f.stats.optimisticFailures.Add(1)
			return StaleStateError(e.meta.Name, e.id, e.version)
		}
		s.written[e.meta.Table] = struct{}{}
		s.conditional = append(s.conditional, e)
		s.f.stats.entityDeletes.Add(1)
		if err := s.hooks.run(ctx, s, PostDelete, e); err != nil {
			return err
		}
	}
	return nil
}

// verifyVersion checks that the stored version of e still equals the one
// the session read.
func (s *Session) verifyVersion(ctx context.Context, e *Entity) error {
	row, err := s.tx.ReadByKey(ctx, e.meta.Table, e.meta.IDColumn, e.id)
	s.f.stats.entityFetches.Add(1)
	switch {
	case store.IsRowNotFound(err):
	case err != nil:
		return store.Wrap(err, "version check failed")
	case store.Equal(row[e.meta.VersionColumn], e.version):
		return nil
	}
	s.f.stats.optimisticFailures.Add(1)
	return StaleStateError(e.meta.Name, e.id, e.version)
}

// afterWrites refreshes snapshots and queues the cache updates that run
// once the transaction commits.
func (s *Session) afterWrites(plan *flushPlan) {
	l2 := s.f.cache
	cacheOn := l2.Enabled()

	for _, w := range plan.inserts {
		e := w.e
		e.snapshot = store.NormalizeRow(w.row.Clone())
		if !cacheOn || !e.meta.IsCached() {
			continue
		}
		region := l2.EntityRegion(e.meta)
		key, entry := region.Key(e.id), s.disassemble(e)
		s.afterCommit = append(s.afterCommit, func(ctx context.Context) {
			region.AfterInsert(ctx, key, entry)
		})
		if e.meta.HasNaturalID() {
			values, id := naturalIDValues(e.meta, e.snapshot), e.id
			s.afterCommit = append(s.afterCommit, func(ctx context.Context) {
				l2.NaturalIDs().Put(ctx, e.meta, values, id)
			})
		}
	}

	for _, w := range plan.updates {
		e := w.e
		e.snapshot = store.NormalizeRow(e.dehydrate())
		e.forceIncrement = false
		if e.lockMode == LockOptimisticForceIncrement {
			e.lockMode = LockNone
		}
		if w.region != nil {
			region, key, entry, lock := w.region, w.region.Key(e.id), s.disassemble(e), w.lock
			s.afterCommit = append(s.afterCommit, func(ctx context.Context) {
				region.AfterUpdate(ctx, key, entry, lock)
			})
		}
		if w.oldNaturalID != nil {
			old, current, id := w.oldNaturalID, naturalIDValues(e.meta, e.snapshot), e.id
			s.afterCommit = append(s.afterCommit, func(ctx context.Context) {
				l2.NaturalIDs().Replace(ctx, e.meta, old, current, id)
			})
		}
	}

	for _, w := range plan.deletes {
		e := w.e
		s.forget(e)
		e.state = Transient
		e.snapshot = nil
		if w.region != nil {
			region, key, lock := w.region, w.region.Key(e.id), w.lock
			s.afterCommit = append(s.afterCommit, func(ctx context.Context) {
				region.AfterUpdate(ctx, key, nil, lock)
			})
			if e.meta.HasNaturalID() {
				values := naturalIDValues(e.meta, w.row)
				// again after commit, for lookups that read the row while it was being deleted
				s.afterCommit = append(s.afterCommit, func(ctx context.Context) {
					l2.NaturalIDs().Evict(ctx, e.meta, values)
				})
			}
		}
	}

	if cacheOn {
		for k, ch := range plan.collections {
			region := l2.CollectionRegion(ch.owner, ch.assoc)
			key := region.Key(k.owner)
			lock := s.heldLock(region, key)
			s.afterCommit = append(s.afterCommit, func(ctx context.Context) {
				region.AfterUpdate(ctx, key, nil, lock)
			})
		}
	}

	for _, e := range s.managed() {
		for _, c := range e.colls {
			if c.initialized {
				c.takeSnapshot()
			}
		}
	}
}

func (s *Session) heldLock(region *secondlevel.Region, key string) *secondlevel.SoftLock {
	for i := len(s.locks) - 1; i >= 0; i-- {
		if s.locks[i].region == region && s.locks[i].lock.Key == key {
			return s.locks[i].lock
		}
	}
	return nil
}

// Commit flushes pending changes and commits the transaction. Cache regions,
// natural-id entries and update timestamps change only after the store
// accepted the commit. A StaleStateError means another transaction committed
// a conflicting change first; the session is left empty and nothing of this
// unit of work is written.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		return s.fail(ctx, err)
	}

	if s.tx != nil {
		if err := s.tx.Commit(ctx); err != nil {
			if store.IsWriteConflict(err) {
				s.f.stats.optimisticFailures.Add(1)
				err = s.commitConflict(err)
			} else {
				err = store.Wrap(err, "commit failed")
			}
			return s.fail(ctx, err)
		}
		s.f.stats.commits.Add(1)
	}

	spaces := s.writtenSpaces()
	for _, fn := range s.afterCommit {
		fn(ctx)
	}
	if s.f.cache.Enabled() && len(spaces) > 0 {
		s.f.cache.Timestamps().Invalidate(ctx, spaces)
	}
	if len(spaces) > 0 {
		s.logger.Info("transaction committed", "tables", spaces)
	}
	s.endTransaction()
	for _, e := range s.managed() {
		e.lockMode = LockNone
	}

	if err := s.hooks.run(ctx, s, PostCommit, nil); err != nil {
		s.logger.Warn("post-commit hook failed", "error", err)
	}
	return nil
}

// Rollback discards the open transaction and detaches every entity. No
// cache entry is written.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.abort(ctx)
	s.detachAll()
	return nil
}

func (s *Session) commitConflict(err error) error {
	perr := errors.Wrap(err, errors.CategoryConflict, "commit rejected").
		WithTextCode(TextCodeStaleState).
		WithSeverity(errors.SeverityWarning)
	if len(s.conditional) > 0 {
		e := s.conditional[0]
		perr = perr.WithMetadata(map[string]any{"entity": e.meta.Name, "id": e.id})
	}
	return perr
}

// fail ends the unit of work after an error: the transaction is rolled back,
// soft locks are released and the identity map is cleared.
func (s *Session) fail(ctx context.Context, err error) error {
	s.abort(ctx)
	s.detachAll()
	var perr *errors.Error
	if errors.As(err, &perr) {
		errors.LogBySeverity(s.logger, perr)
	} else {
		s.logger.Error("unit of work failed", "error", err)
	}
	return err
}

func (s *Session) abort(ctx context.Context) {
	if s.tx != nil {
		if err := s.tx.Rollback(ctx); err != nil {
			s.logger.Debug("rollback after failure", "error", err)
		}
		s.logger.Info("transaction rolled back")
	}
	for i := len(s.locks) - 1; i >= 0; i-- {
		s.locks[i].region.Release(ctx, s.locks[i].lock)
	}
	if s.f.cache.Enabled() && len(s.preInvalidated) > 0 {
		s.f.cache.Timestamps().Invalidate(ctx, s.preInvalidated)
	}
	s.endTransaction()
}

func (s *Session) endTransaction() {
	s.tx = nil
	s.written = nil
	s.preInvalidated = nil
	s.locks = nil
	s.afterCommit = nil
	s.conditional = nil
	s.txStart = s.now()
}

func (s *Session) writtenSpaces() []string {
	set := make(map[string]struct{}, len(s.written)+len(s.preInvalidated))
	for t := range s.written {
		set[t] = struct{}{}
	}
	for _, t := range s.preInvalidated {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// dirtyTables returns the tables a flush would write to.
func (s *Session) dirtyTables() map[string]struct{} {
	out := make(map[string]struct{})
	for _, e := range s.managed() {
		switch {
		case e.state == Removed || e.snapshot == nil:
			out[e.meta.Table] = struct{}{}
		case !e.readOnly && !e.meta.Immutable && len(e.dirtyColumns(e.dehydrate())) > 0:
			out[e.meta.Table] = struct{}{}
		case e.lockMode == LockOptimisticForceIncrement:
			out[e.meta.Table] = struct{}{}
		}
		for _, c := range e.colls {
			if c.changed() {
				out[c.target.Table] = struct{}{}
				out[e.meta.Table] = struct{}{}
			}
		}
	}
	return out
}

func initialVersion(meta *metadata.Entity) any {
	if meta.Version == metadata.VersionTimestamp {
		return nextTimestamp(nil)
	}
	return int64(0)
}

func nextVersion(meta *metadata.Entity, current any) any {
	if meta.Version == metadata.VersionTimestamp {
		return nextTimestamp(current)
	}
	switch v := store.Normalize(current).(type) {
	case int64:
		return v + 1
	case float64:
		return int64(v) + 1
	}
	return int64(1)
}

// nextTimestamp returns the current UTC time at microsecond precision,
// strictly after prev.
func nextTimestamp(prev any) time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if p, ok := store.Normalize(prev).(time.Time); ok && !now.After(p) {
		return p.Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

func slicesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !store.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

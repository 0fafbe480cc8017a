package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/store"
)

// Session is a unit of work. It keeps at most one Entity per (entity name,
// id), tracks changes against load time snapshots and writes them in one
// store transaction. A Session must not be used by more than one goroutine.
type Session struct {
	f         *Factory
	logger    *slog.Logger
	hooks     hooks
	flushMode FlushMode
	cacheMode CacheMode
	profiles  map[string]*metadata.FetchProfile

	entities map[entityKey]*Entity
	// proxies holds references whose target is not in the identity map yet.
	proxies  map[entityKey]*Proxy
	order    []*Entity
	proxySeq int

	tx      store.Tx
	txStart int64
	// written lists the tables changed by the open transaction.
	written        map[string]struct{}
	preInvalidated []string
	locks          []heldLock
	afterCommit    []func(ctx context.Context)
	conditional    []*Entity

	closed bool
}

type heldLock struct {
	region *secondlevel.Region
	lock   *secondlevel.SoftLock
}

func (s *Session) now() int64 {
	if s.f.cache.Enabled() {
		return s.f.cache.Clock().Next()
	}
	return time.Now().UnixNano()
}

func (s *Session) ensureOpen() error {
	if s.closed {
		return sessionClosedError()
	}
	return nil
}

func (s *Session) entityMeta(name string) (*metadata.Entity, error) {
	return s.f.registry.Entity(name)
}

func (s *Session) reader() store.Reader {
	if s.tx != nil {
		return s.tx
	}
	return s.f.store
}

func (s *Session) sequencer() store.Sequencer {
	if s.tx != nil {
		return s.tx
	}
	return s.f.store
}

// attach registers e in the identity map and binds pending references to it.
func (s *Session) attach(e *Entity) {
	k := e.key()
	s.entities[k] = e
	s.order = append(s.order, e)
	if p, ok := s.proxies[k]; ok {
		delete(s.proxies, k)
		p.entity = e
		if e.self == nil {
			e.self = p
		}
	}
}

func (s *Session) lookup(name string, id any) (*Entity, bool) {
	e, ok := s.entities[entityKey{name: name, id: store.Normalize(id)}]
	return e, ok
}

func (s *Session) isManaged(e *Entity) bool {
	if e == nil || e.session != s {
		return false
	}
	cur, ok := s.entities[e.key()]
	return ok && cur == e
}

func (s *Session) forget(e *Entity) {
	delete(s.entities, e.key())
}

// managed returns the live entries of the identity map in attach order.
func (s *Session) managed() []*Entity {
	live := s.order[:0]
	seen := make(map[*Entity]bool, len(s.order))
	for _, e := range s.order {
		if s.isManaged(e) && !seen[e] {
			seen[e] = true
			live = append(live, e)
		}
	}
	s.order = live
	out := make([]*Entity, len(live))
	copy(out, live)
	return out
}

// detachAll empties the identity map. Unloaded references lose their
// ability to initialize.
func (s *Session) detachAll() {
	for _, e := range s.entities {
		e.state = Detached
	}
	for _, p := range s.proxies {
		p.detached = true
	}
	s.entities = make(map[entityKey]*Entity)
	s.proxies = make(map[entityKey]*Proxy)
	s.order = nil
}

// New returns a transient entity of the named type.
func (s *Session) New(name string) (*Entity, error) {
	meta, err := s.entityMeta(name)
	if err != nil {
		return nil, err
	}
	return newEntity(s, meta), nil
}

// Persist makes a transient entity managed and schedules its insert.
// Persist on a removed entity cancels the removal.
func (s *Session) Persist(ctx context.Context, e *Entity) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.persist(ctx, e, make(map[*Entity]bool))
}

func (s *Session) persist(ctx context.Context, e *Entity, visited map[*Entity]bool) error {
	if visited[e] {
		return nil
	}
	visited[e] = true

	switch e.state {
	case Detached:
		return detachedEntityError(e.meta.Name, e.id)
	case Managed, Removed:
		if !s.isManaged(e) {
			return detachedEntityError(e.meta.Name, e.id)
		}
		e.state = Managed
	case Transient:
		if err := s.hooks.run(ctx, s, PrePersist, e); err != nil {
			return err
		}
		e.session = s
		if err := s.assignID(ctx, e); err != nil {
			return err
		}
		if cur, ok := s.entities[e.key()]; ok && cur != e {
			return IdentityConflictError(e.meta.Name, e.id)
		}
		e.state = Managed
		s.attach(e)
		s.logger.Debug("entity persisted", "entity", e.meta.Name, "id", e.id)
	}
	return s.cascade(e, metadata.CascadePersist, func(target *Entity) error {
		if target.state == Detached {
			return nil
		}
		return s.persist(ctx, target, visited)
	})
}

func (s *Session) assignID(ctx context.Context, e *Entity) error {
	if e.id != nil {
		return nil
	}
	switch e.meta.IDGenerator {
	case metadata.IDSequence:
		id, err := s.sequencer().NextID(ctx, e.meta.Table)
		if err != nil {
			return store.Wrap(err, "failed to generate identifier")
		}
		e.id = id
	case metadata.IDUUID:
		e.id = uuid.NewString()
	default:
		return missingIDError(e.meta.Name)
	}
	if e.self != nil {
		e.self.id = e.id
	}
	return nil
}

// cascade calls fn for every loaded target reachable from e through an
// association cascading op. Unloaded references and collections are skipped.
func (s *Session) cascade(e *Entity, op metadata.CascadeType, fn func(*Entity) error) error {
	for i := range e.meta.Associations {
		a := &e.meta.Associations[i]
		if !a.Cascade.Has(op) {
			continue
		}
		if a.Cardinality.IsToOne() {
			if p := e.refs[a.Name]; p != nil && p.entity != nil {
				if err := fn(p.entity); err != nil {
					return err
				}
			}
			continue
		}
		c := e.colls[a.Name]
		if c == nil || !c.initialized {
			continue
		}
		for _, el := range c.elements {
			if err := fn(el); err != nil {
				return err
			}
		}
	}
	return nil
}

// Find returns the managed entity with id, reading through the identity map,
// the second-level cache and the store in that order.
func (s *Session) Find(ctx context.Context, name string, id any) (*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	meta, err := s.entityMeta(name)
	if err != nil {
		return nil, err
	}
	id = store.Normalize(id)
	if e, ok := s.lookup(name, id); ok {
		if e.state == Removed {
			return nil, EntityNotFoundError(name, id)
		}
		return e, nil
	}
	if err := s.fetchEntities(ctx, meta, []any{id}); err != nil {
		return nil, err
	}
	e, ok := s.lookup(name, id)
	if !ok {
		return nil, EntityNotFoundError(name, id)
	}
	return e, nil
}

// GetReference returns a reference to the entity with id without touching
// the store. The target is loaded on first access and may turn out not to exist.
func (s *Session) GetReference(name string, id any) (*Proxy, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	meta, err := s.entityMeta(name)
	if err != nil {
		return nil, err
	}
	return s.reference(meta, id), nil
}

// Remove schedules the delete of a managed entity and cascades the removal.
func (s *Session) Remove(ctx context.Context, e *Entity) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.remove(ctx, e, make(map[*Entity]bool))
}

func (s *Session) remove(ctx context.Context, e *Entity, visited map[*Entity]bool) error {
	if visited[e] {
		return nil
	}
	visited[e] = true

	switch {
	case e.state == Transient || e.state == Removed:
		return nil
	case e.state == Detached || !s.isManaged(e):
		return detachedEntityError(e.meta.Name, e.id)
	}

	// Cascaded removal needs the full membership.
	for _, a := range e.meta.Collections() {
		if a.Cascade.Has(metadata.CascadeRemove) || a.OrphanRemoval {
			if err := e.colls[a.Name].Load(ctx); err != nil {
				return err
			}
		}
	}
	for _, a := range e.meta.ToOne() {
		if a.Cascade.Has(metadata.CascadeRemove) {
			if p := e.refs[a.Name]; p != nil {
				if _, err := p.Load(ctx); err != nil && !IsEntityNotFound(err) {
					return err
				}
			}
		}
	}

	if e.snapshot == nil {
		// never inserted
		s.forget(e)
		e.state = Transient
	} else {
		e.state = Removed
	}
	s.logger.Debug("entity removed", "entity", e.meta.Name, "id", e.id)

	if err := s.cascade(e, metadata.CascadeRemove, func(target *Entity) error {
		return s.remove(ctx, target, visited)
	}); err != nil {
		return err
	}
	for _, a := range e.meta.Collections() {
		if !a.OrphanRemoval || a.Cascade.Has(metadata.CascadeRemove) {
			continue
		}
		for _, el := range e.colls[a.Name].elements {
			if err := s.remove(ctx, el, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// Merge copies the state of a detached or transient entity onto the managed
// instance with the same id, loading it if needed, and returns the managed
// instance. A versioned entity whose version differs from the stored one
// fails with a StaleStateError.
func (s *Session) Merge(ctx context.Context, e *Entity) (*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.merge(ctx, e, make(map[*Entity]*Entity))
}

func (s *Session) merge(ctx context.Context, e *Entity, visited map[*Entity]*Entity) (*Entity, error) {
	if m, ok := visited[e]; ok {
		return m, nil
	}
	if s.isManaged(e) {
		visited[e] = e
		return e, nil
	}

	var managed *Entity
	if e.id != nil {
		found, err := s.Find(ctx, e.meta.Name, e.id)
		switch {
		case err == nil:
			managed = found
		case IsEntityNotFound(err):
		default:
			return nil, err
		}
	}

	if managed == nil {
		if e.state == Detached && e.meta.IsVersioned() {
			return nil, StaleStateError(e.meta.Name, e.id, e.version)
		}
		managed = newEntity(s, e.meta)
		managed.id = e.id
		visited[e] = managed
		if err := s.copyState(ctx, e, managed, visited); err != nil {
			return nil, err
		}
		if err := s.Persist(ctx, managed); err != nil {
			return nil, err
		}
		return managed, nil
	}

	if e.meta.IsVersioned() && e.state == Detached && !store.Equal(e.version, managed.version) {
		return nil, StaleStateError(e.meta.Name, e.id, e.version)
	}
	visited[e] = managed
	if err := s.copyState(ctx, e, managed, visited); err != nil {
		return nil, err
	}
	return managed, nil
}

func (s *Session) copyState(ctx context.Context, from, to *Entity, visited map[*Entity]*Entity) error {
	for _, f := range from.meta.Fields {
		to.values[f] = from.values[f]
	}
	for k, v := range from.extra {
		to.extra[k] = v
	}
	for _, a := range from.meta.ToOne() {
		p := from.refs[a.Name]
		if p == nil {
			delete(to.refs, a.Name)
			continue
		}
		if a.Cascade.Has(metadata.CascadeMerge) && p.entity != nil {
			target, err := s.merge(ctx, p.entity, visited)
			if err != nil {
				return err
			}
			to.refs[a.Name] = target.proxy()
			continue
		}
		if p.entity != nil && p.entity.state == Transient {
			to.refs[a.Name] = p
			continue
		}
		to.refs[a.Name] = s.reference(s.f.registry.MustEntity(a.Target), p.ID())
	}
	for _, a := range from.meta.Collections() {
		src := from.colls[a.Name]
		if !src.initialized {
			continue
		}
		dst := to.colls[a.Name]
		if err := dst.Load(ctx); err != nil {
			return err
		}
		elements := make([]*Entity, 0, len(src.elements))
		for _, el := range src.elements {
			var target *Entity
			var err error
			switch {
			case a.Cascade.Has(metadata.CascadeMerge):
				target, err = s.merge(ctx, el, visited)
			case el.id == nil:
				return transientReferenceError(from.meta.Name, a.Name, el.meta.Name)
			default:
				target, err = s.Find(ctx, el.meta.Name, el.id)
			}
			if err != nil {
				return err
			}
			elements = append(elements, target)
		}
		dst.elements = elements
		dst.keys = append([]any(nil), src.keys...)
	}
	return nil
}

// Refresh overwrites the state of a managed entity with the stored row,
// bypassing the second-level cache, and resets its collections.
func (s *Session) Refresh(ctx context.Context, e *Entity) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.refresh(ctx, e, make(map[*Entity]bool))
}

func (s *Session) refresh(ctx context.Context, e *Entity, visited map[*Entity]bool) error {
	if visited[e] {
		return nil
	}
	visited[e] = true
	if !s.isManaged(e) || e.state != Managed {
		return detachedEntityError(e.meta.Name, e.id)
	}

	var targets []*Entity
	_ = s.cascade(e, metadata.CascadeRefresh, func(t *Entity) error {
		targets = append(targets, t)
		return nil
	})

	row, err := s.reader().ReadByKey(ctx, e.meta.Table, e.meta.IDColumn, e.id)
	s.f.stats.entityFetches.Add(1)
	if err != nil {
		if store.IsRowNotFound(err) {
			return EntityNotFoundError(e.meta.Name, e.id)
		}
		return store.Wrap(err, "failed to refresh entity")
	}
	e.hydrate(row)
	s.f.stats.entityLoads.Add(1)
	if err := s.hooks.run(ctx, s, PostLoad, e); err != nil {
		return err
	}
	for _, t := range targets {
		if s.isManaged(t) && t.state == Managed && t.snapshot != nil {
			if err := s.refresh(ctx, t, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// Detach removes e from the identity map. Pending changes of e are discarded.
func (s *Session) Detach(e *Entity) {
	s.detach(e, make(map[*Entity]bool))
}

func (s *Session) detach(e *Entity, visited map[*Entity]bool) {
	if visited[e] || !s.isManaged(e) {
		return
	}
	visited[e] = true
	_ = s.cascade(e, metadata.CascadeDetach, func(t *Entity) error {
		s.detach(t, visited)
		return nil
	})
	s.forget(e)
	e.state = Detached
}

// Clear detaches every managed entity.
func (s *Session) Clear() {
	s.detachAll()
}

// Contains reports whether e is managed by the session.
func (s *Session) Contains(e *Entity) bool {
	return s.isManaged(e) && e.state == Managed
}

// Reattach makes a detached entity managed again without reading the store.
// Changes made while detached are flushed as updates.
func (s *Session) Reattach(e *Entity) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.isManaged(e) {
		return nil
	}
	if e.state != Detached {
		return errors.New(fmt.Sprintf("%s#%v is %s and cannot be reattached", e.meta.Name, e.id, e.state), errors.CategoryBadInput).
			WithTextCode(TextCodeDetachedEntity)
	}
	if cur, ok := s.entities[e.key()]; ok && cur != e {
		return IdentityConflictError(e.meta.Name, e.id)
	}
	e.session = s
	e.state = Managed
	s.attach(e)
	for name, p := range e.refs {
		if p.entity != nil {
			continue
		}
		e.refs[name] = s.reference(p.meta, p.id)
	}
	return nil
}

// Lock sets the optimistic lock mode of a managed versioned entity.
func (s *Session) Lock(ctx context.Context, e *Entity, mode LockMode) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if !s.isManaged(e) {
		return detachedEntityError(e.meta.Name, e.id)
	}
	if mode != LockNone && !e.meta.IsVersioned() {
		return notVersionedError(e.meta.Name)
	}
	e.lockMode = mode
	return nil
}

// SetReadOnly excludes a managed entity from dirty checking.
func (s *Session) SetReadOnly(e *Entity, readOnly bool) {
	e.readOnly = readOnly
	if !readOnly && e.snapshot != nil {
		e.snapshot = store.NormalizeRow(e.dehydrate())
	}
}

func (s *Session) SetCacheMode(m CacheMode) { s.cacheMode = m }
func (s *Session) CacheMode() CacheMode     { return s.cacheMode }
func (s *Session) SetFlushMode(m FlushMode) { s.flushMode = m }
func (s *Session) FlushMode() FlushMode     { return s.flushMode }
func (s *Session) Factory() *Factory        { return s.f }

// EnableFetchProfile makes later loads of this session fetch the
// associations named by the registered profile eagerly.
func (s *Session) EnableFetchProfile(name string) error {
	p, err := s.f.registry.FetchProfile(name)
	if err != nil {
		return err
	}
	if s.profiles == nil {
		s.profiles = make(map[string]*metadata.FetchProfile)
	}
	s.profiles[name] = p
	return nil
}

// DisableFetchProfile reverts EnableFetchProfile. Unknown names are ignored.
func (s *Session) DisableFetchProfile(name string) {
	delete(s.profiles, name)
}

func (s *Session) IsFetchProfileEnabled(name string) bool {
	_, ok := s.profiles[name]
	return ok
}

// fetchesEagerly reports whether a must be loaded with its owner.
func (s *Session) fetchesEagerly(owner *metadata.Entity, a *metadata.Association) bool {
	if a.Fetch == metadata.FetchEager {
		return true
	}
	for _, p := range s.profiles {
		if p.Includes(owner.Name, a.Name) {
			return true
		}
	}
	return false
}

// IsOpen reports whether the session has not been closed.
func (s *Session) IsOpen() bool { return !s.closed }

// Close rolls back an open transaction and detaches every entity.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.abort(ctx)
	s.detachAll()
	s.closed = true
	s.f.stats.sessionsClosed.Add(1)
	s.logger.Debug("session closed")
	return nil
}

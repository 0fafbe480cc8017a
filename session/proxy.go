package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/store"
)

// Proxy stands in for an entity that may not be loaded yet. It knows its
// entity type and id; the entity is read on first access, together with
// other pending references of the same type.
type Proxy struct {
	meta    *metadata.Entity
	session *Session
	id      any
	seq     int

	// entity is set once the target is in the identity map, possibly by a
	// batch load started from another proxy.
	entity      *Entity
	initialized bool
	detached    bool
}

// ID returns the target id. It never loads the target.
func (p *Proxy) ID() any {
	if p.entity != nil {
		return p.entity.id
	}
	return p.id
}

// Name returns the target entity type name.
func (p *Proxy) Name() string { return p.meta.Name }

// IsInitialized reports whether the target has been accessed through this reference.
func (p *Proxy) IsInitialized() bool { return p.initialized }

// Load returns the target entity, reading it if needed. Reading fails with
// a LazyInitializationError once the session is closed.
func (p *Proxy) Load(ctx context.Context) (*Entity, error) {
	if p.entity != nil {
		p.initialized = true
		return p.entity, nil
	}
	if p.detached || p.session == nil || p.session.closed {
		return nil, LazyInitializationError(fmt.Sprintf("reference to %s#%v", p.meta.Name, p.id))
	}
	if err := p.session.loadProxy(ctx, p); err != nil {
		return nil, err
	}
	if p.entity == nil {
		return nil, EntityNotFoundError(p.meta.Name, p.id)
	}
	p.initialized = true
	return p.entity, nil
}

// Get loads the target and returns one of its fields.
func (p *Proxy) Get(ctx context.Context, field string) (any, error) {
	e, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !e.meta.HasField(field) {
		return nil, unknownFieldError(e.meta.Name, field)
	}
	return e.Get(field), nil
}

// reference returns the shared reference for (meta, id): the entity's own
// proxy when it is managed, a pending proxy otherwise.
func (s *Session) reference(meta *metadata.Entity, id any) *Proxy {
	id = store.Normalize(id)
	k := entityKey{name: meta.Name, id: id}
	if e, ok := s.entities[k]; ok {
		return e.proxy()
	}
	if p, ok := s.proxies[k]; ok {
		return p
	}
	s.proxySeq++
	p := &Proxy{meta: meta, session: s, id: id, seq: s.proxySeq}
	s.proxies[k] = p
	return p
}

// loadProxy loads the target of p along with up to BatchSize-1 other
// pending references of the same entity type.
func (s *Session) loadProxy(ctx context.Context, p *Proxy) error {
	batch := s.f.cfg.BatchSize
	ids := []any{p.id}
	var siblings []*Proxy
	for k, other := range s.proxies {
		if k.name == p.meta.Name && other != p && other.entity == nil && !other.detached {
			siblings = append(siblings, other)
		}
	}
	sort.Slice(siblings, func(i, j int) bool { return siblings[i].seq < siblings[j].seq })
	for _, other := range siblings {
		if len(ids) >= batch {
			break
		}
		ids = append(ids, other.id)
	}
	return s.fetchEntities(ctx, p.meta, ids)
}

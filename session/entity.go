package session

import (
	"maps"

	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/store"
)

// State is the lifecycle state of an entity.
type State int

const (
	Transient State = iota
	Managed
	Detached
	Removed
)

func (s State) String() string {
	switch s {
	case Transient:
		return "transient"
	case Managed:
		return "managed"
	case Detached:
		return "detached"
	case Removed:
		return "removed"
	}
	return "unknown"
}

type entityKey struct {
	name string
	id   any
}

// Entity is one managed instance: scalar field values, to-one references,
// collections, the version and the snapshot taken when it was last
// synchronized with the store.
type Entity struct {
	meta    *metadata.Entity
	session *Session

	id      any
	version any
	state   State

	values map[string]any
	// extra holds columns maintained by collections of other entities, such
	// as the foreign key of a unidirectional one-to-many.
	extra map[string]any
	refs  map[string]*Proxy
	colls map[string]*Collection

	// snapshot is the row as last written to or read from the store; nil
	// until the entity is inserted.
	snapshot store.Row
	readOnly bool
	lockMode LockMode
	self     *Proxy
	// forceIncrement is set during flush when a dependent change must bump the version.
	forceIncrement bool
}

func newEntity(s *Session, meta *metadata.Entity) *Entity {
	e := &Entity{
		meta:    meta,
		session: s,
		values:  make(map[string]any, len(meta.Fields)),
		extra:   make(map[string]any),
		refs:    make(map[string]*Proxy),
		colls:   make(map[string]*Collection),
	}
	for _, a := range meta.Collections() {
		e.colls[a.Name] = newCollection(e, a, true)
	}
	return e
}

func (e *Entity) key() entityKey { return entityKey{name: e.meta.Name, id: e.id} }

// Name returns the entity type name.
func (e *Entity) Name() string { return e.meta.Name }

func (e *Entity) Meta() *metadata.Entity { return e.meta }

// ID returns the primary key, nil for transient entities without an assigned id.
func (e *Entity) ID() any { return e.id }

// SetID assigns the primary key of a transient entity.
func (e *Entity) SetID(id any) error {
	if e.state != Transient {
		return detachedEntityError(e.meta.Name, e.id)
	}
	e.id = store.Normalize(id)
	return nil
}

func (e *Entity) Version() any { return e.version }
func (e *Entity) State() State { return e.state }

// IsReadOnly reports whether changes to the entity are ignored at flush.
func (e *Entity) IsReadOnly() bool { return e.readOnly }

// Get returns the value of a scalar field.
func (e *Entity) Get(field string) any {
	return e.values[field]
}

// Set assigns a scalar field.
func (e *Entity) Set(field string, value any) error {
	if !e.meta.HasField(field) {
		return unknownFieldError(e.meta.Name, field)
	}
	e.values[field] = store.Normalize(value)
	return nil
}

// Values returns a copy of the scalar field values.
func (e *Entity) Values() map[string]any {
	return maps.Clone(e.values)
}

// Ref returns the reference held by a to-one association, nil when unset.
func (e *Entity) Ref(name string) *Proxy {
	return e.refs[name]
}

// SetRef points a to-one association at target; nil clears it.
func (e *Entity) SetRef(name string, target *Entity) error {
	a, ok := e.meta.Association(name)
	if !ok || !a.Cardinality.IsToOne() {
		return unknownAssociationError(e.meta.Name, name)
	}
	if target == nil {
		delete(e.refs, name)
		return nil
	}
	if target.meta.Name != a.Target {
		return unknownAssociationError(e.meta.Name, name)
	}
	e.refs[name] = target.proxy()
	return nil
}

// SetRefProxy points a to-one association at a reference obtained from
// GetReference without loading it.
func (e *Entity) SetRefProxy(name string, target *Proxy) error {
	a, ok := e.meta.Association(name)
	if !ok || !a.Cardinality.IsToOne() || (target != nil && target.meta.Name != a.Target) {
		return unknownAssociationError(e.meta.Name, name)
	}
	if target == nil {
		delete(e.refs, name)
		return nil
	}
	e.refs[name] = target
	return nil
}

// Collection returns the collection of a one-to-many association.
func (e *Entity) Collection(name string) (*Collection, error) {
	c, ok := e.colls[name]
	if !ok {
		return nil, unknownAssociationError(e.meta.Name, name)
	}
	return c, nil
}

// IsLoaded reports whether an association can be read without a store access.
func (e *Entity) IsLoaded(association string) bool {
	if c, ok := e.colls[association]; ok {
		return c.initialized
	}
	p := e.refs[association]
	return p == nil || p.entity != nil
}

// proxy returns the proxy representing this entity in references.
func (e *Entity) proxy() *Proxy {
	if e.self == nil {
		e.self = &Proxy{meta: e.meta, session: e.session, id: e.id, entity: e, initialized: true}
	}
	return e.self
}

// setColumn writes a column maintained by another entity's collection.
func (e *Entity) setColumn(column string, value any) {
	if e.meta.HasField(column) {
		e.values[column] = value
		return
	}
	e.extra[column] = value
}

// column returns the current value of any column of the entity row.
func (e *Entity) column(col string) any {
	if e.meta.HasField(col) {
		return e.values[col]
	}
	if a, ok := e.meta.ToOneByColumn(col); ok {
		if p := e.refs[a.Name]; p != nil {
			return p.ID()
		}
		return nil
	}
	return e.extra[col]
}

// dehydrate flattens the entity into a row.
func (e *Entity) dehydrate() store.Row {
	row := make(store.Row, len(e.meta.Fields)+len(e.extra)+len(e.refs)+2)
	for k, v := range e.extra {
		row[k] = v
	}
	for _, f := range e.meta.Fields {
		row[f] = e.values[f]
	}
	for _, a := range e.meta.ToOne() {
		var fk any
		if p := e.refs[a.Name]; p != nil {
			fk = p.ID()
		}
		row[a.JoinColumn] = fk
	}
	row[e.meta.IDColumn] = e.id
	if e.meta.IsVersioned() {
		row[e.meta.VersionColumn] = e.version
	}
	return row
}

// hydrate replaces the state of the entity with row and resets its
// collections. To-one foreign keys become references resolved through the
// session.
func (e *Entity) hydrate(row store.Row) {
	for _, a := range e.meta.Collections() {
		e.colls[a.Name] = newCollection(e, a, false)
	}
	e.id = store.Normalize(row[e.meta.IDColumn])
	e.values = make(map[string]any, len(e.meta.Fields))
	e.extra = make(map[string]any)
	e.refs = make(map[string]*Proxy)
	for col, v := range row {
		v = store.Normalize(v)
		switch {
		case col == e.meta.IDColumn:
		case e.meta.IsVersioned() && col == e.meta.VersionColumn:
			e.version = v
		case e.meta.HasField(col):
			e.values[col] = v
		default:
			if a, ok := e.meta.ToOneByColumn(col); ok {
				if v != nil {
					e.refs[a.Name] = e.session.reference(e.session.f.registry.MustEntity(a.Target), v)
				}
				continue
			}
			e.extra[col] = v
		}
	}
	e.snapshot = store.NormalizeRow(row.Clone())
}

// dirtyColumns returns the columns whose value differs from the snapshot.
func (e *Entity) dirtyColumns(row store.Row) []string {
	var dirty []string
	for col, v := range row {
		if col == e.meta.IDColumn || (e.meta.IsVersioned() && col == e.meta.VersionColumn) {
			continue
		}
		old, ok := e.snapshot[col]
		if !ok && v == nil {
			continue
		}
		if !store.Equal(old, v) {
			dirty = append(dirty, col)
		}
	}
	return dirty
}

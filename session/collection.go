package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/store"
)

// Collection is the one-to-many association of an owner entity. It is
// initialized on first access; uninitialized collections of the same role
// are loaded together.
//
// Bags keep insertion order and allow duplicates, sets hold each entity
// once, lists follow their order column and maps are keyed by their map key
// column.
type Collection struct {
	owner  *Entity
	assoc  *metadata.Association
	target *metadata.Entity
	role   string

	initialized bool
	elements    []*Entity
	keys        []any

	// membership as last loaded or flushed
	snapshot     []*Entity
	snapshotKeys []any
}

// newCollection returns the collection of a on owner. Collections of new
// entities start out initialized and empty.
func newCollection(owner *Entity, a *metadata.Association, initialized bool) *Collection {
	c := &Collection{
		owner:       owner,
		assoc:       a,
		role:        owner.meta.Role(a),
		initialized: initialized,
	}
	c.target, _ = owner.session.f.registry.Entity(a.Target)
	return c
}

// Role returns the collection role, "<Owner>.<association>".
func (c *Collection) Role() string { return c.role }

func (c *Collection) Kind() metadata.CollectionKind { return c.assoc.Kind }

func (c *Collection) IsInitialized() bool { return c.initialized }

// Load initializes the collection.
func (c *Collection) Load(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	s := c.owner.session
	if s == nil || s.closed || c.owner.state == Detached || !s.isManaged(c.owner) {
		return LazyInitializationError("collection " + c.role)
	}
	return s.loadCollection(ctx, c)
}

func (c *Collection) Len(ctx context.Context) (int, error) {
	if err := c.Load(ctx); err != nil {
		return 0, err
	}
	return len(c.elements), nil
}

// Elements returns the members in collection order.
func (c *Collection) Elements(ctx context.Context) ([]*Entity, error) {
	if err := c.Load(ctx); err != nil {
		return nil, err
	}
	out := make([]*Entity, len(c.elements))
	copy(out, c.elements)
	return out, nil
}

func (c *Collection) Contains(ctx context.Context, e *Entity) (bool, error) {
	if err := c.Load(ctx); err != nil {
		return false, err
	}
	return c.indexOf(e) >= 0, nil
}

// Add appends e. Sets ignore entities already present. For maps the key is
// read from the map key field of e.
func (c *Collection) Add(ctx context.Context, e *Entity) error {
	if err := c.checkElement(e); err != nil {
		return err
	}
	if c.assoc.Kind == metadata.CollectionMap {
		if !e.meta.HasField(c.assoc.MapKeyColumn) {
			return c.kindError("Add")
		}
		return c.Put(ctx, e.Get(c.assoc.MapKeyColumn), e)
	}
	if err := c.Load(ctx); err != nil {
		return err
	}
	if c.assoc.Kind == metadata.CollectionSet && c.indexOf(e) >= 0 {
		return nil
	}
	c.elements = append(c.elements, e)
	c.link(e)
	return nil
}

// Remove removes the first occurrence of e and reports whether it was present.
func (c *Collection) Remove(ctx context.Context, e *Entity) (bool, error) {
	if err := c.Load(ctx); err != nil {
		return false, err
	}
	i := c.indexOf(e)
	if i < 0 {
		return false, nil
	}
	c.removeAt(i)
	if c.indexOf(e) < 0 {
		c.unlink(e)
	}
	return true, nil
}

// Set replaces the list element at index. index may equal Len to append.
func (c *Collection) Set(ctx context.Context, index int, e *Entity) error {
	if c.assoc.Kind != metadata.CollectionList {
		return c.kindError("Set")
	}
	if err := c.checkElement(e); err != nil {
		return err
	}
	if err := c.Load(ctx); err != nil {
		return err
	}
	switch {
	case index == len(c.elements):
		c.elements = append(c.elements, e)
	case index >= 0 && index < len(c.elements):
		old := c.elements[index]
		c.elements[index] = e
		if c.indexOf(old) < 0 {
			c.unlink(old)
		}
	default:
		return errors.New(fmt.Sprintf("index %d out of range for %s of length %d", index, c.role, len(c.elements)), errors.CategoryBadInput).
			WithTextCode("INDEX_OUT_OF_RANGE")
	}
	c.link(e)
	return nil
}

// Put associates e with key in a map collection, replacing the previous
// element for key.
func (c *Collection) Put(ctx context.Context, key any, e *Entity) error {
	if c.assoc.Kind != metadata.CollectionMap {
		return c.kindError("Put")
	}
	if err := c.checkElement(e); err != nil {
		return err
	}
	if err := c.Load(ctx); err != nil {
		return err
	}
	key = store.Normalize(key)
	if i := c.keyIndex(key); i >= 0 {
		old := c.elements[i]
		c.elements[i] = e
		if c.indexOf(old) < 0 {
			c.unlink(old)
		}
	} else {
		c.elements = append(c.elements, e)
		c.keys = append(c.keys, key)
	}
	if c.assoc.MapOrder == metadata.KeyOrder {
		c.sortByKey()
	}
	c.link(e)
	return nil
}

// Lookup returns the map element for key.
func (c *Collection) Lookup(ctx context.Context, key any) (*Entity, bool, error) {
	if c.assoc.Kind != metadata.CollectionMap {
		return nil, false, c.kindError("Lookup")
	}
	if err := c.Load(ctx); err != nil {
		return nil, false, err
	}
	i := c.keyIndex(store.Normalize(key))
	if i < 0 {
		return nil, false, nil
	}
	return c.elements[i], true, nil
}

// Keys returns the map keys in iteration order.
func (c *Collection) Keys(ctx context.Context) ([]any, error) {
	if c.assoc.Kind != metadata.CollectionMap {
		return nil, c.kindError("Keys")
	}
	if err := c.Load(ctx); err != nil {
		return nil, err
	}
	return append([]any(nil), c.keys...), nil
}

// Clear removes every element.
func (c *Collection) Clear(ctx context.Context) error {
	if err := c.Load(ctx); err != nil {
		return err
	}
	for _, e := range c.elements {
		c.unlink(e)
	}
	c.elements = nil
	c.keys = nil
	return nil
}

func (c *Collection) checkElement(e *Entity) error {
	if e == nil || e.meta.Name != c.assoc.Target {
		return unknownAssociationError(c.owner.meta.Name, c.assoc.Name)
	}
	return nil
}

func (c *Collection) kindError(op string) error {
	return errors.New(fmt.Sprintf("%s is not supported on %s collection %s", op, c.assoc.Kind, c.role), errors.CategoryBadInput).
		WithTextCode(TextCodeUnknownAssociation)
}

func (c *Collection) indexOf(e *Entity) int {
	for i, el := range c.elements {
		if el == e {
			return i
		}
	}
	return -1
}

func (c *Collection) keyIndex(key any) int {
	for i, k := range c.keys {
		if store.Equal(k, key) {
			return i
		}
	}
	return -1
}

func (c *Collection) removeAt(i int) {
	c.elements = append(c.elements[:i], c.elements[i+1:]...)
	if c.assoc.Kind == metadata.CollectionMap {
		c.keys = append(c.keys[:i], c.keys[i+1:]...)
	}
}

// link points the inverse many-to-one of a bidirectional collection at the owner.
func (c *Collection) link(e *Entity) {
	if c.assoc.MappedBy != "" {
		e.refs[c.assoc.MappedBy] = c.owner.proxy()
	}
}

func (c *Collection) unlink(e *Entity) {
	if c.assoc.MappedBy == "" {
		return
	}
	if p := e.refs[c.assoc.MappedBy]; p != nil && p.ID() == c.owner.ID() {
		delete(e.refs, c.assoc.MappedBy)
	}
}

func (c *Collection) sortByKey() {
	idx := make([]int, len(c.elements))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return store.Compare(c.keys[idx[a]], c.keys[idx[b]]) < 0 })
	elements := make([]*Entity, len(idx))
	keys := make([]any, len(idx))
	for i, j := range idx {
		elements[i] = c.elements[j]
		keys[i] = c.keys[j]
	}
	c.elements, c.keys = elements, keys
}

// changed reports whether the membership differs from the snapshot.
func (c *Collection) changed() bool {
	if !c.initialized {
		return false
	}
	if len(c.elements) != len(c.snapshot) {
		return true
	}
	for i := range c.elements {
		if c.elements[i] != c.snapshot[i] {
			return true
		}
	}
	for i := range c.keys {
		if i >= len(c.snapshotKeys) || !store.Equal(c.keys[i], c.snapshotKeys[i]) {
			return true
		}
	}
	return false
}

// removed returns the snapshot members no longer in the collection.
func (c *Collection) removed() []*Entity {
	var out []*Entity
	for _, e := range c.snapshot {
		if c.indexOf(e) < 0 && !containsPtr(out, e) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Collection) takeSnapshot() {
	c.snapshot = append([]*Entity(nil), c.elements...)
	c.snapshotKeys = append([]any(nil), c.keys...)
}

func (c *Collection) entry(s *Session) *secondlevel.Entry {
	ids := make([]any, len(c.elements))
	for i, e := range c.elements {
		ids[i] = e.id
	}
	entry := &secondlevel.Entry{Elements: ids, Timestamp: s.now()}
	if c.assoc.Kind == metadata.CollectionMap {
		entry.Keys = append([]any(nil), c.keys...)
	}
	return entry
}

func containsPtr(list []*Entity, e *Entity) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}

// collectionCached reports whether membership of the role is kept in the
// second-level cache.
func (s *Session) collectionCached(owner *metadata.Entity, a *metadata.Association) bool {
	return a.Cached && s.f.cache.Enabled() && owner.IsCached()
}

// loadCollection initializes c together with up to BatchSize-1 other
// uninitialized collections of the same role. Cached memberships are
// assembled from their entries; the remaining owners are read with one
// query on the join column.
func (s *Session) loadCollection(ctx context.Context, c *Collection) error {
	owners := []*Collection{c}
	batch := c.assoc.EffectiveBatchSize(s.f.cfg.BatchSize)
	for _, e := range s.managed() {
		if len(owners) >= batch {
			break
		}
		if e == c.owner || e.meta != c.owner.meta || e.state != Managed || e.snapshot == nil {
			continue
		}
		if other := e.colls[c.assoc.Name]; !other.initialized {
			owners = append(owners, other)
		}
	}

	target := c.target
	var region *secondlevel.Region
	cached := s.collectionCached(c.owner.meta, c.assoc)
	if cached {
		region = s.f.cache.CollectionRegion(c.owner.meta, c.assoc)
	}

	var pending []*Collection
	if cached && s.cacheMode.reads() && !s.wrote(target.Table) {
		for _, coll := range owners {
			ok, err := s.assembleCollection(ctx, region, coll)
			if err != nil {
				return err
			}
			if !ok {
				pending = append(pending, coll)
			}
		}
	} else {
		pending = owners
	}
	if len(pending) == 0 {
		return nil
	}

	ids := make([]any, len(pending))
	byOwner := make(map[any]*Collection, len(pending))
	for i, coll := range pending {
		ids[i] = coll.owner.id
		byOwner[coll.owner.id] = coll
	}
	q := store.Query{Table: target.Table, Filters: []store.Filter{store.In(c.assoc.JoinColumn, ids)}}
	if len(ids) == 1 {
		q.Filters = []store.Filter{store.Eq(c.assoc.JoinColumn, ids[0])}
	}
	if c.assoc.Kind == metadata.CollectionList {
		q.OrderBy = []store.Order{{Column: c.assoc.OrderColumn}}
	}
	rows, err := s.reader().ReadByQuery(ctx, q)
	s.f.stats.collectionFetches.Add(1)
	if err != nil {
		return store.Wrap(err, "failed to load collection "+c.role)
	}
	s.logger.Debug("collections fetched", "role", c.role, "owners", len(ids), "rows", len(rows))

	type member struct {
		e     *Entity
		order any
		key   any
	}
	members := make(map[*Collection][]member, len(pending))
	var loaded []*Entity
	for _, row := range rows {
		coll, ok := byOwner[store.Normalize(row[c.assoc.JoinColumn])]
		if !ok {
			continue
		}
		e, err := s.materialize(ctx, target, row, true)
		if err != nil {
			return err
		}
		loaded = append(loaded, e)
		m := member{e: e}
		if c.assoc.OrderColumn != "" {
			m.order = row[c.assoc.OrderColumn]
		}
		if c.assoc.MapKeyColumn != "" {
			m.key = store.Normalize(row[c.assoc.MapKeyColumn])
		}
		members[coll] = append(members[coll], m)
	}

	for _, coll := range pending {
		list := members[coll]
		if coll.assoc.Kind == metadata.CollectionList {
			sort.SliceStable(list, func(i, j int) bool { return store.Compare(list[i].order, list[j].order) < 0 })
		}
		coll.elements = coll.elements[:0]
		coll.keys = nil
		for _, m := range list {
			if coll.assoc.Kind == metadata.CollectionSet && coll.indexOf(m.e) >= 0 {
				continue
			}
			coll.elements = append(coll.elements, m.e)
			if coll.assoc.Kind == metadata.CollectionMap {
				coll.keys = append(coll.keys, m.key)
			}
		}
		if coll.assoc.Kind == metadata.CollectionMap && coll.assoc.MapOrder == metadata.KeyOrder {
			coll.sortByKey()
		}
		coll.initialized = true
		coll.takeSnapshot()
		s.f.stats.collectionLoads.Add(1)

		if cached && s.cacheMode.puts() && !s.wrote(target.Table) {
			key := region.Key(coll.owner.id)
			if s.cacheMode == CacheRefresh {
				region.Put(ctx, key, coll.entry(s))
			} else {
				region.PutFromLoad(ctx, key, coll.entry(s), s.txStart, s.f.cfg.MinimalPuts)
			}
		}
	}
	return s.fetchEager(ctx, loaded)
}

// assembleCollection initializes coll from its cache entry. It reports false
// when there is no entry or an element no longer exists.
func (s *Session) assembleCollection(ctx context.Context, region *secondlevel.Region, coll *Collection) (bool, error) {
	key := region.Key(coll.owner.id)
	entry, ok := region.Get(ctx, key)
	if !ok {
		return false, nil
	}
	if err := s.fetchEntities(ctx, coll.target, entry.Elements); err != nil {
		return false, err
	}
	elements := make([]*Entity, 0, len(entry.Elements))
	for _, id := range entry.Elements {
		e, ok := s.lookup(coll.target.Name, id)
		if !ok {
			s.logger.Debug("cached collection references a missing element, evicting", "role", coll.role, "element", id)
			region.Evict(ctx, key)
			return false, nil
		}
		elements = append(elements, e)
	}
	coll.elements = elements
	coll.keys = nil
	if coll.assoc.Kind == metadata.CollectionMap {
		coll.keys = append([]any(nil), entry.Keys...)
	}
	coll.initialized = true
	coll.takeSnapshot()
	s.f.stats.collectionLoads.Add(1)
	return true, nil
}

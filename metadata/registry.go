package metadata

import (
	"fmt"
	"sort"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidMetadata = "INVALID_METADATA"
	TextCodeUnknownEntity   = "UNKNOWN_ENTITY"
)

// Registry holds validated entity metadata. Entities are registered once at
// startup and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	tables   map[string]*Entity
	profiles map[string]*FetchProfile
}

// NewRegistry registers the given entities and validates their cross references.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{
		entities: make(map[string]*Entity),
		tables:   make(map[string]*Entity),
		profiles: make(map[string]*FetchProfile),
	}
	if err := r.Register(entities...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds entities after applying defaults. The batch is rejected as a
// whole if any declaration or cross reference is invalid.
func (r *Registry) Register(entities ...*Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[string]*Entity, len(r.entities)+len(entities))
	for k, v := range r.entities {
		staged[k] = v
	}

	for _, e := range entities {
		if e == nil {
			continue
		}
		e.applyDefaults()
		if verr := errors.FromOzzoValidation(e.Validate(), fmt.Sprintf("invalid metadata for entity %q", e.Name)); verr != nil {
			return verr.WithTextCode(TextCodeInvalidMetadata)
		}
		if _, exists := staged[e.Name]; exists {
			return errors.New(fmt.Sprintf("entity %q is already registered", e.Name), errors.CategoryConflict).
				WithTextCode(TextCodeInvalidMetadata)
		}
		staged[e.Name] = e
	}

	for _, e := range staged {
		if err := validateReferences(e, staged); err != nil {
			return err
		}
	}

	tables := make(map[string]*Entity, len(staged))
	for _, e := range staged {
		if other, ok := tables[e.Table]; ok {
			return errors.New(fmt.Sprintf("entities %q and %q share table %q", other.Name, e.Name, e.Table), errors.CategoryValidation).
				WithTextCode(TextCodeInvalidMetadata)
		}
		tables[e.Table] = e
	}

	r.entities = staged
	r.tables = tables
	return nil
}

func validateReferences(e *Entity, all map[string]*Entity) error {
	fieldErrs := validation.Errors{}
	for i := range e.Associations {
		a := &e.Associations[i]
		key := "Associations." + a.Name
		target, ok := all[a.Target]
		if !ok {
			fieldErrs[key] = validation.NewError("validation_unknown_target", fmt.Sprintf("target entity %q is not registered", a.Target))
			continue
		}
		if a.MappedBy == "" {
			continue
		}
		inverse, ok := target.Association(a.MappedBy)
		switch {
		case !ok || inverse.Cardinality != ManyToOne:
			fieldErrs[key] = validation.NewError("validation_mapped_by", fmt.Sprintf("%s.%s must be a many-to-one association", a.Target, a.MappedBy))
		case inverse.Target != e.Name:
			fieldErrs[key] = validation.NewError("validation_mapped_by", fmt.Sprintf("%s.%s does not reference %s", a.Target, a.MappedBy, e.Name))
		case inverse.JoinColumn != a.JoinColumn:
			fieldErrs[key] = validation.NewError("validation_mapped_by", fmt.Sprintf("join column %q differs from %s.%s column %q", a.JoinColumn, a.Target, a.MappedBy, inverse.JoinColumn))
		}
	}
	if len(fieldErrs) == 0 {
		return nil
	}
	return errors.FromOzzoValidation(fieldErrs, fmt.Sprintf("invalid associations for entity %q", e.Name)).
		WithTextCode(TextCodeInvalidMetadata)
}

// Entity returns the metadata registered under name.
func (r *Registry) Entity(name string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	if !ok {
		return nil, errors.New(fmt.Sprintf("entity %q is not registered", name), errors.CategoryBadInput).
			WithTextCode(TextCodeUnknownEntity)
	}
	return e, nil
}

// MustEntity is like Entity but panics on unknown names.
func (r *Registry) MustEntity(name string) *Entity {
	e, err := r.Entity(name)
	if err != nil {
		panic(err)
	}
	return e
}

// ByTable returns the entity mapped to table.
func (r *Registry) ByTable(table string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[table]
	return e, ok
}

// Entities returns every registered entity sorted by name.
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Inverse is a one-to-many association together with the entity declaring it.
type Inverse struct {
	Owner       *Entity
	Association *Association
}

// CollectionsOf returns every one-to-many association whose elements are
// rows of e. The association join column lives on the table of e, so a
// write to one of its rows may change the membership of these collections.
func (r *Registry) CollectionsOf(e *Entity) []Inverse {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Inverse
	for _, owner := range r.entities {
		for _, coll := range owner.Collections() {
			if coll.Target == e.Name {
				out = append(out, Inverse{Owner: owner, Association: coll})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner.Name != out[j].Owner.Name {
			return out[i].Owner.Name < out[j].Owner.Name
		}
		return out[i].Association.Name < out[j].Association.Name
	})
	return out
}

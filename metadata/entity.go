package metadata

import (
	"fmt"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// NaturalIDRegionSuffix is appended to the entity name to form its natural-id cache region.
const NaturalIDRegionSuffix = "##NaturalId"

// Entity describes how one entity type maps to a table.
type Entity struct {
	// Name identifies the entity type and names its cache region.
	Name string
	// Table defaults to the pluralized snake case Name.
	Table string
	// IDColumn defaults to "id".
	IDColumn    string
	IDGenerator IDGenerator

	// Fields lists the scalar columns, excluding the id, the version and
	// the join columns of to-one associations.
	Fields []string

	Version VersionKind
	// VersionColumn defaults to "version" for versioned entities.
	VersionColumn string

	// NaturalID lists the fields forming the business key, in lookup order.
	NaturalID        []string
	MutableNaturalID bool

	// OptimisticLockExcluded fields do not increment the version when they change.
	OptimisticLockExcluded []string

	// Immutable entities are never updated; changes are ignored at flush.
	Immutable bool

	Cache        CacheStrategy
	Associations []Association
}

// Association describes one edge of the entity graph.
type Association struct {
	Name        string
	Target      string
	Cardinality Cardinality
	Fetch       FetchMode
	Cascade     CascadeType

	// OrphanRemoval deletes a target once it is unlinked from the owner.
	OrphanRemoval bool

	// JoinColumn is the foreign key column. It lives on the owner table for
	// to-one associations and on the target table for one-to-many.
	JoinColumn string

	// MappedBy names the many-to-one association on the target that owns the
	// foreign key of a bidirectional one-to-many.
	MappedBy string

	Kind         CollectionKind
	OrderColumn  string
	MapKeyColumn string
	MapOrder     MapOrder

	// Cached stores collection membership in the second-level cache.
	Cached bool

	// ForceVersionIncrement bumps the version of the referenced owner whenever
	// the membership of this association changes. On a many-to-one it applies
	// to the target when the owning row is inserted or deleted.
	ForceVersionIncrement bool

	// BatchSize overrides the session default for batched loads of this association.
	BatchSize int
}

// Validate implements validation.Validatable.
func (a Association) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.Target, validation.Required),
		validation.Field(&a.JoinColumn, validation.Required),
		validation.Field(&a.BatchSize, validation.Min(0)),
		validation.Field(&a.OrderColumn,
			validation.When(a.Cardinality == OneToMany && a.Kind == CollectionList, validation.Required.Error("is required for list collections"))),
		validation.Field(&a.MapKeyColumn,
			validation.When(a.Cardinality == OneToMany && a.Kind == CollectionMap, validation.Required.Error("is required for map collections"))),
		validation.Field(&a.OrphanRemoval,
			validation.When(a.Cardinality == ManyToOne, validation.Empty.Error("is not supported on many-to-one associations"))),
		validation.Field(&a.MappedBy,
			validation.When(a.Cardinality != OneToMany, validation.Empty.Error("is only valid on one-to-many associations"))),
		validation.Field(&a.Cached,
			validation.When(a.Cardinality != OneToMany, validation.Empty.Error("is only valid on one-to-many associations"))),
	)
}

// Validate implements validation.Validatable. It checks the declaration in
// isolation; cross entity references are checked by the Registry.
func (e Entity) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required),
		validation.Field(&e.Table, validation.Required),
		validation.Field(&e.IDColumn, validation.Required),
		validation.Field(&e.VersionColumn,
			validation.When(e.Version != VersionNone, validation.Required)),
		validation.Field(&e.Cache,
			validation.NotIn(CacheTransactional).Error("transactional caching is not supported")),
		validation.Field(&e.Fields, validation.By(e.validateFields)),
		validation.Field(&e.NaturalID, validation.Each(validation.By(e.fieldDeclared))),
		validation.Field(&e.OptimisticLockExcluded, validation.Each(validation.By(e.fieldDeclared))),
		validation.Field(&e.Associations, validation.By(e.validateAssociationNames)),
	)
}

func (e Entity) validateFields(value any) error {
	fields, _ := value.([]string)
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" {
			return validation.NewError("validation_empty_field", "must not contain empty names")
		}
		if f == e.IDColumn || (e.Version != VersionNone && f == e.VersionColumn) {
			return validation.NewError("validation_reserved_field", fmt.Sprintf("%q is reserved for the id or version", f))
		}
		if _, ok := seen[f]; ok {
			return validation.NewError("validation_duplicate_field", fmt.Sprintf("%q is declared twice", f))
		}
		seen[f] = struct{}{}
	}
	return nil
}

func (e Entity) fieldDeclared(value any) error {
	name, _ := value.(string)
	if !slices.Contains(e.Fields, name) {
		return validation.NewError("validation_unknown_field", fmt.Sprintf("%q is not a declared field", name))
	}
	return nil
}

func (e Entity) validateAssociationNames(value any) error {
	seen := make(map[string]struct{}, len(e.Associations))
	for _, a := range e.Associations {
		if _, ok := seen[a.Name]; ok {
			return validation.NewError("validation_duplicate_association", fmt.Sprintf("%q is declared twice", a.Name))
		}
		if slices.Contains(e.Fields, a.Name) {
			return validation.NewError("validation_association_shadows_field", fmt.Sprintf("%q is also a field", a.Name))
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// Association returns the association with the given name.
func (e *Entity) Association(name string) (*Association, bool) {
	for i := range e.Associations {
		if e.Associations[i].Name == name {
			return &e.Associations[i], true
		}
	}
	return nil, false
}

// ToOne returns the to-one associations in declaration order.
func (e *Entity) ToOne() []*Association {
	var out []*Association
	for i := range e.Associations {
		if e.Associations[i].Cardinality.IsToOne() {
			out = append(out, &e.Associations[i])
		}
	}
	return out
}

// Collections returns the one-to-many associations in declaration order.
func (e *Entity) Collections() []*Association {
	var out []*Association
	for i := range e.Associations {
		if e.Associations[i].Cardinality == OneToMany {
			out = append(out, &e.Associations[i])
		}
	}
	return out
}

// IsVersioned reports whether updates of the entity are conditional on a version.
func (e *Entity) IsVersioned() bool { return e.Version != VersionNone }

// IsCached reports whether the entity has a second-level cache region.
func (e *Entity) IsCached() bool { return e.Cache != CacheNone }

func (e *Entity) HasNaturalID() bool { return len(e.NaturalID) > 0 }

// HasField reports whether column is a declared scalar field.
func (e *Entity) HasField(column string) bool { return slices.Contains(e.Fields, column) }

func (e *Entity) IsNaturalIDField(column string) bool { return slices.Contains(e.NaturalID, column) }

func (e *Entity) IsLockExcluded(column string) bool {
	return slices.Contains(e.OptimisticLockExcluded, column)
}

// ToOneByColumn returns the to-one association stored in column, if any.
func (e *Entity) ToOneByColumn(column string) (*Association, bool) {
	for _, a := range e.ToOne() {
		if a.JoinColumn == column {
			return a, true
		}
	}
	return nil, false
}

// Region is the entity cache region name.
func (e *Entity) Region() string { return e.Name }

// NaturalIDRegion is the natural-id cache region name.
func (e *Entity) NaturalIDRegion() string { return e.Name + NaturalIDRegionSuffix }

// Role is the collection cache region name of an association.
func (e *Entity) Role(a *Association) string { return e.Name + "." + a.Name }

// EffectiveBatchSize returns the association batch size or the fallback.
func (a *Association) EffectiveBatchSize(fallback int) int {
	if a.BatchSize > 0 {
		return a.BatchSize
	}
	if fallback < 1 {
		return 1
	}
	return fallback
}

func (e *Entity) applyDefaults() {
	if e.Table == "" {
		e.Table = TableName(e.Name)
	}
	if e.IDColumn == "" {
		e.IDColumn = "id"
	}
	if e.Version != VersionNone && e.VersionColumn == "" {
		e.VersionColumn = "version"
	}
	for i := range e.Associations {
		a := &e.Associations[i]
		if a.JoinColumn == "" && a.Cardinality.IsToOne() {
			a.JoinColumn = toSnake(a.Name) + "_id"
		}
	}
}

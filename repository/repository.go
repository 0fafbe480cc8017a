package repository

import (
	"context"
	"fmt"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-persist/session"
	"github.com/goliatone/go-persist/store"
)

// TextCodeInvalidMapper marks a Mapper missing a required function.
const TextCodeInvalidMapper = "INVALID_MAPPER"

// Mapper converts between a record type and session entities.
type Mapper[T any] struct {
	// ToEntity copies the record fields onto e. It is called for new and
	// updated records; s allows resolving references to other entities.
	ToEntity func(ctx context.Context, s *session.Session, record T, e *session.Entity) error
	// FromEntity builds a record from a managed entity. The session is still
	// open, so references and collections may be loaded.
	FromEntity func(ctx context.Context, e *session.Entity) (T, error)
	// ID returns the record id, nil when the record has none yet.
	ID func(record T) any
	// Version returns the version the record was read at. Optional; when set,
	// Update rejects records whose version no longer matches.
	Version func(record T) any
}

// Repository stores records of one entity type.
type Repository[T any] struct {
	f      *session.Factory
	entity string
	mapper Mapper[T]
}

// New returns a Repository for entity. Calls fail when the mapper lacks
// ToEntity, FromEntity or ID.
func New[T any](f *session.Factory, entity string, m Mapper[T]) *Repository[T] {
	return &Repository[T]{f: f, entity: entity, mapper: m}
}

// Entity returns the entity type name.
func (r *Repository[T]) Entity() string { return r.entity }

// Get returns the record with id.
func (r *Repository[T]) Get(ctx context.Context, id any) (T, error) {
	var out T
	err := r.run(ctx, "get", func(s *session.Session) error {
		e, err := s.Find(ctx, r.entity, id)
		if err != nil {
			return err
		}
		out, err = r.mapper.FromEntity(ctx, e)
		return err
	})
	return out, err
}

// FindBy returns the record with the given natural id values.
func (r *Repository[T]) FindBy(ctx context.Context, naturalID ...any) (T, error) {
	var out T
	err := r.run(ctx, "find_by", func(s *session.Session) error {
		e, err := s.FindByNaturalID(ctx, r.entity, naturalID...)
		if err != nil {
			return err
		}
		out, err = r.mapper.FromEntity(ctx, e)
		return err
	})
	return out, err
}

// List returns the records matching q. The query entity is always the
// repository entity.
func (r *Repository[T]) List(ctx context.Context, q session.QuerySpec) ([]T, error) {
	q.Entity = r.entity
	var out []T
	err := r.run(ctx, "list", func(s *session.Session) error {
		entities, err := s.Query(ctx, q)
		if err != nil {
			return err
		}
		out = make([]T, 0, len(entities))
		for _, e := range entities {
			rec, err := r.mapper.FromEntity(ctx, e)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Create inserts record and returns it as stored, with generated id and
// initial version.
func (r *Repository[T]) Create(ctx context.Context, record T) (T, error) {
	var out T
	err := r.run(ctx, "create", func(s *session.Session) error {
		e, err := s.New(r.entity)
		if err != nil {
			return err
		}
		if id := r.mapper.ID(record); id != nil {
			if err := e.SetID(id); err != nil {
				return err
			}
		}
		if err := r.mapper.ToEntity(ctx, s, record, e); err != nil {
			return err
		}
		if err := s.Persist(ctx, e); err != nil {
			return err
		}
		if err := s.Commit(ctx); err != nil {
			return err
		}
		out, err = r.mapper.FromEntity(ctx, e)
		return err
	})
	return out, err
}

// Update writes record over the stored entity with the same id. A record
// read at an older version fails with a stale state error.
func (r *Repository[T]) Update(ctx context.Context, record T) (T, error) {
	var out T
	err := r.run(ctx, "update", func(s *session.Session) error {
		id := r.mapper.ID(record)
		if id == nil {
			return errors.New(r.entity+" record has no id", errors.CategoryBadInput).
				WithTextCode(session.TextCodeMissingID)
		}
		e, err := s.Find(ctx, r.entity, id)
		if err != nil {
			return err
		}
		if r.mapper.Version != nil {
			if v := store.Normalize(r.mapper.Version(record)); !store.Equal(v, e.Version()) {
				return session.StaleStateError(r.entity, e.ID(), v)
			}
		}
		if err := r.mapper.ToEntity(ctx, s, record, e); err != nil {
			return err
		}
		if err := s.Commit(ctx); err != nil {
			return err
		}
		out, err = r.mapper.FromEntity(ctx, e)
		return err
	})
	return out, err
}

// Delete removes the entity with id, cascading as its associations declare.
func (r *Repository[T]) Delete(ctx context.Context, id any) error {
	return r.run(ctx, "delete", func(s *session.Session) error {
		e, err := s.Find(ctx, r.entity, id)
		if err != nil {
			return err
		}
		if err := s.Remove(ctx, e); err != nil {
			return err
		}
		return s.Commit(ctx)
	})
}

// run executes fn in a fresh session and closes it afterwards.
func (r *Repository[T]) run(ctx context.Context, op string, fn func(*session.Session) error) error {
	if err := r.validate(); err != nil {
		return err
	}
	logger := r.f.Config().Logger.With("entity", r.entity, "op", op)
	if tags := TagsFromContext(ctx); len(tags) > 0 {
		logger = logger.With("tags", tags)
	}

	s := r.f.Open(ctx)
	defer s.Close(ctx)

	if err := fn(s); err != nil {
		logger.Debug("repository call failed", "error", err)
		return err
	}
	logger.Debug("repository call done")
	return nil
}

func (r *Repository[T]) validate() error {
	var missing string
	switch {
	case r.f == nil:
		missing = "factory"
	case r.mapper.ToEntity == nil:
		missing = "ToEntity"
	case r.mapper.FromEntity == nil:
		missing = "FromEntity"
	case r.mapper.ID == nil:
		missing = "ID"
	default:
		return nil
	}
	return errors.New(fmt.Sprintf("%s repository: %s is required", r.entity, missing), errors.CategoryBadInput).
		WithTextCode(TextCodeInvalidMapper)
}

// Package repository maps typed records onto session entities.
//
// A Repository runs every call in its own unit of work: it opens a session,
// applies the operation, commits and closes. Reads still go through the
// identity map and the second-level cache of the factory, so repeated Get
// calls for cached entity types are served without touching the store.
//
//	users := repository.New(factory, "User", repository.Mapper[User]{
//		ToEntity:   func(ctx context.Context, s *session.Session, u User, e *session.Entity) error { ... },
//		FromEntity: func(ctx context.Context, e *session.Entity) (User, error) { ... },
//		ID:         func(u User) any { return u.ID },
//	})
//
//	u, err := users.FindBy(ctx, "johndoe")
package repository

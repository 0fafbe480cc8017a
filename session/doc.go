// Package session implements the unit of work.
//
// A Factory shares a metadata registry, a store and a second-level cache
// between sessions. Each Session owns an identity map: within one session a
// (type, id) pair resolves to a single *Entity, whether it was found,
// persisted, merged or reached through a reference or collection.
//
//	s := factory.Open(ctx)
//	defer s.Close(ctx)
//
//	item, err := s.Find(ctx, "Item", 42)
//	if err != nil {
//		return err
//	}
//	seller, err := item.Ref("seller").Load(ctx)
//	...
//	return s.Commit(ctx)
//
// Changes are collected until Flush or Commit. Flush compares managed
// entities with their snapshots, writes inserts, updates and deletes in
// dependency order and checks versioned rows with conditional updates.
// Commit then applies the second-level cache changes of the transaction.
// Any failure rolls the transaction back and empties the session.
//
// Sessions are not safe for concurrent use. Errors carry text codes from
// this package (see IsStaleState, IsEntityNotFound and friends).
package session

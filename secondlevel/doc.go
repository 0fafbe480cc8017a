// Package secondlevel implements the process wide second-level cache.
//
// Entity regions hold disassembled entity state keyed by primary key,
// collection regions hold element ids keyed by owner id. Every entry is
// stored as msgpack bytes, so a hit always yields a new Entry and no two
// sessions share a cached object graph.
//
// Each entity region follows the concurrency strategy declared in its
// metadata:
//
//   - read-only: entries are cached on insert and never updated
//   - nonstrict-read-write: no locking; the entry is replaced after commit and
//     readers may observe the previous value until then
//   - read-write: writers take soft locks before writing to the store;
//     readers keep receiving the last committed entry until the writer
//     installs the new one after commit or the lock expires
//
// UpdateTimestamps, NaturalIDIndex and QueryCache share the same backend.
// Query results are validated against the last write of every table space
// they read from.
package secondlevel

package secondlevel

import (
	"bytes"

	"github.com/goliatone/go-persist/store"
	"github.com/vmihailenco/msgpack/v5"
)

// Entry is the disassembled state of an entity or collection. It never holds
// references into a session: Values carries column values (to-one
// associations as foreign key values), collections carry element ids.
type Entry struct {
	Values map[string]any `msgpack:"v,omitempty"`
	// Version is the committed version token, nil for unversioned entities.
	Version any `msgpack:"ver,omitempty"`
	// Timestamp is the clock value at which the entry was assembled.
	Timestamp int64 `msgpack:"ts"`
	// Elements holds collection element ids in collection order.
	Elements []any `msgpack:"el,omitempty"`
	// Keys holds map keys aligned with Elements for map collections.
	Keys []any `msgpack:"k,omitempty"`
}

// lockItem replaces an entry of a read-write region while writers hold soft locks.
// Once more than one writer shared the lock, no holder may install its
// entry: the last holder leaves an unlocked item that only loads started
// after UnlockedAt can replace.
type lockItem struct {
	ExpiresAt  int64  `msgpack:"exp"`
	Concurrent int    `msgpack:"n"`
	Multiple   bool   `msgpack:"m,omitempty"`
	UnlockedAt int64  `msgpack:"u,omitempty"`
	Prior      *Entry `msgpack:"prior,omitempty"`
}

func (l *lockItem) unlocked() bool { return l.Concurrent <= 0 }

// item is the value stored in the backend: either an entry or a lock.
type item struct {
	Entry *Entry    `msgpack:"e,omitempty"`
	Lock  *lockItem `msgpack:"l,omitempty"`
}

func encodeItem(it item) ([]byte, error) {
	return msgpack.Marshal(&it)
}

func decodeItem(raw any) (item, error) {
	var it item
	if err := decode(raw, &it); err != nil {
		return it, err
	}
	it.Entry.normalize()
	if it.Lock != nil {
		it.Lock.Prior.normalize()
	}
	return it, nil
}

func encodeQueryEntry(e queryEntry) ([]byte, error) {
	return msgpack.Marshal(&e)
}

func decodeQueryEntry(raw any) (queryEntry, error) {
	var e queryEntry
	if err := decode(raw, &e); err != nil {
		return e, err
	}
	for i, id := range e.IDs {
		e.IDs[i] = store.Normalize(id)
	}
	return e, nil
}

// decode reads msgpack bytes decoding untyped values loosely, so every
// integer comes back as int64 or uint64 whatever its encoded width.
func decode(raw any, v any) error {
	data, ok := raw.([]byte)
	if !ok {
		return errUnexpectedValue
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

func (e *Entry) normalize() {
	if e == nil {
		return
	}
	e.Values = store.NormalizeRow(e.Values)
	e.Version = store.Normalize(e.Version)
	for i, v := range e.Elements {
		e.Elements[i] = store.Normalize(v)
	}
	for i, v := range e.Keys {
		e.Keys[i] = store.Normalize(v)
	}
}

// newer reports whether e carries a version strictly greater than other's.
func (e *Entry) newer(other *Entry) bool {
	if e.Version == nil || other.Version == nil {
		return false
	}
	return store.Compare(e.Version, other.Version) > 0
}

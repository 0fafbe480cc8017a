package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-persist/store"
)

// Stats counts statements issued against the store.
type Stats struct {
	Reads     int64
	Inserts   int64
	Updates   int64
	Deletes   int64
	Commits   int64
	Rollbacks int64
	Conflicts int64
}

// RoundTrips is the number of read and write statements.
func (s Stats) RoundTrips() int64 {
	return s.Reads + s.Inserts + s.Updates + s.Deletes
}

// Store is an in-process store. Transactions buffer their writes and apply
// them atomically at commit; the first transaction to commit a conditional
// write wins and later conflicting commits fail with store.ErrWriteConflict.
// Inserts reusing a primary key fail with store.ErrDuplicateKey, both when
// issued and at commit.
type Store struct {
	mu         sync.RWMutex
	tables     map[string][]store.Row
	sequences  *xsync.MapOf[string, int64]
	keyColumns map[string]string

	reads, inserts, updates, deletes atomic.Int64
	commits, rollbacks, conflicts    atomic.Int64
}

var _ store.Store = (*Store)(nil)

// DefaultKeyColumn is the primary key column of tables without WithKeyColumn.
const DefaultKeyColumn = "id"

// Option configures a Store.
type Option func(*Store)

// WithKeyColumn sets the primary key column of table.
func WithKeyColumn(table, column string) Option {
	return func(s *Store) { s.keyColumns[table] = column }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		tables:     make(map[string][]store.Row),
		sequences:  xsync.NewMapOf[string, int64](),
		keyColumns: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) keyColumn(table string) string {
	if c, ok := s.keyColumns[table]; ok {
		return c
	}
	return DefaultKeyColumn
}

// Seed inserts committed rows directly, bypassing statistics.
func (s *Store) Seed(table string, rows ...store.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tables[table] = append(s.tables[table], store.NormalizeRow(r.Clone()))
	}
}

// Stats returns a snapshot of the statement counters.
func (s *Store) Stats() Stats {
	return Stats{
		Reads:     s.reads.Load(),
		Inserts:   s.inserts.Load(),
		Updates:   s.updates.Load(),
		Deletes:   s.deletes.Load(),
		Commits:   s.commits.Load(),
		Rollbacks: s.rollbacks.Load(),
		Conflicts: s.conflicts.Load(),
	}
}

// ResetStats zeroes the statement counters.
func (s *Store) ResetStats() {
	for _, c := range []*atomic.Int64{&s.reads, &s.inserts, &s.updates, &s.deletes, &s.commits, &s.rollbacks, &s.conflicts} {
		c.Store(0)
	}
}

// Rows returns a copy of the committed rows of table.
func (s *Store) Rows(table string) []store.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRows(s.tables[table])
}

func (s *Store) ReadByKey(ctx context.Context, table, idColumn string, id any) (store.Row, error) {
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readByKey(s.tables[table], idColumn, id)
}

func (s *Store) ReadByKeys(ctx context.Context, table, idColumn string, ids []any) ([]store.Row, error) {
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readByKeys(s.tables[table], idColumn, ids), nil
}

func (s *Store) ReadByQuery(ctx context.Context, q store.Query) ([]store.Row, error) {
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return runQuery(s.tables[q.Table], q), nil
}

// NextID increments the per table sequence. Sequences are not transactional.
func (s *Store) NextID(ctx context.Context, table string) (int64, error) {
	next, _ := s.sequences.Compute(table, func(old int64, _ bool) (int64, bool) {
		return old + 1, false
	})
	return next, nil
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{store: s}, nil
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

type op struct {
	kind     opKind
	table    string
	key      string
	row      store.Row
	update   store.Update
	delete   store.Delete
	affected int64
}

type tx struct {
	store *Store
	ops   []op
	done  bool
}

var errTxDone = errors.New("transaction already completed", errors.CategoryOperation).WithTextCode("TX_DONE")

func (t *tx) view(table string) []store.Row {
	t.store.mu.RLock()
	rows := cloneRows(t.store.tables[table])
	t.store.mu.RUnlock()
	for _, o := range t.ops {
		if o.table == table {
			rows, _ = apply(rows, o)
		}
	}
	return rows
}

func (t *tx) ReadByKey(ctx context.Context, table, idColumn string, id any) (store.Row, error) {
	if t.done {
		return nil, errTxDone
	}
	t.store.reads.Add(1)
	return readByKey(t.view(table), idColumn, id)
}

func (t *tx) ReadByKeys(ctx context.Context, table, idColumn string, ids []any) ([]store.Row, error) {
	if t.done {
		return nil, errTxDone
	}
	t.store.reads.Add(1)
	return readByKeys(t.view(table), idColumn, ids), nil
}

func (t *tx) ReadByQuery(ctx context.Context, q store.Query) ([]store.Row, error) {
	if t.done {
		return nil, errTxDone
	}
	t.store.reads.Add(1)
	return runQuery(t.view(q.Table), q), nil
}

func (t *tx) NextID(ctx context.Context, table string) (int64, error) {
	return t.store.NextID(ctx, table)
}

func (t *tx) Insert(ctx context.Context, table string, row store.Row) error {
	if t.done {
		return errTxDone
	}
	t.store.inserts.Add(1)
	o := op{kind: opInsert, table: table, key: t.store.keyColumn(table), row: store.NormalizeRow(row.Clone())}
	if _, o.affected = apply(t.view(table), o); o.affected == 0 {
		return store.ErrDuplicateKey
	}
	t.ops = append(t.ops, o)
	return nil
}

func (t *tx) Update(ctx context.Context, u store.Update) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	t.store.updates.Add(1)
	u.Set = store.NormalizeRow(u.Set.Clone())
	o := op{kind: opUpdate, table: u.Table, update: u}
	_, o.affected = apply(t.view(u.Table), o)
	t.ops = append(t.ops, o)
	return o.affected, nil
}

func (t *tx) Delete(ctx context.Context, d store.Delete) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	t.store.deletes.Add(1)
	o := op{kind: opDelete, table: d.Table, delete: d}
	_, o.affected = apply(t.view(d.Table), o)
	t.ops = append(t.ops, o)
	return o.affected, nil
}

// Commit replays the buffered writes against the committed state. If any
// conditional write now matches a different number of rows than it did when
// it was issued, nothing is applied and ErrWriteConflict is returned.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string][]store.Row)
	for _, o := range t.ops {
		rows, ok := staged[o.table]
		if !ok {
			rows = cloneRows(s.tables[o.table])
		}
		var affected int64
		rows, affected = apply(rows, o)
		if o.kind == opInsert && affected == 0 {
			s.rollbacks.Add(1)
			return store.ErrDuplicateKey
		}
		if affected != o.affected {
			s.conflicts.Add(1)
			s.rollbacks.Add(1)
			return store.ErrWriteConflict
		}
		staged[o.table] = rows
	}
	for table, rows := range staged {
		s.tables[table] = rows
	}
	s.commits.Add(1)
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.ops = nil
	t.store.rollbacks.Add(1)
	return nil
}

// apply executes o on rows, copying modified rows, and reports affected rows.
// An insert whose key is already present affects no rows.
func apply(rows []store.Row, o op) ([]store.Row, int64) {
	switch o.kind {
	case opInsert:
		if id, ok := o.row[o.key]; ok && id != nil {
			if _, err := readByKey(rows, o.key, id); err == nil {
				return rows, 0
			}
		}
		return append(rows, o.row.Clone()), 1
	case opUpdate:
		u := o.update
		var n int64
		for i, r := range rows {
			if !matches(r, u.IDColumn, u.ID, u.VersionColumn, u.Version) {
				continue
			}
			next := r.Clone()
			for k, v := range u.Set {
				next[k] = v
			}
			rows[i] = next
			n++
		}
		return rows, n
	case opDelete:
		d := o.delete
		before := len(rows)
		rows = slices.DeleteFunc(rows, func(r store.Row) bool {
			return matches(r, d.IDColumn, d.ID, d.VersionColumn, d.Version)
		})
		return rows, int64(before - len(rows))
	}
	return rows, 0
}

func matches(r store.Row, idColumn string, id any, versionColumn string, version any) bool {
	if !store.Equal(r[idColumn], id) {
		return false
	}
	return versionColumn == "" || store.Equal(r[versionColumn], version)
}

func readByKey(rows []store.Row, idColumn string, id any) (store.Row, error) {
	for _, r := range rows {
		if store.Equal(r[idColumn], id) {
			return r.Clone(), nil
		}
	}
	return nil, store.ErrRowNotFound
}

func readByKeys(rows []store.Row, idColumn string, ids []any) []store.Row {
	var out []store.Row
	for _, r := range rows {
		for _, id := range ids {
			if store.Equal(r[idColumn], id) {
				out = append(out, r.Clone())
				break
			}
		}
	}
	return out
}

func runQuery(rows []store.Row, q store.Query) []store.Row {
	var out []store.Row
	for _, r := range rows {
		if matchesFilters(r, q.Filters) {
			out = append(out, r.Clone())
		}
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := store.Compare(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}

func matchesFilters(r store.Row, filters []store.Filter) bool {
	for _, f := range filters {
		v := r[f.Column]
		switch f.Op {
		case store.OpEq:
			if !store.Equal(v, f.Value) {
				return false
			}
		case store.OpNe:
			if store.Equal(v, f.Value) {
				return false
			}
		case store.OpIn:
			values, _ := f.Value.([]any)
			if !slices.ContainsFunc(values, func(x any) bool { return store.Equal(v, x) }) {
				return false
			}
		case store.OpLike:
			pattern, _ := f.Value.(string)
			if v == nil || !store.Like(v, pattern) {
				return false
			}
		case store.OpGt:
			if v == nil || store.Compare(v, f.Value) <= 0 {
				return false
			}
		case store.OpLt:
			if v == nil || store.Compare(v, f.Value) >= 0 {
				return false
			}
		case store.OpIsNull:
			if v != nil {
				return false
			}
		}
	}
	return true
}

func cloneRows(rows []store.Row) []store.Row {
	if rows == nil {
		return nil
	}
	out := make([]store.Row, len(rows))
	copy(out, rows)
	return out
}

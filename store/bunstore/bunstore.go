package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-persist/store"
)

// DefaultSequenceTable holds one counter row per table using sequence ids.
const DefaultSequenceTable = "persist_sequences"

// Store implements store.Store on top of a bun database.
type Store struct {
	conn
	db            *bun.DB
	sequenceTable string
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithSequenceTable overrides the table used by NextID.
func WithSequenceTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.sequenceTable = name
		}
	}
}

// New wraps an existing bun database.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, sequenceTable: DefaultSequenceTable}
	for _, opt := range opts {
		opt(s)
	}
	s.conn = conn{db: db, sequenceTable: s.sequenceTable}
	return s
}

// OpenSQLite opens a SQLite database through mattn/go-sqlite3. SQLite
// serializes writers, so the pool is limited to a single connection.
func OpenSQLite(dsn string, opts ...Option) (*Store, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, store.Wrap(err, "open sqlite")
	}
	sqldb.SetMaxOpenConns(1)
	return New(bun.NewDB(sqldb, sqlitedialect.New()), opts...), nil
}

// OpenPostgres opens a PostgreSQL database through lib/pq.
func OpenPostgres(dsn string, opts ...Option) (*Store, error) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, store.Wrap(err, "open postgres")
	}
	return New(bun.NewDB(sqldb, pgdialect.New()), opts...), nil
}

// DB exposes the underlying bun database.
func (s *Store) DB() *bun.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Exec runs a raw statement, typically DDL.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.NewRaw(query, args...).Exec(ctx)
	return store.Wrap(err, "exec")
}

// CreateSequenceTable creates the table used by NextID if it does not exist.
func (s *Store) CreateSequenceTable(ctx context.Context) error {
	_, err := s.db.NewRaw(
		"CREATE TABLE IF NOT EXISTS ? (name VARCHAR(255) PRIMARY KEY, value BIGINT NOT NULL)",
		bun.Ident(s.sequenceTable),
	).Exec(ctx)
	return store.Wrap(err, "create sequence table")
}

// NextID draws the next id in a short transaction of its own.
func (s *Store) NextID(ctx context.Context, table string) (int64, error) {
	var id int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		id, err = conn{db: tx, sequenceTable: s.sequenceTable}.NextID(ctx, table)
		return err
	})
	return id, err
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	btx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Wrap(err, "begin transaction")
	}
	return &tx{conn: conn{db: btx, sequenceTable: s.sequenceTable}, tx: btx}, nil
}

type tx struct {
	conn
	tx bun.Tx
}

func (t *tx) Commit(ctx context.Context) error {
	return store.Wrap(t.tx.Commit(), "commit")
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return store.Wrap(err, "rollback")
}

// conn issues statements on a database or a transaction.
type conn struct {
	db            bun.IDB
	sequenceTable string
}

func (c conn) ReadByKey(ctx context.Context, table, idColumn string, id any) (store.Row, error) {
	var rows []map[string]any
	err := c.db.NewSelect().
		Table(table).
		Where("? = ?", bun.Ident(idColumn), id).
		Limit(1).
		Scan(ctx, &rows)
	if err != nil && err != sql.ErrNoRows {
		return nil, store.Wrap(err, fmt.Sprintf("select %s by key", table))
	}
	if len(rows) == 0 {
		return nil, store.ErrRowNotFound
	}
	return store.NormalizeRow(rows[0]), nil
}

func (c conn) ReadByKeys(ctx context.Context, table, idColumn string, ids []any) ([]store.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []map[string]any
	err := c.db.NewSelect().
		Table(table).
		Where("? IN (?)", bun.Ident(idColumn), bun.In(ids)).
		Scan(ctx, &rows)
	if err != nil && err != sql.ErrNoRows {
		return nil, store.Wrap(err, fmt.Sprintf("select %s by keys", table))
	}
	return toRows(rows), nil
}

func (c conn) ReadByQuery(ctx context.Context, q store.Query) ([]store.Row, error) {
	sel := c.db.NewSelect().Table(q.Table)
	for _, f := range q.Filters {
		sel = applyFilter(sel, f)
	}
	for _, o := range q.OrderBy {
		if o.Desc {
			sel = sel.OrderExpr("? DESC", bun.Ident(o.Column))
		} else {
			sel = sel.OrderExpr("? ASC", bun.Ident(o.Column))
		}
	}
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}
	if q.Offset > 0 {
		sel = sel.Offset(q.Offset)
	}

	var rows []map[string]any
	if err := sel.Scan(ctx, &rows); err != nil && err != sql.ErrNoRows {
		return nil, store.Wrap(err, fmt.Sprintf("query %s", q.Table))
	}
	return toRows(rows), nil
}

func applyFilter(sel *bun.SelectQuery, f store.Filter) *bun.SelectQuery {
	col := bun.Ident(f.Column)
	switch f.Op {
	case store.OpEq:
		if f.Value == nil {
			return sel.Where("? IS NULL", col)
		}
		return sel.Where("? = ?", col, f.Value)
	case store.OpNe:
		if f.Value == nil {
			return sel.Where("? IS NOT NULL", col)
		}
		return sel.Where("? <> ?", col, f.Value)
	case store.OpIn:
		values, _ := f.Value.([]any)
		if len(values) == 0 {
			return sel.Where("1 = 0")
		}
		return sel.Where("? IN (?)", col, bun.In(values))
	case store.OpLike:
		return sel.Where("? LIKE ?", col, f.Value)
	case store.OpGt:
		return sel.Where("? > ?", col, f.Value)
	case store.OpLt:
		return sel.Where("? < ?", col, f.Value)
	case store.OpIsNull:
		return sel.Where("? IS NULL", col)
	}
	return sel
}

func (c conn) Insert(ctx context.Context, table string, row store.Row) error {
	values := map[string]any(row.Clone())
	_, err := c.db.NewInsert().Model(&values).Table(table).Exec(ctx)
	return store.Wrap(err, fmt.Sprintf("insert into %s", table))
}

func (c conn) Update(ctx context.Context, u store.Update) (int64, error) {
	q := c.db.NewUpdate().Table(u.Table)
	for _, col := range sortedColumns(u.Set) {
		q = q.Set("? = ?", bun.Ident(col), u.Set[col])
	}
	q = q.Where("? = ?", bun.Ident(u.IDColumn), u.ID)
	if u.VersionColumn != "" {
		q = q.Where("? = ?", bun.Ident(u.VersionColumn), u.Version)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, store.Wrap(err, fmt.Sprintf("update %s", u.Table))
	}
	n, err := res.RowsAffected()
	return n, store.Wrap(err, "rows affected")
}

func (c conn) Delete(ctx context.Context, d store.Delete) (int64, error) {
	q := c.db.NewDelete().Table(d.Table).Where("? = ?", bun.Ident(d.IDColumn), d.ID)
	if d.VersionColumn != "" {
		q = q.Where("? = ?", bun.Ident(d.VersionColumn), d.Version)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, store.Wrap(err, fmt.Sprintf("delete from %s", d.Table))
	}
	n, err := res.RowsAffected()
	return n, store.Wrap(err, "rows affected")
}

// NextID increments the counter row of table, creating it on first use.
func (c conn) NextID(ctx context.Context, table string) (int64, error) {
	seq := bun.Ident(c.sequenceTable)
	res, err := c.db.NewRaw("UPDATE ? SET value = value + 1 WHERE name = ?", seq, table).Exec(ctx)
	if err != nil {
		return 0, store.Wrap(err, "advance sequence")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := c.db.NewRaw("INSERT INTO ? (name, value) VALUES (?, 1)", seq, table).Exec(ctx); err != nil {
			return 0, store.Wrap(err, "create sequence")
		}
	}
	var id int64
	if err := c.db.NewRaw("SELECT value FROM ? WHERE name = ?", seq, table).Scan(ctx, &id); err != nil {
		return 0, store.Wrap(err, "read sequence")
	}
	return id, nil
}

func toRows(rows []map[string]any) []store.Row {
	out := make([]store.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.NormalizeRow(r))
	}
	return out
}

func sortedColumns(row store.Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

package store

import (
	"context"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeRowNotFound   = "ROW_NOT_FOUND"
	TextCodeWriteConflict = "WRITE_CONFLICT"
	TextCodeStoreFailure  = "STORE_FAILURE"
	TextCodeDuplicateKey  = "DUPLICATE_KEY"
)

var (
	// ErrRowNotFound is returned by ReadByKey when no row has the key.
	ErrRowNotFound = errors.New("row not found", errors.CategoryNotFound).WithTextCode(TextCodeRowNotFound)

	// ErrWriteConflict is returned by Commit when a conditional write was
	// invalidated by a transaction that committed first.
	ErrWriteConflict = errors.New("write conflict detected at commit", errors.CategoryConflict).WithTextCode(TextCodeWriteConflict)

	// ErrDuplicateKey is returned when an insert reuses an existing primary key.
	ErrDuplicateKey = errors.New("duplicate primary key", errors.CategoryConflict).WithTextCode(TextCodeDuplicateKey)
)

// Row is a column name to value tuple.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Reader issues read requests.
type Reader interface {
	// ReadByKey returns ErrRowNotFound when the row does not exist.
	ReadByKey(ctx context.Context, table, idColumn string, id any) (Row, error)
	// ReadByKeys returns the rows found, in no particular order.
	ReadByKeys(ctx context.Context, table, idColumn string, ids []any) ([]Row, error)
	ReadByQuery(ctx context.Context, q Query) ([]Row, error)
}

// Update is a conditional update request. When VersionColumn is set the
// statement only matches the row if its version still equals Version.
type Update struct {
	Table         string
	IDColumn      string
	ID            any
	VersionColumn string
	Version       any
	Set           Row
}

// Delete is a conditional delete request, see Update.
type Delete struct {
	Table         string
	IDColumn      string
	ID            any
	VersionColumn string
	Version       any
}

// Writer issues write requests and reports affected row counts.
type Writer interface {
	Insert(ctx context.Context, table string, row Row) error
	Update(ctx context.Context, u Update) (int64, error)
	Delete(ctx context.Context, d Delete) (int64, error)
}

// Sequencer hands out identifiers for tables using sequence generation.
type Sequencer interface {
	NextID(ctx context.Context, table string) (int64, error)
}

// Tx is a store transaction. Reads observe the transaction's own writes.
type Tx interface {
	Reader
	Writer
	Sequencer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the backing relational store.
type Store interface {
	Reader
	Sequencer
	Begin(ctx context.Context) (Tx, error)
}

// Wrap converts a driver error into a store failure, keeping engine errors intact.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var perr *errors.Error
	if errors.As(err, &perr) {
		return err
	}
	return errors.Wrap(err, errors.CategoryExternal, message).WithTextCode(TextCodeStoreFailure)
}

// IsRowNotFound reports whether err is ErrRowNotFound.
func IsRowNotFound(err error) bool {
	return hasTextCode(err, TextCodeRowNotFound)
}

// IsWriteConflict reports whether err is ErrWriteConflict.
func IsWriteConflict(err error) bool {
	return hasTextCode(err, TextCodeWriteConflict)
}

// IsDuplicateKey reports whether err is ErrDuplicateKey.
func IsDuplicateKey(err error) bool {
	return hasTextCode(err, TextCodeDuplicateKey)
}

func hasTextCode(err error, code string) bool {
	var perr *errors.Error
	return errors.As(err, &perr) && perr.TextCode == code
}

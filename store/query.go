package store

// Op is a filter comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpIn
	OpLike
	OpGt
	OpLt
	OpIsNull
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpIn:
		return "IN"
	case OpLike:
		return "LIKE"
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpIsNull:
		return "IS NULL"
	}
	return "?"
}

// Filter restricts a query to rows whose Column compares to Value. OpIn
// expects a []any value, OpLike a pattern using % wildcards.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Order sorts query results by a column.
type Order struct {
	Column string
	Desc   bool
}

// Query reads full rows from one table. Filters are combined with AND.
type Query struct {
	Table   string
	Filters []Filter
	OrderBy []Order
	Limit   int
	Offset  int
}

// Eq is shorthand for an equality filter.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// In is shorthand for a membership filter.
func In(column string, values []any) Filter { return Filter{Column: column, Op: OpIn, Value: values} }

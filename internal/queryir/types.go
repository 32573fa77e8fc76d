package queryir

import "github.com/roach88/strata/internal/criteria"

// Query is a sealed interface over Select and Join.
type Query interface {
	queryNode()
}

// Predicate is a sealed interface over filter conditions.
type Predicate interface {
	predicateNode()
}

// Select reads records from one collection.
//
//	SELECT * FROM <From> WHERE <Filter> ORDER BY <Sort> LIMIT <Limit> OFFSET <Offset>
type Select struct {
	From   string
	Filter Predicate // nil = no filter
	Sort   []criteria.SortKey
	Limit  int // 0 = unlimited
	Offset int
}

func (Select) queryNode() {}

// JoinKind selects inner or outer join semantics.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	RightJoin
	FullJoin
)

// JoinKindFor maps the adapter's left/right outer flags to a JoinKind.
// Neither flag means an inner join.
func JoinKindFor(left, right bool) JoinKind {
	switch {
	case left && right:
		return FullJoin
	case left:
		return LeftJoin
	case right:
		return RightJoin
	default:
		return InnerJoin
	}
}

func (k JoinKind) String() string {
	switch k {
	case LeftJoin:
		return "LEFT OUTER JOIN"
	case RightJoin:
		return "RIGHT OUTER JOIN"
	case FullJoin:
		return "FULL OUTER JOIN"
	default:
		return "INNER JOIN"
	}
}

// Join combines two collections on Left.Key = Right.ForeignKey.
//
// Joined rows are flat records whose keys are qualified as
// "<collection>.<field>". LeftFields and RightFields list the projected
// fields; SQL backends need them to build the projection.
type Join struct {
	Left        string
	Right       string
	Key         string
	ForeignKey  string
	Kind        JoinKind
	LeftFields  []string
	RightFields []string
}

// Qualify returns the joined-row key for a field of collection.
func Qualify(collection, field string) string {
	return collection + "." + field
}

func (Join) queryNode() {}

// Equals matches field = value.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// In matches field IN (values...). An empty Values list matches nothing.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// CompareOp is an ordering operator.
type CompareOp string

const (
	OpLess         CompareOp = "<"
	OpLessEqual    CompareOp = "<="
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
)

// Compare matches field <op> value.
type Compare struct {
	Field string
	Op    CompareOp
	Value any
}

func (Compare) predicateNode() {}

// Like matches field against a SQL LIKE pattern (% and _ wildcards,
// ASCII case-insensitive).
type Like struct {
	Field   string
	Pattern string
}

func (Like) predicateNode() {}

// IsNull matches records where field is absent or null.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// And matches when all predicates match. Empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

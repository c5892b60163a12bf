// Package sqlq is a small SQL expression tree. Identifiers are always
// quoted and values are always bound as parameters; the only text that
// reaches a query verbatim comes from constants in this package.
package sqlq

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Dialect controls placeholder syntax and dialect-specific operators.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// CmpOp is a binary comparison operator.
type CmpOp int

const (
	Eq CmpOp = iota
	Ne
	Gt
	Lt
	Ge
	Le
	Like
	ILike
	Regex
	Is
)

func (op CmpOp) sql(d Dialect) string {
	switch op {
	case Eq:
		return "="
	case Ne:
		return "!="
	case Gt:
		return ">"
	case Lt:
		return "<"
	case Ge:
		return ">="
	case Le:
		return "<="
	case ILike:
		if d == SQLite {
			// LIKE is already case-insensitive for ASCII in SQLite
			return "LIKE"
		}
		return "ILIKE"
	case Regex:
		if d == SQLite {
			return "REGEXP"
		}
		return "~"
	case Is:
		return "IS"
	default:
		return "LIKE"
	}
}

// LogicOp joins two boolean expressions.
type LogicOp int

const (
	And LogicOp = iota
	Or
)

// Expr is a node of the expression tree.
type Expr interface {
	writeTo(b *builder)
}

type builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
}

func (b *builder) param(v any) {
	b.args = append(b.args, v)
	b.sb.WriteString(b.dialect.placeholder(len(b.args)))
}

// Ident is a quoted column or table identifier.
type Ident string

func (i Ident) writeTo(b *builder) {
	b.sb.WriteString(pq.QuoteIdentifier(string(i)))
}

// Param is a bound value.
type Param struct {
	Value any
}

func (p Param) writeTo(b *builder) { b.param(p.Value) }

// Int is an integer literal. It is written inline so that the store can
// type CASE branches and aggregates without parameter inference.
type Int int64

func (i Int) writeTo(b *builder) {
	b.sb.WriteString(strconv.FormatInt(int64(i), 10))
}

// Bool is the TRUE/FALSE keyword, needed where a parameter is not
// allowed, as on the right of IS.
type Bool bool

func (v Bool) writeTo(b *builder) {
	if v {
		b.sb.WriteString("TRUE")
	} else {
		b.sb.WriteString("FALSE")
	}
}

type star struct{}

func (star) writeTo(b *builder) { b.sb.WriteString("*") }

// Star is the * select list / COUNT argument.
var Star Expr = star{}

// Cmp compares Left and Right.
type Cmp struct {
	Left  Expr
	Op    CmpOp
	Right Expr
}

func (c Cmp) writeTo(b *builder) {
	c.Left.writeTo(b)
	b.sb.WriteString(" ")
	b.sb.WriteString(c.Op.sql(b.dialect))
	b.sb.WriteString(" ")
	c.Right.writeTo(b)
}

// Logic is a binary AND/OR. Both sides are parenthesized, so a chain of
// Logic nodes evaluates exactly in tree order.
type Logic struct {
	Left  Expr
	Op    LogicOp
	Right Expr
}

func (l Logic) writeTo(b *builder) {
	b.sb.WriteString("(")
	l.Left.writeTo(b)
	if l.Op == Or {
		b.sb.WriteString(") OR (")
	} else {
		b.sb.WriteString(") AND (")
	}
	l.Right.writeTo(b)
	b.sb.WriteString(")")
}

// In tests membership of Left in Values. An empty list matches nothing.
type In struct {
	Left   Expr
	Values []any
}

func (in In) writeTo(b *builder) {
	if len(in.Values) == 0 {
		b.sb.WriteString("1 = 0")
		return
	}
	in.Left.writeTo(b)
	b.sb.WriteString(" IN (")
	for i, v := range in.Values {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.param(v)
	}
	b.sb.WriteString(")")
}

// NotNull is "expr IS NOT NULL".
type NotNull struct {
	Expr Expr
}

func (n NotNull) writeTo(b *builder) {
	n.Expr.writeTo(b)
	b.sb.WriteString(" IS NOT NULL")
}

// Aggregate functions
const (
	Count = "COUNT"
	Avg   = "AVG"
	Sum   = "SUM"
	Min   = "MIN"
	Max   = "MAX"
)

// Func is an aggregate call. Name must be one of the aggregate constants.
type Func struct {
	Name string
	Args []Expr
}

func (f Func) writeTo(b *builder) {
	b.sb.WriteString(f.Name)
	b.sb.WriteString("(")
	for i, a := range f.Args {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		a.writeTo(b)
	}
	b.sb.WriteString(")")
}

// CastInteger is CAST(expr AS INTEGER).
type CastInteger struct {
	Expr Expr
}

func (c CastInteger) writeTo(b *builder) {
	b.sb.WriteString("CAST(")
	c.Expr.writeTo(b)
	b.sb.WriteString(" AS INTEGER)")
}

// Case is CASE WHEN When THEN Then ELSE Else END.
type Case struct {
	When Expr
	Then Expr
	Else Expr
}

func (c Case) writeTo(b *builder) {
	b.sb.WriteString("CASE WHEN ")
	c.When.writeTo(b)
	b.sb.WriteString(" THEN ")
	c.Then.writeTo(b)
	b.sb.WriteString(" ELSE ")
	c.Else.writeTo(b)
	b.sb.WriteString(" END")
}

// CountIf is SUM(CASE WHEN cond THEN 1 ELSE 0 END).
func CountIf(cond Expr) Expr {
	return Func{Name: Sum, Args: []Expr{Case{When: cond, Then: Int(1), Else: Int(0)}}}
}

// Fold appends right onto left with op. A nil left yields right.
func Fold(left Expr, op LogicOp, right Expr) Expr {
	if left == nil {
		return right
	}
	if right == nil {
		return left
	}
	return Logic{Left: left, Op: op, Right: right}
}

// AndAll ANDs the non-nil expressions left to right. It returns nil when
// every input is nil, which callers read as "match all".
func AndAll(exprs ...Expr) Expr {
	var out Expr
	for _, e := range exprs {
		out = Fold(out, And, e)
	}
	return out
}

// Render writes a standalone expression, mostly for previews and tests.
func Render(d Dialect, e Expr) (string, []any) {
	if e == nil {
		return "", nil
	}
	b := &builder{dialect: d}
	e.writeTo(b)
	return b.sb.String(), b.args
}

// Order is an ORDER BY term.
type Order struct {
	Expr Expr
	Desc bool
}

// Select is a single-table SELECT statement.
type Select struct {
	Distinct bool
	Columns  []Expr
	From     string
	Where    Expr
	GroupBy  []Expr
	OrderBy  []Order
	Limit    int
}

// Build renders the statement and its bound arguments.
func (s Select) Build(d Dialect) (string, []any) {
	b := &builder{dialect: d}
	b.sb.WriteString("SELECT ")
	if s.Distinct {
		b.sb.WriteString("DISTINCT ")
	}
	if len(s.Columns) == 0 {
		Star.writeTo(b)
	}
	for i, c := range s.Columns {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		c.writeTo(b)
	}
	b.sb.WriteString(" FROM ")
	Ident(s.From).writeTo(b)
	if s.Where != nil {
		b.sb.WriteString(" WHERE ")
		s.Where.writeTo(b)
	}
	for i, g := range s.GroupBy {
		if i == 0 {
			b.sb.WriteString(" GROUP BY ")
		} else {
			b.sb.WriteString(", ")
		}
		g.writeTo(b)
	}
	for i, o := range s.OrderBy {
		if i == 0 {
			b.sb.WriteString(" ORDER BY ")
		} else {
			b.sb.WriteString(", ")
		}
		o.Expr.writeTo(b)
		if o.Desc {
			b.sb.WriteString(" DESC")
		}
	}
	if s.Limit > 0 {
		b.sb.WriteString(" LIMIT ")
		b.sb.WriteString(strconv.Itoa(s.Limit))
	}
	return b.sb.String(), b.args
}

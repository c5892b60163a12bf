// Package filter compiles predicate trees into query expressions.
package filter

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/zeno-ml/zeno-hub-sub000/internal/catalog"
	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

// DefaultMaxDepth bounds group nesting.
const DefaultMaxDepth = 32

// MalformedFilterError reports a predicate tree that cannot be compiled.
type MalformedFilterError struct {
	Reason string
}

func (e *MalformedFilterError) Error() string {
	return "malformed filter: " + e.Reason
}

// IsMalformed reports whether err is a MalformedFilterError.
func IsMalformed(err error) bool {
	var me *MalformedFilterError
	return errors.As(err, &me)
}

func malformed(format string, args ...any) error {
	return &MalformedFilterError{Reason: fmt.Sprintf(format, args...)}
}

// Compiler turns FilterPredicateGroups into sqlq expressions. It keeps no
// state between calls besides the catalog it resolves columns through.
type Compiler struct {
	catalog  *catalog.Catalog
	maxDepth int
}

func NewCompiler(cat *catalog.Catalog, maxDepth int) *Compiler {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Compiler{catalog: cat, maxDepth: maxDepth}
}

// Compile folds group left to right. With a model, predicate columns are
// re-resolved by name for that model so saved filters replay across
// models. A nil result means the group places no restriction.
func (c *Compiler) Compile(ctx context.Context, group *models.FilterPredicateGroup, project, model string) (sqlq.Expr, error) {
	if group.Empty() {
		return nil, nil
	}
	return c.compileGroup(ctx, group, project, model, 1)
}

// DataIDs restricts rows to the given data ids. A nil list is no
// restriction; an empty one matches nothing.
func (c *Compiler) DataIDs(ctx context.Context, project string, ids []string) (sqlq.Expr, error) {
	if ids == nil {
		return nil, nil
	}
	idCol, err := c.catalog.ByKind(ctx, project, models.ColumnKindID, "")
	if err != nil {
		return nil, err
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return sqlq.In{Left: sqlq.Ident(idCol.ID), Values: values}, nil
}

// Where compiles group and ANDs the data id restriction onto it.
func (c *Compiler) Where(ctx context.Context, project, model string, group *models.FilterPredicateGroup, ids []string) (sqlq.Expr, error) {
	pred, err := c.Compile(ctx, group, project, model)
	if err != nil {
		return nil, err
	}
	restrict, err := c.DataIDs(ctx, project, ids)
	if err != nil {
		return nil, err
	}
	return sqlq.AndAll(pred, restrict), nil
}

func (c *Compiler) compileGroup(ctx context.Context, group *models.FilterPredicateGroup, project, model string, depth int) (sqlq.Expr, error) {
	if depth > c.maxDepth {
		return nil, malformed("nesting deeper than %d", c.maxDepth)
	}

	var acc sqlq.Expr
	for _, node := range group.Predicates {
		var (
			expr sqlq.Expr
			err  error
		)
		switch n := node.(type) {
		case models.FilterPredicate:
			expr, err = c.compilePredicate(ctx, n, project, model)
		case *models.FilterPredicate:
			if n == nil {
				continue
			}
			expr, err = c.compilePredicate(ctx, *n, project, model)
		case *models.FilterPredicateGroup:
			// empty subgroups emit nothing, not "AND ()"
			if n.Empty() {
				continue
			}
			expr, err = c.compileGroup(ctx, n, project, model, depth+1)
		default:
			return nil, malformed("unknown node %T", node)
		}
		if err != nil {
			return nil, err
		}

		if acc == nil {
			acc = expr
			continue
		}
		switch node.NodeJoin().Normalize() {
		case models.JoinAnd:
			acc = sqlq.Logic{Left: acc, Op: sqlq.And, Right: expr}
		case models.JoinOr:
			acc = sqlq.Logic{Left: acc, Op: sqlq.Or, Right: expr}
		default:
			return nil, malformed("missing join after the first predicate")
		}
	}
	return acc, nil
}

func (c *Compiler) compilePredicate(ctx context.Context, p models.FilterPredicate, project, model string) (sqlq.Expr, error) {
	col, err := c.resolve(ctx, p.Column, project, model)
	if err != nil {
		if catalog.IsResolution(err) {
			return nil, &MalformedFilterError{Reason: err.Error()}
		}
		return nil, err
	}

	op := Operator(p.Operation)
	if p.Value == nil {
		return nil, malformed("no value for column %s", p.Column.Name)
	}

	var value any
	switch op {
	case sqlq.Like, sqlq.ILike, sqlq.Regex:
		s, ok := p.Value.(string)
		if !ok {
			return nil, malformed("%s needs a text pattern, got %T", p.Operation, p.Value)
		}
		value = s
	default:
		value = Coerce(p.Value)
		if _, isBool := value.(bool); isBool && op != sqlq.Eq && op != sqlq.Ne {
			return nil, malformed("%s cannot compare a boolean", p.Operation)
		}
	}

	return sqlq.Cmp{Left: sqlq.Ident(col.ID), Op: op, Right: sqlq.Param{Value: value}}, nil
}

func (c *Compiler) resolve(ctx context.Context, col models.Column, project, model string) (models.Column, error) {
	if model != "" || col.ID == "" {
		return c.catalog.Resolve(ctx, project, col.Name, model)
	}
	return c.catalog.ByID(ctx, project, col.ID)
}

// Operator maps a predicate operation onto its query operator. Unknown
// and empty operations fall back to LIKE.
func Operator(op models.Operation) sqlq.CmpOp {
	switch strings.ToUpper(strings.TrimSpace(string(op))) {
	case "==", "=":
		return sqlq.Eq
	case "!=":
		return sqlq.Ne
	case ">":
		return sqlq.Gt
	case "<":
		return sqlq.Lt
	case ">=":
		return sqlq.Ge
	case "<=":
		return sqlq.Le
	case "ILIKE":
		return sqlq.ILike
	case "REGEX":
		return sqlq.Regex
	default:
		return sqlq.Like
	}
}

// Coerce turns a predicate literal into a number when it parses as one,
// into a boolean for "true"/"false" in any case, and leaves it text
// otherwise. Integral numbers come back as int64.
func Coerce(v any) any {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return number(f)
		}
		switch strings.ToLower(s) {
		case "true":
			return true
		case "false":
			return false
		}
		return x
	case bool:
		return x
	default:
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return cast.ToString(x)
		}
		return number(f)
	}
}

func number(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

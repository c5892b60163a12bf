package filter

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeno-ml/zeno-hub-sub000/internal/catalog"
	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/storetest"
)

var (
	idCol     = models.Column{ID: "c0", Name: "id", Kind: models.ColumnKindID, DataType: models.ValueTypeNominal}
	labelCol  = models.Column{ID: "c1", Name: "label", Kind: models.ColumnKindLabel, DataType: models.ValueTypeNominal}
	ageCol    = models.Column{ID: "c2", Name: "age", Kind: models.ColumnKindData, DataType: models.ValueTypeContinuous}
	flagCol   = models.Column{ID: "c3", Name: "flag", Kind: models.ColumnKindFeature, DataType: models.ValueTypeBoolean}
	textCol   = models.Column{ID: "c4", Name: "text", Kind: models.ColumnKindData, DataType: models.ValueTypeNominal}
	gptOut    = models.Column{ID: "c5", Name: "output", Kind: models.ColumnKindOutput, DataType: models.ValueTypeNominal, Model: "gpt"}
	llamaOut  = models.Column{ID: "c6", Name: "output", Kind: models.ColumnKindOutput, DataType: models.ValueTypeNominal, Model: "llama"}
	fixtureFx = storetest.Fixture{
		Project: "proj",
		Columns: []models.Column{idCol, labelCol, ageCol, flagCol, textCol, gptOut, llamaOut},
		Rows: []map[string]any{
			{"c0": "a", "c1": "cat", "c2": 10.0, "c3": true, "c4": "apple pie", "c5": "cat", "c6": "dog"},
			{"c0": "b", "c1": "dog", "c2": 20.0, "c3": false, "c4": "banana", "c5": "dog", "c6": "dog"},
			{"c0": "c", "c1": "cat", "c2": 30.0, "c3": false, "c4": "Avocado", "c5": "dog", "c6": "cat"},
			{"c0": "d", "c1": "dog", "c2": 40.0, "c3": true, "c4": "cherry", "c5": "dog", "c6": "cat"},
		},
	}
)

func setup(t *testing.T) (*Compiler, *store.DB) {
	t.Helper()
	db := storetest.Open(t, fixtureFx)
	cat, err := catalog.New(db, 4, nil)
	require.NoError(t, err)
	return NewCompiler(cat, 0), db
}

// matching returns the ids of the rows selected by where.
func matching(t *testing.T, db *store.DB, where sqlq.Expr) []string {
	t.Helper()
	ids := []string{}
	err := db.Query(context.Background(), "test", sqlq.Select{
		Columns: []sqlq.Expr{sqlq.Ident("c0")},
		From:    "proj",
		Where:   where,
		OrderBy: []sqlq.Order{{Expr: sqlq.Ident("c0")}},
	}, func(rows *sql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	return ids
}

func pred(col models.Column, op models.Operation, value any, join models.Join) models.FilterPredicate {
	return models.FilterPredicate{Column: col, Operation: op, Value: value, Join: join}
}

func TestLeftFold(t *testing.T) {
	c, db := setup(t)

	// [label == cat, age > 35 (OR), flag == true (AND)]
	group := &models.FilterPredicateGroup{Predicates: []models.FilterNode{
		pred(labelCol, models.OpEqual, "cat", models.JoinNone),
		pred(ageCol, models.OpGreater, 35, models.JoinOr),
		pred(flagCol, models.OpEqual, "true", models.JoinAnd),
	}}
	where, err := c.Compile(context.Background(), group, "proj", "")
	require.NoError(t, err)

	sql, args := sqlq.Render(sqlq.Postgres, where)
	assert.Equal(t, `(("c1" = $1) OR ("c2" > $2)) AND ("c3" = $3)`, sql)
	assert.Equal(t, []any{"cat", int64(35), true}, args)

	// ((A OR B) AND C), not (A OR (B AND C)) which would also keep c
	assert.Equal(t, []string{"a", "d"}, matching(t, db, where))
}

func TestNestedGroups(t *testing.T) {
	c, db := setup(t)

	// label == dog AND (age < 15 OR text LIKE 'ch%'), with an empty group in between
	group := &models.FilterPredicateGroup{Predicates: []models.FilterNode{
		pred(labelCol, models.OpEqual, "dog", models.JoinNone),
		&models.FilterPredicateGroup{Join: models.JoinAnd},
		&models.FilterPredicateGroup{Join: models.JoinAnd, Predicates: []models.FilterNode{
			pred(ageCol, models.OpLess, "15", models.JoinNone),
			pred(textCol, models.OpLike, "ch%", models.JoinOr),
		}},
	}}
	where, err := c.Compile(context.Background(), group, "proj", "")
	require.NoError(t, err)

	sql, _ := sqlq.Render(sqlq.SQLite, where)
	assert.Equal(t, `("c1" = ?) AND (("c2" < ?) OR ("c4" LIKE ?))`, sql)
	assert.Equal(t, []string{"d"}, matching(t, db, where))
}

func TestEmptyGroupMatchesAll(t *testing.T) {
	c, db := setup(t)
	ctx := context.Background()

	for _, g := range []*models.FilterPredicateGroup{
		nil,
		{},
		{Predicates: []models.FilterNode{&models.FilterPredicateGroup{}, &models.FilterPredicateGroup{Join: models.JoinOr}}},
	} {
		where, err := c.Compile(ctx, g, "proj", "")
		require.NoError(t, err)
		assert.Nil(t, where)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, matching(t, db, nil))
}

func TestPatternOperators(t *testing.T) {
	c, db := setup(t)
	ctx := context.Background()

	tests := []struct {
		op    models.Operation
		value string
		want  []string
	}{
		{models.OpLike, "%an%", []string{"b"}},
		{models.OpILike, "a%", []string{"a", "c"}},
		{models.OpRegex, "^(apple|cherry)", []string{"a", "d"}},
		{models.OpNotEqual, "banana", []string{"a", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			group := &models.FilterPredicateGroup{Predicates: []models.FilterNode{pred(textCol, tt.op, tt.value, models.JoinNone)}}
			where, err := c.Compile(ctx, group, "proj", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, matching(t, db, where))
		})
	}
}

func TestModelReresolution(t *testing.T) {
	c, db := setup(t)
	ctx := context.Background()

	// saved against gpt's output column, replayed for llama
	group := &models.FilterPredicateGroup{Predicates: []models.FilterNode{pred(gptOut, models.OpEqual, "cat", models.JoinNone)}}

	where, err := c.Compile(ctx, group, "proj", "gpt")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, matching(t, db, where))

	where, err = c.Compile(ctx, group, "proj", "llama")
	require.NoError(t, err)
	sql, _ := sqlq.Render(sqlq.Postgres, where)
	assert.Equal(t, `"c6" = $1`, sql)
	assert.Equal(t, []string{"c", "d"}, matching(t, db, where))

	// shared columns stay shared under a model
	group = &models.FilterPredicateGroup{Predicates: []models.FilterNode{pred(labelCol, models.OpEqual, "dog", models.JoinNone)}}
	where, err = c.Compile(ctx, group, "proj", "llama")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, matching(t, db, where))
}

func TestMalformed(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	deep := &models.FilterPredicateGroup{Predicates: []models.FilterNode{pred(labelCol, models.OpEqual, "cat", models.JoinNone)}}
	for i := 0; i < DefaultMaxDepth+1; i++ {
		deep = &models.FilterPredicateGroup{Predicates: []models.FilterNode{deep}}
	}

	tests := []struct {
		name  string
		group *models.FilterPredicateGroup
	}{
		{"ordering a boolean", &models.FilterPredicateGroup{Predicates: []models.FilterNode{pred(flagCol, models.OpGreater, "true", models.JoinNone)}}},
		{"numeric pattern", &models.FilterPredicateGroup{Predicates: []models.FilterNode{pred(textCol, models.OpLike, 3, models.JoinNone)}}},
		{"missing join", &models.FilterPredicateGroup{Predicates: []models.FilterNode{
			pred(labelCol, models.OpEqual, "cat", models.JoinNone),
			pred(ageCol, models.OpGreater, 1, models.JoinNone),
		}}},
		{"unknown column", &models.FilterPredicateGroup{Predicates: []models.FilterNode{
			pred(models.Column{Name: "nope"}, models.OpEqual, "x", models.JoinNone),
		}}},
		{"no value", &models.FilterPredicateGroup{Predicates: []models.FilterNode{pred(labelCol, models.OpEqual, nil, models.JoinNone)}}},
		{"too deep", deep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(ctx, tt.group, "proj", "")
			require.Error(t, err)
			assert.True(t, IsMalformed(err), err.Error())
		})
	}
}

func TestDataIDs(t *testing.T) {
	c, db := setup(t)
	ctx := context.Background()

	where, err := c.DataIDs(ctx, "proj", nil)
	require.NoError(t, err)
	assert.Nil(t, where)

	where, err = c.DataIDs(ctx, "proj", []string{})
	require.NoError(t, err)
	assert.Empty(t, matching(t, db, where))

	group := &models.FilterPredicateGroup{Predicates: []models.FilterNode{pred(labelCol, models.OpEqual, "cat", models.JoinNone)}}
	where, err = c.Where(ctx, "proj", "", group, []string{"a", "b"})
	require.NoError(t, err)
	sql, args := sqlq.Render(sqlq.Postgres, where)
	assert.Equal(t, `("c1" = $1) AND ("c0" IN ($2, $3))`, sql)
	assert.Equal(t, []any{"cat", "a", "b"}, args)
	assert.Equal(t, []string{"a"}, matching(t, db, where))
}

func TestCompileFromJSON(t *testing.T) {
	c, db := setup(t)

	body := `{"predicates": [
		{"column": {"id": "c2", "name": "age"}, "operation": ">=", "value": "20", "join": ""},
		{"predicates": [
			{"column": {"id": "c1", "name": "label"}, "operation": "==", "value": "cat", "join": ""},
			{"column": {"id": "c3", "name": "flag"}, "operation": "==", "value": "TRUE", "join": "|"}
		], "join": "&"}
	], "join": ""}`
	var group models.FilterPredicateGroup
	require.NoError(t, json.Unmarshal([]byte(body), &group))

	where, err := c.Compile(context.Background(), &group, "proj", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, matching(t, db, where))
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"42", int64(42)},
		{" 2.5 ", 2.5},
		{"-1e3", int64(-1000)},
		{"True", true},
		{"false", false},
		{"cat", "cat"},
		{"NaN", "NaN"},
		{float64(3), int64(3)},
		{1.25, 1.25},
		{7, int64(7)},
		{true, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Coerce(tt.in), "%v", tt.in)
	}
}

func TestOperator(t *testing.T) {
	tests := map[models.Operation]sqlq.CmpOp{
		"==":    sqlq.Eq,
		"=":     sqlq.Eq,
		"!=":    sqlq.Ne,
		">":     sqlq.Gt,
		"<":     sqlq.Lt,
		">=":    sqlq.Ge,
		"<=":    sqlq.Le,
		"like":  sqlq.Like,
		"ILIKE": sqlq.ILike,
		"REGEX": sqlq.Regex,
		"":      sqlq.Like,
		"~~":    sqlq.Like,
	}
	for op, want := range tests {
		assert.Equal(t, want, Operator(op), string(op))
	}
}

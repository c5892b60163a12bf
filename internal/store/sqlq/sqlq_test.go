package sqlq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBuild(t *testing.T) {
	where := Logic{
		Left:  Cmp{Left: Ident("c_age"), Op: Gt, Right: Param{Value: int64(30)}},
		Op:    And,
		Right: Cmp{Left: Ident("c_name"), Op: ILike, Right: Param{Value: "%ann%"}},
	}
	q := Select{
		Columns: []Expr{Ident("c_label"), Func{Name: Count, Args: []Expr{Star}}},
		From:    "proj",
		Where:   where,
		GroupBy: []Expr{Ident("c_label")},
		OrderBy: []Order{{Expr: Func{Name: Count, Args: []Expr{Star}}, Desc: true}},
		Limit:   5,
	}

	tests := []struct {
		dialect Dialect
		want    string
	}{
		{Postgres, `SELECT "c_label", COUNT(*) FROM "proj" WHERE ("c_age" > $1) AND ("c_name" ILIKE $2) GROUP BY "c_label" ORDER BY COUNT(*) DESC LIMIT 5`},
		{SQLite, `SELECT "c_label", COUNT(*) FROM "proj" WHERE ("c_age" > ?) AND ("c_name" LIKE ?) GROUP BY "c_label" ORDER BY COUNT(*) DESC LIMIT 5`},
	}
	for _, tt := range tests {
		t.Run(tt.dialect.String(), func(t *testing.T) {
			sql, args := q.Build(tt.dialect)
			assert.Equal(t, tt.want, sql)
			assert.Equal(t, []any{int64(30), "%ann%"}, args)
		})
	}
}

func TestSelectDefaults(t *testing.T) {
	sql, args := Select{From: "proj"}.Build(Postgres)
	assert.Equal(t, `SELECT * FROM "proj"`, sql)
	assert.Empty(t, args)
}

func TestIdentifiersAreQuoted(t *testing.T) {
	sql, args := Select{Columns: []Expr{Ident(`a"; DROP TABLE x; --`)}, From: "proj"}.Build(Postgres)
	assert.Equal(t, `SELECT "a""; DROP TABLE x; --" FROM "proj"`, sql)
	assert.Empty(t, args)
}

func TestLogicFoldsInTreeOrder(t *testing.T) {
	a := Cmp{Left: Ident("a"), Op: Eq, Right: Param{Value: 1}}
	b := Cmp{Left: Ident("b"), Op: Eq, Right: Param{Value: 2}}
	c := Cmp{Left: Ident("c"), Op: Eq, Right: Param{Value: 3}}

	expr := Fold(Fold(a, Or, b), And, c)
	sql, args := Render(Postgres, expr)
	assert.Equal(t, `(("a" = $1) OR ("b" = $2)) AND ("c" = $3)`, sql)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestAndAll(t *testing.T) {
	assert.Nil(t, AndAll())
	assert.Nil(t, AndAll(nil, nil))

	a := Cmp{Left: Ident("a"), Op: Eq, Right: Param{Value: 1}}
	assert.Equal(t, a, AndAll(nil, a, nil))

	sql, _ := Render(SQLite, AndAll(a, NotNull{Expr: Ident("b")}))
	assert.Equal(t, `("a" = ?) AND ("b" IS NOT NULL)`, sql)
}

func TestIn(t *testing.T) {
	sql, args := Render(Postgres, In{Left: Ident("id"), Values: []any{"x", "y"}})
	assert.Equal(t, `"id" IN ($1, $2)`, sql)
	assert.Equal(t, []any{"x", "y"}, args)

	sql, args = Render(Postgres, In{Left: Ident("id")})
	assert.Equal(t, "1 = 0", sql)
	assert.Empty(t, args)
}

func TestRegexOperator(t *testing.T) {
	expr := Cmp{Left: Ident("text"), Op: Regex, Right: Param{Value: "^a.*"}}

	sql, _ := Render(Postgres, expr)
	assert.Equal(t, `"text" ~ $1`, sql)

	sql, _ = Render(SQLite, expr)
	assert.Equal(t, `"text" REGEXP ?`, sql)
}

func TestCountIfAndCast(t *testing.T) {
	sql, args := Render(Postgres, CountIf(Cmp{Left: Ident("out"), Op: Eq, Right: Ident("label")}))
	assert.Equal(t, `SUM(CASE WHEN "out" = "label" THEN 1 ELSE 0 END)`, sql)
	assert.Empty(t, args)

	sql, _ = Render(Postgres, Func{Name: Avg, Args: []Expr{CastInteger{Expr: Ident("flag")}}})
	assert.Equal(t, `AVG(CAST("flag" AS INTEGER))`, sql)

	sql, _ = Render(SQLite, Cmp{Left: Ident("flag"), Op: Is, Right: Bool(false)})
	assert.Equal(t, `"flag" IS FALSE`, sql)
}

func TestRenderNil(t *testing.T) {
	sql, args := Render(Postgres, nil)
	require.Empty(t, sql)
	require.Nil(t, args)
}

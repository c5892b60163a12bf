// Package frame holds project rows in memory for algorithms that do not
// run inside the store.
package frame

import (
	"context"
	"database/sql"
	"math"

	"github.com/spf13/cast"

	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

// DataFrame is a row-major table of driver values. Missing values are nil.
type DataFrame struct {
	Headers []string
	Rows    [][]any
}

// Load selects the given physical columns of project under where.
func Load(ctx context.Context, db *store.DB, project string, headers []string, where sqlq.Expr) (*DataFrame, error) {
	cols := make([]sqlq.Expr, len(headers))
	for i, h := range headers {
		cols[i] = sqlq.Ident(h)
	}

	df := &DataFrame{Headers: headers}
	err := db.Query(ctx, "frame", sqlq.Select{Columns: cols, From: project, Where: where}, func(rows *sql.Rows) error {
		values := make([]any, len(headers))
		valuePtrs := make([]any, len(headers))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		df.Rows = append(df.Rows, values)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return df, nil
}

// Len is the number of rows.
func (df *DataFrame) Len() int {
	return len(df.Rows)
}

// ColumnIndex returns the position of header, or -1.
func (df *DataFrame) ColumnIndex(header string) int {
	for i, h := range df.Headers {
		if h == header {
			return i
		}
	}
	return -1
}

// Floats returns the column as numbers. Values that are missing or not
// numeric become NaN.
func (df *DataFrame) Floats(colIdx int) []float64 {
	out := make([]float64, len(df.Rows))
	for i, row := range df.Rows {
		out[i] = ToFloat(row[colIdx])
	}
	return out
}

// Strings returns the column as text keys; missing values stay "".
func (df *DataFrame) Strings(colIdx int) []string {
	out := make([]string, len(df.Rows))
	for i, row := range df.Rows {
		if row[colIdx] != nil {
			out[i] = Key(row[colIdx])
		}
	}
	return out
}

// KeepRows returns the rows for which keep is true.
func (df *DataFrame) KeepRows(keep func(row []any) bool) *DataFrame {
	out := &DataFrame{Headers: df.Headers}
	for _, row := range df.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Key is the text form of a store value used to compare values across
// columns and drivers: 1, 1.0 and "1" share a key.
func Key(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	default:
		return cast.ToString(x)
	}
}

// ToFloat converts a store value to a number, NaN when it has none.
// Booleans count as 0/1.
func ToFloat(v any) float64 {
	if v == nil {
		return math.NaN()
	}
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		if x == "" {
			return math.NaN()
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Package storetest builds throwaway SQLite project tables for tests.
package storetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

// Fixture describes one project: its catalog and its rows, keyed by
// physical column id.
type Fixture struct {
	Project string
	Columns []models.Column
	Rows    []map[string]any
}

// Open creates the fixture in a fresh database file and returns a store
// handle on it. The database is removed with the test's temp dir.
func Open(t testing.TB, fx Fixture) *store.DB {
	t.Helper()
	require.NoError(t, store.RegisterSQLiteFunctions())

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	Load(t, db, fx)
	return store.New(db, sqlq.SQLite, nil, nil)
}

// Load creates and fills the fixture tables on db.
func Load(t testing.TB, db *sql.DB, fx Fixture) {
	t.Helper()
	ctx := context.Background()

	mapTable := pq.QuoteIdentifier(store.ColumnMapTable(fx.Project))
	_, err := db.ExecContext(ctx, "CREATE TABLE "+mapTable+
		" (column_id TEXT PRIMARY KEY, name TEXT NOT NULL, type TEXT NOT NULL, model TEXT, data_type TEXT NOT NULL)")
	require.NoError(t, err)

	defs := make([]string, 0, len(fx.Columns))
	for _, c := range fx.Columns {
		var model any
		if c.Model != "" {
			model = c.Model
		}
		_, err := db.ExecContext(ctx, "INSERT INTO "+mapTable+" VALUES (?, ?, ?, ?, ?)",
			c.ID, c.Name, string(c.Kind), model, string(c.DataType))
		require.NoError(t, err)
		defs = append(defs, pq.QuoteIdentifier(c.ID)+" "+sqlType(c.DataType))
	}

	table := pq.QuoteIdentifier(fx.Project)
	_, err = db.ExecContext(ctx, "CREATE TABLE "+table+" ("+strings.Join(defs, ", ")+")")
	require.NoError(t, err)

	for _, row := range fx.Rows {
		cols := make([]string, 0, len(row))
		marks := make([]string, 0, len(row))
		args := make([]any, 0, len(row))
		for _, c := range fx.Columns {
			v, ok := row[c.ID]
			if !ok {
				continue
			}
			if b, isBool := v.(bool); isBool {
				v = 0
				if b {
					v = 1
				}
			}
			cols = append(cols, pq.QuoteIdentifier(c.ID))
			marks = append(marks, "?")
			args = append(args, v)
		}
		_, err := db.ExecContext(ctx, "INSERT INTO "+table+" ("+strings.Join(cols, ", ")+") VALUES ("+
			strings.Join(marks, ", ")+")", args...)
		require.NoError(t, err)
	}
}

func sqlType(t models.ValueType) string {
	switch t {
	case models.ValueTypeContinuous:
		return "REAL"
	case models.ValueTypeBoolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

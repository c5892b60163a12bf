package frame

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/storetest"
)

func TestLoad(t *testing.T) {
	db := storetest.Open(t, storetest.Fixture{
		Project: "proj",
		Columns: []models.Column{
			{ID: "c0", Name: "id", Kind: models.ColumnKindID, DataType: models.ValueTypeNominal},
			{ID: "c1", Name: "score", Kind: models.ColumnKindData, DataType: models.ValueTypeContinuous},
		},
		Rows: []map[string]any{
			{"c0": "a", "c1": 1.5},
			{"c0": "b"},
			{"c0": "c", "c1": 3.0},
		},
	})

	where := sqlq.Cmp{Left: sqlq.Ident("c0"), Op: sqlq.Ne, Right: sqlq.Param{Value: "c"}}
	df, err := Load(context.Background(), db, "proj", []string{"c0", "c1"}, where)
	require.NoError(t, err)
	assert.Equal(t, 2, df.Len())
	assert.Equal(t, 1, df.ColumnIndex("c1"))
	assert.Equal(t, -1, df.ColumnIndex("c9"))
	assert.Equal(t, []string{"a", "b"}, df.Strings(0))

	scores := df.Floats(1)
	assert.Equal(t, 1.5, scores[0])
	assert.True(t, math.IsNaN(scores[1]))

	kept := df.KeepRows(func(row []any) bool { return row[1] != nil })
	assert.Equal(t, [][]any{{"a", 1.5}}, kept.Rows)
	assert.Equal(t, df.Headers, kept.Headers)
}

func TestKeepRowsNone(t *testing.T) {
	df := &DataFrame{Headers: []string{"x"}, Rows: [][]any{{math.NaN()}, {2.0}, {nil}}}
	kept := df.KeepRows(func(row []any) bool { return false })
	assert.Equal(t, 0, kept.Len())
}

func TestKeyAndToFloat(t *testing.T) {
	assert.Equal(t, Key(1), Key("1"))
	assert.Equal(t, Key(1.0), Key(int64(1)))
	assert.Equal(t, "abc", Key([]byte("abc")))
	assert.Equal(t, "", Key(nil))

	assert.Equal(t, 1.0, ToFloat(true))
	assert.Equal(t, 0.0, ToFloat(false))
	assert.Equal(t, 2.5, ToFloat("2.5"))
	assert.Equal(t, 7.0, ToFloat(int64(7)))
	for _, v := range []any{nil, "", "cat"} {
		assert.True(t, math.IsNaN(ToFloat(v)), "%v", v)
	}
}

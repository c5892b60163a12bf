// Package histogram computes per-column buckets, bucket counts and
// per-bucket metrics over filtered project rows.
package histogram

import (
	"context"
	"database/sql"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeno-ml/zeno-hub-sub000/internal/frame"
	"github.com/zeno-ml/zeno-hub-sub000/internal/metric"
	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/stats"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

// Engine runs the per-column work of a request concurrently, bounded by
// parallelism. Results keep the order of the input columns.
type Engine struct {
	db          *store.DB
	metrics     *metric.Engine
	parallelism int
	logger      log.Logger
}

func NewEngine(db *store.DB, metrics *metric.Engine, parallelism int, logger log.Logger) *Engine {
	if parallelism <= 0 {
		parallelism = 4
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{db: db, metrics: metrics, parallelism: parallelism, logger: log.With(logger, "component", "histogram")}
}

// fanOut runs fn for every index and fails as a whole on the first error.
func fanOut[T any](ctx context.Context, limit, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	out := make([]T, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			res, err := fn(gctx, i)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Buckets computes the buckets of every column. bins > 0 fixes the number
// of continuous buckets; otherwise Doane's rule picks it.
func (e *Engine) Buckets(ctx context.Context, project string, columns []models.Column, bins int) ([][]models.HistogramBucket, error) {
	return fanOut(ctx, e.parallelism, len(columns), func(ctx context.Context, i int) ([]models.HistogramBucket, error) {
		col := columns[i]
		switch col.DataType {
		case models.ValueTypeNominal:
			return e.nominalBuckets(ctx, project, col)
		case models.ValueTypeBoolean:
			return []models.HistogramBucket{{Bucket: true}, {Bucket: false}}, nil
		case models.ValueTypeContinuous:
			return e.continuousBuckets(ctx, project, col, bins)
		default:
			return []models.HistogramBucket{}, nil
		}
	})
}

func (e *Engine) nominalBuckets(ctx context.Context, project string, col models.Column) ([]models.HistogramBucket, error) {
	countAll := sqlq.Func{Name: sqlq.Count, Args: []sqlq.Expr{sqlq.Star}}
	buckets := []models.HistogramBucket{}
	err := e.db.Query(ctx, "histogram_buckets", sqlq.Select{
		Columns: []sqlq.Expr{sqlq.Ident(col.ID), countAll},
		From:    project,
		Where:   sqlq.NotNull{Expr: sqlq.Ident(col.ID)},
		GroupBy: []sqlq.Expr{sqlq.Ident(col.ID)},
		OrderBy: []sqlq.Order{{Expr: countAll, Desc: true}},
	}, func(rows *sql.Rows) error {
		var (
			value any
			n     int
		)
		if err := rows.Scan(&value, &n); err != nil {
			return err
		}
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		buckets = append(buckets, models.HistogramBucket{Bucket: value})
		return nil
	})
	return buckets, err
}

func (e *Engine) continuousBuckets(ctx context.Context, project string, col models.Column, bins int) ([]models.HistogramBucket, error) {
	var values []float64
	err := e.db.Query(ctx, "histogram_values", sqlq.Select{
		Columns: []sqlq.Expr{sqlq.Ident(col.ID)},
		From:    project,
		Where:   sqlq.NotNull{Expr: sqlq.Ident(col.ID)},
	}, func(rows *sql.Rows) error {
		var v any
		if err := rows.Scan(&v); err != nil {
			return err
		}
		if f := frame.ToFloat(v); f == f {
			values = append(values, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	edges := stats.BinEdges(values, bins)
	buckets := make([]models.HistogramBucket, 0, len(edges))
	for i := 0; i+1 < len(edges); i++ {
		buckets = append(buckets, models.HistogramBucket{Bucket: edges[i], BucketEnd: edges[i+1]})
	}
	level.Debug(e.logger).Log("msg", "continuous buckets", "column", col.ID, "values", len(values), "buckets", len(buckets))
	return buckets, nil
}

// Counts returns, for every requested column, the number of filtered rows
// in each of its buckets.
func (e *Engine) Counts(ctx context.Context, project string, reqs []models.HistogramColumnRequest, filter sqlq.Expr) ([][]int, error) {
	return fanOut(ctx, e.parallelism, len(reqs), func(ctx context.Context, i int) ([]int, error) {
		req := reqs[i]
		switch req.Column.DataType {
		case models.ValueTypeNominal:
			return e.nominalCounts(ctx, project, req, filter)
		case models.ValueTypeBoolean:
			return e.booleanCounts(ctx, project, req.Column, filter)
		case models.ValueTypeContinuous:
			return e.continuousCounts(ctx, project, req, filter)
		default:
			return []int{}, nil
		}
	})
}

func (e *Engine) nominalCounts(ctx context.Context, project string, req models.HistogramColumnRequest, filter sqlq.Expr) ([]int, error) {
	byValue := make(map[string]int)
	err := e.db.Query(ctx, "histogram_counts", sqlq.Select{
		Columns: []sqlq.Expr{sqlq.Ident(req.Column.ID), sqlq.Func{Name: sqlq.Count, Args: []sqlq.Expr{sqlq.Star}}},
		From:    project,
		Where:   filter,
		GroupBy: []sqlq.Expr{sqlq.Ident(req.Column.ID)},
	}, func(rows *sql.Rows) error {
		var (
			value any
			n     int
		)
		if err := rows.Scan(&value, &n); err != nil {
			return err
		}
		if value != nil {
			byValue[frame.Key(value)] += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	counts := make([]int, len(req.Buckets))
	for i, b := range req.Buckets {
		counts[i] = byValue[frame.Key(b.Bucket)]
	}
	return counts, nil
}

func (e *Engine) booleanCounts(ctx context.Context, project string, col models.Column, filter sqlq.Expr) ([]int, error) {
	var (
		total int
		trues sql.NullInt64
	)
	err := e.db.QueryRow(ctx, "histogram_counts", sqlq.Select{
		Columns: []sqlq.Expr{
			sqlq.Func{Name: sqlq.Count, Args: []sqlq.Expr{sqlq.Star}},
			sqlq.CountIf(sqlq.Ident(col.ID)),
		},
		From:  project,
		Where: filter,
	}, &total, &trues)
	if err != nil {
		return nil, err
	}
	return []int{int(trues.Int64), total - int(trues.Int64)}, nil
}

func (e *Engine) continuousCounts(ctx context.Context, project string, req models.HistogramColumnRequest, filter sqlq.Expr) ([]int, error) {
	if len(req.Buckets) == 0 {
		return []int{}, nil
	}

	cols := make([]sqlq.Expr, len(req.Buckets))
	for i, b := range req.Buckets {
		lo, hi, err := bounds(b)
		if err != nil {
			return nil, err
		}
		upper := sqlq.Lt
		if i == len(req.Buckets)-1 {
			// the last bucket keeps the maximum
			upper = sqlq.Le
		}
		cols[i] = sqlq.CountIf(sqlq.Logic{
			Left:  sqlq.Cmp{Left: sqlq.Ident(req.Column.ID), Op: sqlq.Ge, Right: sqlq.Param{Value: lo}},
			Op:    sqlq.And,
			Right: sqlq.Cmp{Left: sqlq.Ident(req.Column.ID), Op: upper, Right: sqlq.Param{Value: hi}},
		})
	}

	sums := make([]sql.NullInt64, len(cols))
	dest := make([]any, len(cols))
	for i := range sums {
		dest[i] = &sums[i]
	}
	if err := e.db.QueryRow(ctx, "histogram_counts", sqlq.Select{Columns: cols, From: project, Where: filter}, dest...); err != nil {
		return nil, err
	}

	counts := make([]int, len(sums))
	for i, s := range sums {
		counts[i] = int(s.Int64)
	}
	return counts, nil
}

// Metrics evaluates metric in every bucket of every column. Without a
// model there is nothing to evaluate and every bucket is nil.
func (e *Engine) Metrics(ctx context.Context, project string, reqs []models.HistogramColumnRequest, m *models.Metric, model string, filter sqlq.Expr) ([][]*float64, error) {
	if model == "" {
		out := make([][]*float64, len(reqs))
		for i, req := range reqs {
			out[i] = make([]*float64, len(req.Buckets))
		}
		return out, nil
	}

	return fanOut(ctx, e.parallelism, len(reqs), func(ctx context.Context, i int) ([]*float64, error) {
		req := reqs[i]
		values := make([]*float64, len(req.Buckets))
		for j, b := range req.Buckets {
			member, err := membership(req.Column, b)
			if err != nil {
				return nil, err
			}
			if member == nil {
				continue
			}
			res, err := e.metrics.Evaluate(ctx, m, project, model, sqlq.AndAll(filter, member))
			if err != nil {
				return nil, err
			}
			values[j] = res.Metric
		}
		return values, nil
	})
}

// membership is the predicate selecting the rows of bucket b.
func membership(col models.Column, b models.HistogramBucket) (sqlq.Expr, error) {
	id := sqlq.Ident(col.ID)
	switch col.DataType {
	case models.ValueTypeNominal:
		return sqlq.Cmp{Left: id, Op: sqlq.Eq, Right: sqlq.Param{Value: b.Bucket}}, nil
	case models.ValueTypeBoolean:
		v, ok := b.Bucket.(bool)
		if !ok {
			return nil, errors.Errorf("boolean bucket %v of column %s", b.Bucket, col.Name)
		}
		return sqlq.Cmp{Left: id, Op: sqlq.Is, Right: sqlq.Bool(v)}, nil
	case models.ValueTypeContinuous:
		lo, hi, err := bounds(b)
		if err != nil {
			return nil, err
		}
		return sqlq.Logic{
			Left:  sqlq.Cmp{Left: id, Op: sqlq.Gt, Right: sqlq.Param{Value: lo}},
			Op:    sqlq.And,
			Right: sqlq.Cmp{Left: id, Op: sqlq.Lt, Right: sqlq.Param{Value: hi}},
		}, nil
	default:
		return nil, nil
	}
}

func bounds(b models.HistogramBucket) (float64, float64, error) {
	lo, hi := frame.ToFloat(b.Bucket), frame.ToFloat(b.BucketEnd)
	if lo != lo || hi != hi {
		return 0, 0, errors.Errorf("continuous bucket needs numeric bounds, got [%v, %v)", b.Bucket, b.BucketEnd)
	}
	return lo, hi, nil
}

package metric

import (
	"context"
	"database/sql"

	"github.com/zeno-ml/zeno-hub-sub000/internal/frame"
	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

// Count reports the number of matching rows as both metric and size.
func Count(ctx context.Context, env Env, _ *models.Metric) (models.GroupMetric, error) {
	n, err := RowCount(ctx, env)
	if err != nil {
		return models.GroupMetric{}, err
	}
	return models.GroupMetric{Metric: models.Float(float64(n)), Size: n}, nil
}

// Mean averages the column named by m.Columns[0]. Boolean columns count
// as 0/1.
func Mean(ctx context.Context, env Env, m *models.Metric) (models.GroupMetric, error) {
	if len(m.Columns) == 0 {
		n, err := RowCount(ctx, env)
		return models.GroupMetric{Size: n}, err
	}
	col, err := env.Catalog.Resolve(ctx, env.Project, m.Columns[0], env.Model)
	if err != nil {
		if !absorb(env, err, m.Type) {
			return models.GroupMetric{}, err
		}
		n, err := RowCount(ctx, env)
		return models.GroupMetric{Size: n}, err
	}

	var value sqlq.Expr = sqlq.Ident(col.ID)
	if col.DataType == models.ValueTypeBoolean {
		value = sqlq.CastInteger{Expr: value}
	}

	var (
		avg sql.NullFloat64
		n   int
	)
	err = env.DB.QueryRow(ctx, "mean", sqlq.Select{
		Columns: []sqlq.Expr{
			sqlq.Func{Name: sqlq.Avg, Args: []sqlq.Expr{value}},
			sqlq.Func{Name: sqlq.Count, Args: []sqlq.Expr{sqlq.Star}},
		},
		From:  env.Project,
		Where: env.Filter,
	}, &avg, &n)
	if err != nil {
		return models.GroupMetric{}, err
	}
	if !avg.Valid {
		return models.GroupMetric{Size: n}, nil
	}
	return models.GroupMetric{Metric: models.Float(avg.Float64), Size: n}, nil
}

// outputAndLabel resolves the model's output column and the shared label.
func outputAndLabel(ctx context.Context, env Env) (models.Column, models.Column, error) {
	output, err := env.Catalog.ByKind(ctx, env.Project, models.ColumnKindOutput, env.Model)
	if err != nil {
		return models.Column{}, models.Column{}, err
	}
	label, err := env.Catalog.ByKind(ctx, env.Project, models.ColumnKindLabel, "")
	if err != nil {
		return models.Column{}, models.Column{}, err
	}
	return output, label, nil
}

func correct(output, label models.Column) sqlq.Expr {
	return sqlq.Cmp{Left: sqlq.Ident(output.ID), Op: sqlq.Eq, Right: sqlq.Ident(label.ID)}
}

// Accuracy is the percentage of rows whose output equals the label.
func Accuracy(ctx context.Context, env Env, m *models.Metric) (models.GroupMetric, error) {
	output, label, err := outputAndLabel(ctx, env)
	if err != nil {
		if absorb(env, err, m.Type) {
			return models.GroupMetric{}, nil
		}
		return models.GroupMetric{}, err
	}

	var (
		total int
		hits  sql.NullInt64
	)
	err = env.DB.QueryRow(ctx, "accuracy", sqlq.Select{
		Columns: []sqlq.Expr{
			sqlq.Func{Name: sqlq.Count, Args: []sqlq.Expr{sqlq.Star}},
			sqlq.CountIf(correct(output, label)),
		},
		From:  env.Project,
		Where: env.Filter,
	}, &total, &hits)
	if err != nil {
		return models.GroupMetric{}, err
	}
	if total == 0 {
		return models.GroupMetric{Metric: models.Float(0), Size: 0}, nil
	}
	if !hits.Valid {
		return models.GroupMetric{}, nil
	}
	return models.GroupMetric{Metric: models.Float(100 * float64(hits.Int64) / float64(total)), Size: total}, nil
}

// classCounts holds, per class value, the rows in the class and how many
// of them were predicted correctly.
type classCounts struct {
	order   []string
	total   map[string]int
	correct map[string]int
	size    int
}

// groupCounts groups the filtered rows by the given column.
func groupCounts(ctx context.Context, env Env, op string, by, output, label models.Column) (*classCounts, error) {
	cc := &classCounts{total: map[string]int{}, correct: map[string]int{}}
	err := env.DB.Query(ctx, op, sqlq.Select{
		Columns: []sqlq.Expr{
			sqlq.Ident(by.ID),
			sqlq.Func{Name: sqlq.Count, Args: []sqlq.Expr{sqlq.Star}},
			sqlq.CountIf(correct(output, label)),
		},
		From:    env.Project,
		Where:   env.Filter,
		GroupBy: []sqlq.Expr{sqlq.Ident(by.ID)},
	}, func(rows *sql.Rows) error {
		var (
			key   any
			n     int
			right sql.NullInt64
		)
		if err := rows.Scan(&key, &n, &right); err != nil {
			return err
		}
		cc.size += n
		if key == nil {
			return nil
		}
		k := frame.Key(key)
		if _, seen := cc.total[k]; !seen {
			cc.order = append(cc.order, k)
		}
		cc.total[k] += n
		cc.correct[k] += int(right.Int64)
		return nil
	})
	return cc, err
}

// Recall is macro-averaged over the labels present under the filter:
// per label, correct predictions over rows carrying that label.
func Recall(ctx context.Context, env Env, m *models.Metric) (models.GroupMetric, error) {
	output, label, err := outputAndLabel(ctx, env)
	if err != nil {
		if absorb(env, err, m.Type) {
			return models.GroupMetric{}, nil
		}
		return models.GroupMetric{}, err
	}
	byLabel, err := groupCounts(ctx, env, "recall", label, output, label)
	if err != nil {
		return models.GroupMetric{}, err
	}
	if len(byLabel.order) == 0 {
		return models.GroupMetric{Size: byLabel.size}, nil
	}

	sum := 0.0
	for _, l := range byLabel.order {
		sum += ratio(byLabel.correct[l], byLabel.total[l])
	}
	return models.GroupMetric{Metric: models.Float(100 * sum / float64(len(byLabel.order))), Size: byLabel.size}, nil
}

// Precision is macro-averaged over the labels present under the filter:
// per label, correct predictions over rows predicted as that label.
func Precision(ctx context.Context, env Env, m *models.Metric) (models.GroupMetric, error) {
	output, label, err := outputAndLabel(ctx, env)
	if err != nil {
		if absorb(env, err, m.Type) {
			return models.GroupMetric{}, nil
		}
		return models.GroupMetric{}, err
	}
	byLabel, err := groupCounts(ctx, env, "precision_labels", label, output, label)
	if err != nil {
		return models.GroupMetric{}, err
	}
	if len(byLabel.order) == 0 {
		return models.GroupMetric{Size: byLabel.size}, nil
	}
	byOutput, err := groupCounts(ctx, env, "precision", output, output, label)
	if err != nil {
		return models.GroupMetric{}, err
	}

	sum := 0.0
	for _, l := range byLabel.order {
		sum += ratio(byOutput.correct[l], byOutput.total[l])
	}
	return models.GroupMetric{Metric: models.Float(100 * sum / float64(len(byLabel.order))), Size: byLabel.size}, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// F1 is the harmonic mean of Precision and Recall. It is not computable
// when either is missing or both are zero.
func F1(ctx context.Context, env Env, m *models.Metric) (models.GroupMetric, error) {
	p, err := Precision(ctx, env, m)
	if err != nil {
		return models.GroupMetric{}, err
	}
	r, err := Recall(ctx, env, m)
	if err != nil {
		return models.GroupMetric{}, err
	}
	if p.Metric == nil || r.Metric == nil || (*p.Metric == 0 && *r.Metric == 0) {
		return models.GroupMetric{Size: p.Size}, nil
	}
	f1 := 2 * *p.Metric * *r.Metric / (*p.Metric + *r.Metric)
	return models.GroupMetric{Metric: models.Float(f1), Size: p.Size}, nil
}

// BLEU scores the filtered (output, label) pairs as one corpus.
func BLEU(ctx context.Context, env Env, m *models.Metric) (models.GroupMetric, error) {
	output, label, err := outputAndLabel(ctx, env)
	if err != nil {
		if absorb(env, err, m.Type) {
			return models.GroupMetric{}, nil
		}
		return models.GroupMetric{}, err
	}

	var candidates, references []string
	err = env.DB.Query(ctx, "bleu", sqlq.Select{
		Columns: []sqlq.Expr{sqlq.Ident(output.ID), sqlq.Ident(label.ID)},
		From:    env.Project,
		Where:   env.Filter,
	}, func(rows *sql.Rows) error {
		var out, ref any
		if err := rows.Scan(&out, &ref); err != nil {
			return err
		}
		candidates = append(candidates, textOf(out))
		references = append(references, textOf(ref))
		return nil
	})
	if err != nil {
		return models.GroupMetric{}, err
	}
	if len(candidates) == 0 {
		return models.GroupMetric{}, nil
	}
	return models.GroupMetric{Metric: models.Float(CorpusBLEU(candidates, references)), Size: len(candidates)}, nil
}

func textOf(v any) string {
	if v == nil {
		return ""
	}
	return frame.Key(v)
}

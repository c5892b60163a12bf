// Package slicefinder searches for the data slices on which a model
// performs unusually badly (or well) using the SliceLine lattice search.
package slicefinder

import (
	"context"
	"math"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeno-ml/zeno-hub-sub000/internal/catalog"
	"github.com/zeno-ml/zeno-hub-sub000/internal/filter"
	"github.com/zeno-ml/zeno-hub-sub000/internal/frame"
	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/stats"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
)

// Options are the server-side defaults of a search.
type Options struct {
	TopK         int     `yaml:"top_k"`
	MinSupport   int     `yaml:"min_support"`
	DefaultAlpha float64 `yaml:"default_alpha"`
	MaxLattice   int     `yaml:"default_max_lattice"`
}

func DefaultOptions() Options {
	return Options{TopK: 20, MinSupport: 1, DefaultAlpha: 0.95, MaxLattice: 3}
}

type Finder struct {
	db       *store.DB
	catalog  *catalog.Catalog
	compiler *filter.Compiler
	opts     Options
	logger   log.Logger
}

func New(db *store.DB, cat *catalog.Catalog, compiler *filter.Compiler, opts Options, logger log.Logger) *Finder {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MinSupport <= 0 {
		opts.MinSupport = def.MinSupport
	}
	if opts.DefaultAlpha <= 0 || opts.DefaultAlpha > 1 {
		opts.DefaultAlpha = def.DefaultAlpha
	}
	if opts.MaxLattice <= 0 {
		opts.MaxLattice = def.MaxLattice
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Finder{db: db, catalog: cat, compiler: compiler, opts: opts, logger: log.With(logger, "component", "slicefinder")}
}

// feature is a discretized search column. Continuous columns carry the
// edges of their bins, categorical ones the value of each code.
type feature struct {
	column models.Column
	edges  []float64
	values []any
}

func (f feature) continuous() bool {
	return f.edges != nil
}

// Find runs the search described by req over the rows of project.
// Search columns without a single usable value are left out, then rows
// missing any remaining value are. The returned predicates include the
// request's filter but not its data ids.
func (f *Finder) Find(ctx context.Context, project string, req models.SliceFinderRequest) (models.SliceFinderReturn, error) {
	empty := models.SliceFinderReturn{Slices: []models.Slice{}, Metrics: []float64{}, Sizes: []int{}}

	target, err := f.catalog.Resolve(ctx, project, req.MetricColumn.Name, req.Model)
	if err != nil {
		return empty, errors.Wrap(err, "slice finder target")
	}
	var compare *models.Column
	if req.CompareColumn != nil {
		model := req.CompareColumn.Model
		if model == "" {
			model = req.Model
		}
		c, err := f.catalog.Resolve(ctx, project, req.CompareColumn.Name, model)
		if err != nil {
			return empty, errors.Wrap(err, "slice finder compare column")
		}
		compare = &c
	}
	search := make([]models.Column, 0, len(req.SearchColumns))
	for _, sc := range req.SearchColumns {
		c, err := f.catalog.Resolve(ctx, project, sc.Name, req.Model)
		if err != nil {
			return empty, errors.Wrap(err, "slice finder search column")
		}
		search = append(search, c)
	}
	if len(search) == 0 {
		return empty, nil
	}

	where, err := f.compiler.Where(ctx, project, req.Model, req.FilterPredicates, req.DataIDs)
	if err != nil {
		return empty, err
	}

	headers := []string{}
	seen := map[string]bool{}
	for _, c := range append(append([]models.Column{target}, search...), optional(compare)...) {
		if !seen[c.ID] {
			seen[c.ID] = true
			headers = append(headers, c.ID)
		}
	}
	df, err := frame.Load(ctx, f.db, project, headers, where)
	if err != nil {
		return empty, err
	}

	search = presentColumns(df, search)
	if len(search) == 0 {
		return empty, nil
	}
	df = dropIncomplete(df, append(append([]models.Column{target}, search...), optional(compare)...))

	values := targetValues(df, target, compare)
	keep := make([]int, 0, df.Len())
	for i, v := range values {
		if !math.IsNaN(v) {
			keep = append(keep, i)
		}
	}
	if len(keep) < df.Len() {
		rows := make([][]any, len(keep))
		vs := make([]float64, len(keep))
		for i, r := range keep {
			rows[i], vs[i] = df.Rows[r], values[r]
		}
		df = &frame.DataFrame{Headers: df.Headers, Rows: rows}
		values = vs
	}
	if df.Len() == 0 {
		return empty, nil
	}

	features, x := discretize(df, search)
	errs, scale := normalize(values, req.OrderBy)

	alpha := req.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = f.opts.DefaultAlpha
	}
	maxLattice := req.MaxLattice
	if maxLattice <= 0 {
		maxLattice = f.opts.MaxLattice
	}
	found := SliceLine(x, errs, Params{Alpha: alpha, MaxLevel: maxLattice, MinSupport: f.opts.MinSupport, TopK: f.opts.TopK})

	level.Debug(f.logger).Log("msg", "slice search done", "project", project, "rows", df.Len(),
		"features", len(features), "alpha", alpha, "max_lattice", maxLattice, "found", len(found))
	if len(found) == 0 {
		return empty, nil
	}

	out := models.SliceFinderReturn{
		Slices:        make([]models.Slice, len(found)),
		Metrics:       make([]float64, len(found)),
		Sizes:         make([]int, len(found)),
		OverallMetric: stats.Mean(values),
	}
	for i, s := range found {
		out.Slices[i] = models.Slice{
			ID:               i,
			Name:             uuid.NewString(),
			FilterPredicates: withBase(req.FilterPredicates, predicates(features, s.Items)),
		}
		out.Metrics[i] = scale.rescale(s.ErrSum / float64(s.Size))
		out.Sizes[i] = s.Size
	}
	return out, nil
}

func optional(c *models.Column) []models.Column {
	if c == nil {
		return nil
	}
	return []models.Column{*c}
}

// hasValue reports whether v is usable for col: continuous columns need
// a number.
func hasValue(col models.Column, v any) bool {
	if v == nil {
		return false
	}
	if col.DataType == models.ValueTypeContinuous {
		return !math.IsNaN(frame.ToFloat(v))
	}
	if f, ok := v.(float64); ok {
		return !math.IsNaN(f)
	}
	return true
}

// presentColumns keeps the search columns with at least one value.
func presentColumns(df *frame.DataFrame, search []models.Column) []models.Column {
	out := make([]models.Column, 0, len(search))
	for _, col := range search {
		idx := df.ColumnIndex(col.ID)
		for _, row := range df.Rows {
			if hasValue(col, row[idx]) {
				out = append(out, col)
				break
			}
		}
	}
	return out
}

// dropIncomplete keeps the rows with a value in every column of cols.
func dropIncomplete(df *frame.DataFrame, cols []models.Column) *frame.DataFrame {
	idxs := make([]int, len(cols))
	for i, col := range cols {
		idxs[i] = df.ColumnIndex(col.ID)
	}
	return df.KeepRows(func(row []any) bool {
		for i, col := range cols {
			if !hasValue(col, row[idxs[i]]) {
				return false
			}
		}
		return true
	})
}

// withBase ANDs the request filter in front of a slice's predicates.
func withBase(base *models.FilterPredicateGroup, slice models.FilterPredicateGroup) models.FilterPredicateGroup {
	if base.Empty() {
		return slice
	}
	return *models.And(base, &slice)
}

// targetValues is the metric column as numbers, or its pointwise diff
// against compare: a difference for continuous metrics, 1 where the
// values disagree otherwise.
func targetValues(df *frame.DataFrame, target models.Column, compare *models.Column) []float64 {
	t := df.ColumnIndex(target.ID)
	if compare == nil {
		return df.Floats(t)
	}
	c := df.ColumnIndex(compare.ID)
	out := make([]float64, df.Len())
	if target.DataType == models.ValueTypeContinuous {
		a, b := df.Floats(t), df.Floats(c)
		for i := range out {
			out[i] = a[i] - b[i]
		}
		return out
	}
	a, b := df.Strings(t), df.Strings(c)
	for i := range out {
		if a[i] != b[i] {
			out[i] = 1
		}
	}
	return out
}

// discretize codes every search column. Continuous columns are cut into
// bins whose outer edges are widened by one so every value is covered.
func discretize(df *frame.DataFrame, search []models.Column) ([]feature, [][]int) {
	features := make([]feature, len(search))
	x := make([][]int, df.Len())
	for i := range x {
		x[i] = make([]int, len(search))
	}

	for j, col := range search {
		idx := df.ColumnIndex(col.ID)
		features[j].column = col
		if col.DataType == models.ValueTypeContinuous {
			vs := df.Floats(idx)
			edges := stats.BinEdges(vs, 0)
			edges[0]--
			edges[len(edges)-1]++
			features[j].edges = edges
			for i, v := range vs {
				x[i][j] = stats.Cut(v, edges)
			}
			continue
		}

		codes := map[string]int{}
		for i, row := range df.Rows {
			k := frame.Key(row[idx])
			code, ok := codes[k]
			if !ok {
				code = len(features[j].values)
				codes[k] = code
				features[j].values = append(features[j].values, row[idx])
			}
			x[i][j] = code
		}
	}
	return features, x
}

// scaling undoes normalize on an average.
type scaling struct {
	invert bool
	offset float64
}

func (s scaling) rescale(v float64) float64 {
	if s.invert {
		return s.offset - v
	}
	return v + s.offset
}

// normalize turns the target into non-negative errors where larger is
// more interesting: ascending order subtracts every value from the
// maximum; descending order shifts negative values up by the minimum.
func normalize(values []float64, order string) ([]float64, scaling) {
	lo, hi := stats.MinMax(values)
	out := make([]float64, len(values))
	if order == models.OrderAscending {
		for i, v := range values {
			out[i] = hi - v
		}
		return out, scaling{invert: true, offset: hi}
	}
	var shift float64
	if lo < 0 {
		shift = lo
	}
	for i, v := range values {
		out[i] = v - shift
	}
	return out, scaling{offset: shift}
}

// predicates turns a slice's constraints into a filter: equality for
// categorical values, a [lower, upper) group for continuous bins, all
// joined with AND.
func predicates(features []feature, items []Item) models.FilterPredicateGroup {
	group := models.FilterPredicateGroup{Predicates: make([]models.FilterNode, 0, len(items))}
	for i, it := range items {
		join := models.JoinAnd
		if i == 0 {
			join = models.JoinNone
		}
		f := features[it.Feature]
		if !f.continuous() {
			group.Predicates = append(group.Predicates, models.FilterPredicate{
				Column:    f.column,
				Operation: models.OpEqual,
				Value:     f.values[it.Code],
				Join:      join,
			})
			continue
		}
		group.Predicates = append(group.Predicates, &models.FilterPredicateGroup{
			Join: join,
			Predicates: []models.FilterNode{
				models.FilterPredicate{Column: f.column, Operation: models.OpGreaterEqual, Value: f.edges[it.Code]},
				models.FilterPredicate{Column: f.column, Operation: models.OpLess, Value: f.edges[it.Code+1], Join: models.JoinAnd},
			},
		})
	}
	return group
}

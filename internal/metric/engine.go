// Package metric computes aggregate metrics over filtered project rows.
package metric

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/zeno-ml/zeno-hub-sub000/internal/catalog"
	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

// Env is everything a metric function reads. Filter nil means all rows.
type Env struct {
	DB      *store.DB
	Catalog *catalog.Catalog
	Project string
	Model   string
	Filter  sqlq.Expr
	Logger  log.Logger
}

// Func computes one metric type. Implementations absorb column resolution
// failures into the result and return store failures.
type Func func(ctx context.Context, env Env, m *models.Metric) (models.GroupMetric, error)

// Registry maps metric types to their functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[models.MetricType]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[models.MetricType]Func)}
}

// DefaultRegistry holds every built-in metric.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(models.MetricCount, Count)
	r.Register(models.MetricMean, Mean)
	r.Register(models.MetricAccuracy, Accuracy)
	r.Register(models.MetricPrecision, Precision)
	r.Register(models.MetricRecall, Recall)
	r.Register(models.MetricF1, F1)
	r.Register(models.MetricBLEU, BLEU)
	return r
}

// Register adds or replaces the function of a metric type.
func (r *Registry) Register(t models.MetricType, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[t] = fn
}

func (r *Registry) Lookup(t models.MetricType) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[t]
	return fn, ok
}

// Engine dispatches metric evaluation through a Registry.
type Engine struct {
	db       *store.DB
	catalog  *catalog.Catalog
	registry *Registry
	logger   log.Logger
}

func NewEngine(db *store.DB, cat *catalog.Catalog, registry *Registry, logger log.Logger) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{db: db, catalog: cat, registry: registry, logger: log.With(logger, "component", "metric")}
}

// DB returns the store the engine queries.
func (e *Engine) DB() *store.DB { return e.db }

// WithDB returns a copy of the engine that queries db instead, used to
// pin a batch of evaluations to one connection.
func (e *Engine) WithDB(db *store.DB) *Engine {
	cp := *e
	cp.db = db
	return &cp
}

// Evaluate computes metric over the rows matching filter. A nil metric
// only counts rows; unknown metric types are counted as well.
func (e *Engine) Evaluate(ctx context.Context, metric *models.Metric, project, model string, filter sqlq.Expr) (models.GroupMetric, error) {
	env := Env{
		DB:      e.db,
		Catalog: e.catalog,
		Project: project,
		Model:   model,
		Filter:  filter,
		Logger:  e.logger,
	}
	if metric == nil {
		n, err := RowCount(ctx, env)
		if err != nil {
			return models.GroupMetric{}, err
		}
		return models.GroupMetric{Size: n}, nil
	}

	fn, ok := e.registry.Lookup(metric.Type)
	if !ok {
		level.Debug(e.logger).Log("msg", "unknown metric type, counting rows", "type", metric.Type)
		fn = Count
	}
	return fn(ctx, env, metric)
}

// RowCount counts the rows matching the env filter.
func RowCount(ctx context.Context, env Env) (int, error) {
	var n int
	err := env.DB.QueryRow(ctx, "count", sqlq.Select{
		Columns: []sqlq.Expr{sqlq.Func{Name: sqlq.Count, Args: []sqlq.Expr{sqlq.Star}}},
		From:    env.Project,
		Where:   env.Filter,
	}, &n)
	return n, err
}

func absorb(env Env, err error, metric models.MetricType) bool {
	if !catalog.IsResolution(err) {
		return false
	}
	if env.Logger != nil {
		level.Warn(env.Logger).Log("msg", "metric not computable", "metric", metric, "project", env.Project, "model", env.Model, "err", err)
	}
	return true
}

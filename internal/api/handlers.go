package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/zeno-ml/zeno-hub-sub000/internal/catalog"
	"github.com/zeno-ml/zeno-hub-sub000/internal/chart"
	"github.com/zeno-ml/zeno-hub-sub000/internal/filter"
	"github.com/zeno-ml/zeno-hub-sub000/internal/histogram"
	"github.com/zeno-ml/zeno-hub-sub000/internal/metric"
	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/slicefinder"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

const (
	// PreviewLimit caps the rows returned by /filter
	PreviewLimit = 100
	MaxBodySize  = 10 * 1024 * 1024 // 10MB
)

type Handler struct {
	DB          *store.DB
	Catalog     *catalog.Catalog
	Compiler    *filter.Compiler
	Metrics     *metric.Engine
	Histograms  *histogram.Engine
	Charts      *chart.Assembler
	SliceFinder *slicefinder.Finder
	Logger      log.Logger
}

func NewHandler(db *store.DB, cat *catalog.Catalog, compiler *filter.Compiler, metrics *metric.Engine,
	histograms *histogram.Engine, charts *chart.Assembler, finder *slicefinder.Finder, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{
		DB:          db,
		Catalog:     cat,
		Compiler:    compiler,
		Metrics:     metrics,
		Histograms:  histograms,
		Charts:      charts,
		SliceFinder: finder,
		Logger:      log.With(logger, "component", "api"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HealthCheck)

	r.Route("/api/{project}", func(r chi.Router) {
		r.Use(h.projectCtx)

		r.Get("/columns", h.GetColumns)
		r.Post("/filter", h.FilterData)
		r.Post("/filter/sql", h.CompileFilter)
		r.Post("/metric", h.GetMetric)
		r.Post("/histograms/buckets", h.GetHistogramBuckets)
		r.Post("/histograms/counts", h.GetHistogramCounts)
		r.Post("/histograms/metrics", h.GetHistogramMetrics)
		r.Post("/chart-data", h.GetChartData)
		r.Post("/slice-finder", h.RunSliceFinder)
	})
}

// ============================================================================
// Helpers
// ============================================================================

type projectKey struct{}

// projectCtx validates the {project} URL parameter before any handler
// turns it into a table name.
func (h *Handler) projectCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := chi.URLParam(r, "project")
		if err := store.ValidateProject(project); err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), projectKey{}, project)))
	})
}

func projectFrom(r *http.Request) string {
	project, _ := r.Context().Value(projectKey{}).(string)
	return project
}

var errBadBody = errors.New("invalid JSON body")

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(errBadBody, err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusOf maps an engine error onto an HTTP status: bad input is 400,
// an unresolvable column 404, a transient store failure 503.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, errBadBody), errors.Is(err, store.ErrInvalidProject), filter.IsMalformed(err):
		return http.StatusBadRequest
	case catalog.IsResolution(err):
		return http.StatusNotFound
	case store.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		level.Error(h.Logger).Log("msg", "request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		level.Debug(h.Logger).Log("msg", "request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error(), Retryable: status == http.StatusServiceUnavailable})
}

// ============================================================================
// Health & catalog
// ============================================================================

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

// GetColumns lists the project's column catalog
func (h *Handler) GetColumns(w http.ResponseWriter, r *http.Request) {
	cols, err := h.Catalog.Columns(r.Context(), projectFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cols == nil {
		cols = []models.Column{}
	}
	writeJSON(w, http.StatusOK, cols)
}

// ============================================================================
// Filtering
// ============================================================================

// FilterData returns the number of rows matching the filter and a preview
// of the first rows.
func (h *Handler) FilterData(w http.ResponseWriter, r *http.Request) {
	var req models.FilterRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, project := r.Context(), projectFrom(r)

	where, err := h.Compiler.Where(ctx, project, req.Model, req.FilterPredicates, req.DataIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	count, err := h.Metrics.Evaluate(ctx, nil, project, req.Model, where)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	limit := req.Limit
	if limit <= 0 || limit > PreviewLimit {
		limit = PreviewLimit
	}
	data, err := h.DB.QueryMaps(ctx, "filter_preview", sqlq.Select{From: project, Where: where, Limit: limit})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if data == nil {
		data = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, models.FilterResponse{Rows: count.Size, Data: data})
}

// CompileFilter shows the query a filter compiles to
func (h *Handler) CompileFilter(w http.ResponseWriter, r *http.Request) {
	var req models.FilterRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	project := projectFrom(r)

	where, err := h.Compiler.Where(r.Context(), project, req.Model, req.FilterPredicates, req.DataIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	query, args := sqlq.Select{From: project, Where: where}.Build(h.DB.Dialect())
	if args == nil {
		args = []any{}
	}
	writeJSON(w, http.StatusOK, models.CompiledFilterResponse{SQL: query, Args: args})
}

// ============================================================================
// Metrics & histograms
// ============================================================================

func (h *Handler) GetMetric(w http.ResponseWriter, r *http.Request) {
	var req models.MetricRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, project := r.Context(), projectFrom(r)

	where, err := h.Compiler.Where(ctx, project, req.Model, req.FilterPredicates, req.DataIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Metrics.Evaluate(ctx, req.Metric, project, req.Model, where)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// columnsByID replaces request columns by their catalog entries so the
// engines bin by the stored value type.
func (h *Handler) columnsByID(ctx context.Context, project string, cols []models.Column) ([]models.Column, error) {
	out := make([]models.Column, len(cols))
	for i, c := range cols {
		resolved, err := h.Catalog.ByID(ctx, project, c.ID)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

func (h *Handler) GetHistogramBuckets(w http.ResponseWriter, r *http.Request) {
	var req models.HistogramBucketsRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, project := r.Context(), projectFrom(r)

	cols, err := h.columnsByID(ctx, project, req.Columns)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	buckets, err := h.Histograms.Buckets(ctx, project, cols, req.Bins)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

// histogramRequest decodes a counts/metrics body and compiles its filter.
func (h *Handler) histogramRequest(w http.ResponseWriter, r *http.Request) (models.HistogramRequest, sqlq.Expr, error) {
	var req models.HistogramRequest
	if err := decode(w, r, &req); err != nil {
		return req, nil, err
	}
	ctx, project := r.Context(), projectFrom(r)

	cols := make([]models.Column, len(req.ColumnRequests))
	for i, cr := range req.ColumnRequests {
		cols[i] = cr.Column
	}
	resolved, err := h.columnsByID(ctx, project, cols)
	if err != nil {
		return req, nil, err
	}
	for i := range req.ColumnRequests {
		req.ColumnRequests[i].Column = resolved[i]
	}

	where, err := h.Compiler.Where(ctx, project, req.Model, req.FilterPredicates, req.DataIDs)
	return req, where, err
}

func (h *Handler) GetHistogramCounts(w http.ResponseWriter, r *http.Request) {
	req, where, err := h.histogramRequest(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	counts, err := h.Histograms.Counts(r.Context(), projectFrom(r), req.ColumnRequests, where)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) GetHistogramMetrics(w http.ResponseWriter, r *http.Request) {
	req, where, err := h.histogramRequest(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	values, err := h.Histograms.Metrics(r.Context(), projectFrom(r), req.ColumnRequests, req.Metric, req.Model, where)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// ============================================================================
// Charts & slice finder
// ============================================================================

func (h *Handler) GetChartData(w http.ResponseWriter, r *http.Request) {
	var req models.ChartDataRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.Charts.Data(r.Context(), projectFrom(r), req.Chart, req.Slices, req.Metrics)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) RunSliceFinder(w http.ResponseWriter, r *http.Request) {
	var req models.SliceFinderRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.SliceFinder.Find(r.Context(), projectFrom(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

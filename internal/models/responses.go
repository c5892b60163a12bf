package models

// FilterRequest for /filter and /filter/sql
type FilterRequest struct {
	Model            string                `json:"model,omitempty"`
	FilterPredicates *FilterPredicateGroup `json:"filter_predicates"`
	DataIDs          []string              `json:"data_ids,omitempty"`
	Limit            int                   `json:"limit,omitempty"`
}

// FilterResponse for /filter endpoint
type FilterResponse struct {
	Rows int              `json:"rows"`
	Data []map[string]any `json:"data"`
}

// CompiledFilterResponse for /filter/sql
type CompiledFilterResponse struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

// MetricRequest for /metric
type MetricRequest struct {
	Metric           *Metric               `json:"metric"`
	Model            string                `json:"model,omitempty"`
	FilterPredicates *FilterPredicateGroup `json:"filter_predicates"`
	DataIDs          []string              `json:"data_ids,omitempty"`
}

// HistogramBucketsRequest for /histograms/buckets
type HistogramBucketsRequest struct {
	Columns []Column `json:"columns"`
	Bins    int      `json:"bins,omitempty"`
}

// HistogramColumnRequest pairs a column with the buckets computed for it.
type HistogramColumnRequest struct {
	Column  Column            `json:"column"`
	Buckets []HistogramBucket `json:"buckets"`
}

// HistogramRequest for /histograms/counts and /histograms/metrics
type HistogramRequest struct {
	ColumnRequests   []HistogramColumnRequest `json:"column_requests"`
	FilterPredicates *FilterPredicateGroup    `json:"filter_predicates"`
	DataIDs          []string                 `json:"data_ids,omitempty"`
	Metric           *Metric                  `json:"metric,omitempty"`
	Model            string                   `json:"model,omitempty"`
}

// ChartDataRequest for /chart-data. Slices and Metrics are the project
// objects the chart parameters refer to by id.
type ChartDataRequest struct {
	Chart   Chart    `json:"chart"`
	Slices  []Slice  `json:"slices"`
	Metrics []Metric `json:"metrics"`
}

// Slice finder sort orders
const (
	OrderAscending  = "ascending"
	OrderDescending = "descending"
)

// SliceFinderRequest for /slice-finder
type SliceFinderRequest struct {
	MetricColumn     Column                `json:"metric_column"`
	CompareColumn    *Column               `json:"compare_column,omitempty"`
	SearchColumns    []Column              `json:"search_columns"`
	OrderBy          string                `json:"order_by"`
	Alpha            float64               `json:"alpha"`
	MaxLattice       int                   `json:"max_lattice"`
	Model            string                `json:"model,omitempty"`
	FilterPredicates *FilterPredicateGroup `json:"filter_predicates"`
	DataIDs          []string              `json:"data_ids,omitempty"`
}

// SliceFinderReturn holds the discovered slices with their metric and size
// at the same index.
type SliceFinderReturn struct {
	Slices        []Slice   `json:"slices"`
	Metrics       []float64 `json:"metrics"`
	Sizes         []int     `json:"sizes"`
	OverallMetric float64   `json:"overall_metric"`
}

// ErrorResponse is written by the API on failure
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

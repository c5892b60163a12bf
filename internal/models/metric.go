package models

// MetricType selects the aggregation algorithm of a metric
type MetricType string

const (
	MetricCount     MetricType = "count"
	MetricMean      MetricType = "mean"
	MetricAccuracy  MetricType = "accuracy"
	MetricPrecision MetricType = "precision"
	MetricRecall    MetricType = "recall"
	MetricF1        MetricType = "f1"
	MetricBLEU      MetricType = "bleu"
)

// Metric is a named aggregate. Columns[0] names the averaged column of
// a mean metric.
type Metric struct {
	ID      int        `json:"id"`
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Columns []string   `json:"columns"`
}

// GroupMetric is a metric computed over a filtered subset. A nil Metric
// means the value could not be computed, which is different from 0.
type GroupMetric struct {
	Metric *float64 `json:"metric"`
	Size   int      `json:"size"`
}

// Float returns a pointer to v, for building GroupMetric values.
func Float(v float64) *float64 {
	return &v
}

// HistogramBucket is one histogram bin. Nominal and boolean buckets only
// carry Bucket; continuous buckets are the half-open [Bucket, BucketEnd).
type HistogramBucket struct {
	Bucket    any `json:"bucket"`
	BucketEnd any `json:"bucket_end"`
}

// Slice is a named, saved filter.
type Slice struct {
	ID               int                  `json:"id"`
	Name             string               `json:"slice_name"`
	FolderID         *int                 `json:"folder_id"`
	FilterPredicates FilterPredicateGroup `json:"filter_predicates"`
}

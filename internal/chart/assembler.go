// Package chart assembles plot-ready tuples for saved charts.
package chart

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cast"

	"github.com/zeno-ml/zeno-hub-sub000/internal/catalog"
	"github.com/zeno-ml/zeno-hub-sub000/internal/filter"
	"github.com/zeno-ml/zeno-hub-sub000/internal/metric"
	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

// AllInstances is the slice id that stands for the whole project.
const AllInstances = -1

// Assembler evaluates every cell of a chart, in the order the chart
// declares its dimensions.
type Assembler struct {
	db       *store.DB
	catalog  *catalog.Catalog
	compiler *filter.Compiler
	metrics  *metric.Engine
	logger   log.Logger
}

func NewAssembler(db *store.DB, cat *catalog.Catalog, compiler *filter.Compiler, metrics *metric.Engine, logger log.Logger) *Assembler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Assembler{db: db, catalog: cat, compiler: compiler, metrics: metrics, logger: log.With(logger, "component", "chart")}
}

// batch is the per-request state of one assembly.
type batch struct {
	ctx      context.Context
	project  string
	compiler *filter.Compiler
	metrics  *metric.Engine
	slices   map[int]*models.Slice
	defs     map[int]*models.Metric
	compiled map[string]sqlq.Expr
}

// Data returns the tuples of chart. slices and metrics are the project
// objects the chart parameters refer to by id. A chart whose parameters
// do not fit its type has no data.
func (a *Assembler) Data(ctx context.Context, project string, chart models.Chart, slices []models.Slice, metrics []models.Metric) ([]models.ChartDatum, error) {
	out := []models.ChartDatum{}
	if !fits(chart) {
		level.Debug(a.logger).Log("msg", "chart parameters do not match type", "chart", chart.ID, "type", chart.Type)
		return out, nil
	}

	b := &batch{
		project:  project,
		compiler: a.compiler,
		slices:   make(map[int]*models.Slice, len(slices)),
		defs:     make(map[int]*models.Metric, len(metrics)),
		compiled: map[string]sqlq.Expr{},
	}
	for i := range slices {
		b.slices[slices[i].ID] = &slices[i]
	}
	for i := range metrics {
		b.defs[metrics[i].ID] = &metrics[i]
	}

	// load the column map before pinning a connection; catalog reads use
	// the pool
	if _, err := a.catalog.Columns(ctx, project); err != nil {
		return nil, err
	}

	err := a.db.WithConn(ctx, func(conn *store.DB) error {
		b.ctx = ctx
		b.metrics = a.metrics.WithDB(conn)

		var err error
		switch p := chart.Parameters.(type) {
		case models.XCParameters:
			out, err = b.xc(p)
		case models.TableParameters:
			out, err = b.table(p.Metrics, p.Slices, p.Models, func(d *models.ChartDatum, dims map[models.Channel]any) {
				d.X, d.Y, d.Fixed = dims[p.XChannel], dims[p.YChannel], dims[p.FixedChannel]
			})
		case models.BeeswarmParameters:
			out, err = b.table(p.Metrics, p.Slices, p.Models, func(d *models.ChartDatum, dims map[models.Channel]any) {
				d.Y, d.Color, d.Fixed = dims[p.YChannel], dims[p.ColorChannel], dims[p.FixedChannel]
			})
		case models.RadarParameters:
			out, err = b.table(p.Metrics, p.Slices, p.Models, func(d *models.ChartDatum, dims map[models.Channel]any) {
				d.Axis, d.Layer, d.Fixed = dims[p.AxisChannel], dims[p.LayerChannel], dims[p.FixedChannel]
			})
		case models.HeatmapParameters:
			out, err = b.heatmap(p)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func fits(chart models.Chart) bool {
	switch chart.Parameters.(type) {
	case models.XCParameters:
		return chart.Type == models.ChartBar || chart.Type == models.ChartLine
	case models.TableParameters:
		return chart.Type == models.ChartTable
	case models.BeeswarmParameters:
		return chart.Type == models.ChartBeeswarm
	case models.RadarParameters:
		return chart.Type == models.ChartRadar
	case models.HeatmapParameters:
		return chart.Type == models.ChartHeatmap
	default:
		return false
	}
}

func (b *batch) xc(p models.XCParameters) ([]models.ChartDatum, error) {
	out := make([]models.ChartDatum, 0, len(p.Slices)*len(p.Models))
	m := b.defs[p.Metric]
	for _, sliceID := range p.Slices {
		for _, model := range p.Models {
			res, err := b.evaluate(sliceID, model, m)
			if err != nil {
				return nil, err
			}
			dims := map[models.Channel]any{models.ChannelSlices: sliceID, models.ChannelModels: model}
			out = append(out, models.ChartDatum{
				X:      dims[p.XChannel],
				Color:  dims[p.ColorChannel],
				Metric: res.Metric,
				Size:   res.Size,
			})
		}
	}
	return out, nil
}

// table walks metrics x slices x models; assign maps the three
// dimensions onto the datum's channels.
func (b *batch) table(metricIDs, sliceIDs []int, modelNames []string, assign func(*models.ChartDatum, map[models.Channel]any)) ([]models.ChartDatum, error) {
	out := make([]models.ChartDatum, 0, len(metricIDs)*len(sliceIDs)*len(modelNames))
	for _, metricID := range metricIDs {
		m := b.defs[metricID]
		for _, sliceID := range sliceIDs {
			for _, model := range modelNames {
				res, err := b.evaluate(sliceID, model, m)
				if err != nil {
					return nil, err
				}
				d := models.ChartDatum{Metric: res.Metric, Size: res.Size}
				assign(&d, map[models.Channel]any{
					models.ChannelMetrics: metricID,
					models.ChannelSlices:  sliceID,
					models.ChannelModels:  model,
				})
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (b *batch) heatmap(p models.HeatmapParameters) ([]models.ChartDatum, error) {
	m := b.defs[p.Metric]
	out := make([]models.ChartDatum, 0, len(p.XValues.Values)*len(p.YValues.Values))
	for _, xv := range p.XValues.Values {
		xg, err := b.axisGroup(p.XValues, xv)
		if err != nil {
			return nil, err
		}
		for _, yv := range p.YValues.Values {
			yg, err := b.axisGroup(p.YValues, yv)
			if err != nil {
				return nil, err
			}
			where, err := b.compiler.Compile(b.ctx, models.And(xg, yg), b.project, p.Model)
			if err != nil {
				return nil, err
			}
			res, err := b.metrics.Evaluate(b.ctx, m, b.project, p.Model, where)
			if err != nil {
				return nil, err
			}
			out = append(out, models.ChartDatum{X: xv, Y: yv, Metric: res.Metric, Size: res.Size})
		}
	}
	return out, nil
}

// axisGroup is the filter selecting one heatmap axis value: the slice's
// predicates on a slice axis, column == value otherwise.
func (b *batch) axisGroup(axis models.HeatmapAxis, v any) (*models.FilterPredicateGroup, error) {
	if axis.Channel == models.ChannelSlices {
		id, err := cast.ToIntE(v)
		if err != nil {
			return nil, &filter.MalformedFilterError{Reason: fmt.Sprintf("slice axis value %v is not a slice id", v)}
		}
		return b.sliceGroup(id)
	}
	if axis.Column == nil {
		return nil, &filter.MalformedFilterError{Reason: "value axis without a column"}
	}
	return &models.FilterPredicateGroup{Predicates: []models.FilterNode{
		models.FilterPredicate{Column: *axis.Column, Operation: models.OpEqual, Value: v},
	}}, nil
}

func (b *batch) sliceGroup(id int) (*models.FilterPredicateGroup, error) {
	if id == AllInstances {
		return nil, nil
	}
	s, ok := b.slices[id]
	if !ok {
		return nil, &filter.MalformedFilterError{Reason: fmt.Sprintf("unknown slice %d", id)}
	}
	return &s.FilterPredicates, nil
}

// evaluate computes m on one slice for one model. Each slice filter is
// compiled once per model.
func (b *batch) evaluate(sliceID int, model string, m *models.Metric) (models.GroupMetric, error) {
	key := fmt.Sprintf("%d/%s", sliceID, model)
	where, ok := b.compiled[key]
	if !ok {
		group, err := b.sliceGroup(sliceID)
		if err != nil {
			return models.GroupMetric{}, err
		}
		if where, err = b.compiler.Compile(b.ctx, group, b.project, model); err != nil {
			return models.GroupMetric{}, err
		}
		b.compiled[key] = where
	}
	return b.metrics.Evaluate(b.ctx, m, b.project, model, where)
}

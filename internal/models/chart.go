package models

import (
	"encoding/json"
)

// ChartType is the visual form of a chart
type ChartType string

const (
	ChartBar      ChartType = "bar"
	ChartLine     ChartType = "line"
	ChartTable    ChartType = "table"
	ChartBeeswarm ChartType = "beeswarm"
	ChartRadar    ChartType = "radar"
	ChartHeatmap  ChartType = "heatmap"
)

// Channel names the dimension mapped onto a visual channel.
type Channel string

const (
	ChannelSlices  Channel = "slices"
	ChannelModels  Channel = "models"
	ChannelMetrics Channel = "metrics"
	ChannelValues  Channel = "values"
)

// ParametersKind discriminates the ChartParameters variants on the wire.
type ParametersKind string

const (
	ParamsXC       ParametersKind = "xc"
	ParamsTable    ParametersKind = "table"
	ParamsBeeswarm ParametersKind = "beeswarm"
	ParamsRadar    ParametersKind = "radar"
	ParamsHeatmap  ParametersKind = "heatmap"
)

// ChartParameters is implemented by every parameter variant.
type ChartParameters interface {
	ParametersKind() ParametersKind
}

// XCParameters drive two-channel charts (bar, line): one metric,
// slices x models spread over the x and color channels.
type XCParameters struct {
	Slices       []int    `json:"slices"`
	Models       []string `json:"models"`
	Metric       int      `json:"metric"`
	XChannel     Channel  `json:"x_channel"`
	ColorChannel Channel  `json:"color_channel"`
	YChannel     Channel  `json:"y_channel"`
}

func (XCParameters) ParametersKind() ParametersKind { return ParamsXC }

// TableParameters lay metrics x slices x models out as rows, columns and
// a fixed dimension.
type TableParameters struct {
	Metrics      []int    `json:"metrics"`
	Slices       []int    `json:"slices"`
	Models       []string `json:"models"`
	XChannel     Channel  `json:"x_channel"`
	YChannel     Channel  `json:"y_channel"`
	FixedChannel Channel  `json:"fixed_channel"`
}

func (TableParameters) ParametersKind() ParametersKind { return ParamsTable }

type BeeswarmParameters struct {
	Metrics      []int    `json:"metrics"`
	Slices       []int    `json:"slices"`
	Models       []string `json:"models"`
	YChannel     Channel  `json:"y_channel"`
	ColorChannel Channel  `json:"color_channel"`
	FixedChannel Channel  `json:"fixed_channel"`
}

func (BeeswarmParameters) ParametersKind() ParametersKind { return ParamsBeeswarm }

type RadarParameters struct {
	Metrics      []int    `json:"metrics"`
	Slices       []int    `json:"slices"`
	Models       []string `json:"models"`
	AxisChannel  Channel  `json:"axis_channel"`
	LayerChannel Channel  `json:"layer_channel"`
	FixedChannel Channel  `json:"fixed_channel"`
}

func (RadarParameters) ParametersKind() ParametersKind { return ParamsRadar }

// HeatmapAxis lists the values of one heatmap axis. Slice axes list slice
// ids; value axes list raw scalars of Column.
type HeatmapAxis struct {
	Channel Channel `json:"channel"`
	Column  *Column `json:"column,omitempty"`
	Values  []any   `json:"values"`
}

type HeatmapParameters struct {
	XValues HeatmapAxis `json:"x_values"`
	YValues HeatmapAxis `json:"y_values"`
	Model   string      `json:"model"`
	Metric  int         `json:"metric"`
}

func (HeatmapParameters) ParametersKind() ParametersKind { return ParamsHeatmap }

// Chart is a saved chart definition. Parameters is nil when the wire payload
// named an unknown parameter kind.
type Chart struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	Type       ChartType       `json:"type"`
	Parameters ChartParameters `json:"parameters"`
}

func (c *Chart) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         int             `json:"id"`
		Name       string          `json:"name"`
		Type       ChartType       `json:"type"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID, c.Name, c.Type = raw.ID, raw.Name, raw.Type
	c.Parameters = nil
	if len(raw.Parameters) == 0 {
		return nil
	}

	var probe struct {
		Kind ParametersKind `json:"kind"`
	}
	if err := json.Unmarshal(raw.Parameters, &probe); err != nil {
		return err
	}

	var params ChartParameters
	switch probe.Kind {
	case ParamsXC:
		p := XCParameters{}
		if err := json.Unmarshal(raw.Parameters, &p); err != nil {
			return err
		}
		params = p
	case ParamsTable:
		p := TableParameters{}
		if err := json.Unmarshal(raw.Parameters, &p); err != nil {
			return err
		}
		params = p
	case ParamsBeeswarm:
		p := BeeswarmParameters{}
		if err := json.Unmarshal(raw.Parameters, &p); err != nil {
			return err
		}
		params = p
	case ParamsRadar:
		p := RadarParameters{}
		if err := json.Unmarshal(raw.Parameters, &p); err != nil {
			return err
		}
		params = p
	case ParamsHeatmap:
		p := HeatmapParameters{}
		if err := json.Unmarshal(raw.Parameters, &p); err != nil {
			return err
		}
		params = p
	}
	c.Parameters = params
	return nil
}

func (c Chart) MarshalJSON() ([]byte, error) {
	var params json.RawMessage
	if c.Parameters != nil {
		body, err := json.Marshal(c.Parameters)
		if err != nil {
			return nil, err
		}
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		fields["kind"] = c.Parameters.ParametersKind()
		if params, err = json.Marshal(fields); err != nil {
			return nil, err
		}
	}
	return json.Marshal(struct {
		ID         int             `json:"id"`
		Name       string          `json:"name"`
		Type       ChartType       `json:"type"`
		Parameters json.RawMessage `json:"parameters,omitempty"`
	}{c.ID, c.Name, c.Type, params})
}

// ChartDatum is one flat, plot-ready tuple. Channel fields hold a slice
// id, a model name, a metric id or a raw axis value.
type ChartDatum struct {
	X      any      `json:"x,omitempty"`
	Y      any      `json:"y,omitempty"`
	Color  any      `json:"color,omitempty"`
	Axis   any      `json:"axis,omitempty"`
	Layer  any      `json:"layer,omitempty"`
	Fixed  any      `json:"fixed,omitempty"`
	Metric *float64 `json:"metric"`
	Size   int      `json:"size"`
}

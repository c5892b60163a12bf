package models

// ColumnKind describes what produced a column.
type ColumnKind string

const (
	ColumnKindID        ColumnKind = "id"
	ColumnKindData      ColumnKind = "data"
	ColumnKindLabel     ColumnKind = "label"
	ColumnKindOutput    ColumnKind = "output"
	ColumnKindFeature   ColumnKind = "feature"
	ColumnKindEmbedding ColumnKind = "embedding"
)

// ValueType is the declared type of the values stored in a column
type ValueType string

const (
	ValueTypeNominal    ValueType = "nominal"
	ValueTypeContinuous ValueType = "continuous"
	ValueTypeBoolean    ValueType = "boolean"
	ValueTypeDatetime   ValueType = "datetime"
	ValueTypeOther      ValueType = "other"
)

// Column is a logical column of a project table. ID is the physical
// column name; (Name, Model) is the logical identity. An empty Model
// marks a shared column (data id, label) visible to every model.
type Column struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Kind     ColumnKind `json:"column_type"`
	DataType ValueType  `json:"data_type"`
	Model    string     `json:"model,omitempty"`
}

// Shared reports whether the column belongs to no model.
func (c Column) Shared() bool {
	return c.Model == ""
}

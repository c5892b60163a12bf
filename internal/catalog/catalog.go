// Package catalog resolves logical project columns to physical ones.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/zeno-ml/zeno-hub-sub000/internal/models"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

// ResolutionError is returned when no column matches a lookup.
type ResolutionError struct {
	Project string
	Name    string
	Kind    models.ColumnKind
	Model   string
}

func (e *ResolutionError) Error() string {
	what := e.Name
	if what == "" {
		what = string(e.Kind) + " column"
	}
	if e.Model != "" {
		return fmt.Sprintf("project %s: cannot resolve %s for model %s", e.Project, what, e.Model)
	}
	return fmt.Sprintf("project %s: cannot resolve %s", e.Project, what)
}

// IsResolution reports whether err is a ResolutionError.
func IsResolution(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// Catalog reads the column map of each project and keeps the most
// recently used ones in memory. The ingestion side calls Invalidate
// after it changes a project's columns.
type Catalog struct {
	db     *store.DB
	cache  *lru.Cache[string, []models.Column]
	logger log.Logger
}

func New(db *store.DB, cacheSize int, logger log.Logger) (*Catalog, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[string, []models.Column](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "catalog cache")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Catalog{db: db, cache: cache, logger: log.With(logger, "component", "catalog")}, nil
}

// Columns returns every column of project in column map order.
func (c *Catalog) Columns(ctx context.Context, project string) ([]models.Column, error) {
	if cols, ok := c.cache.Get(project); ok {
		return cols, nil
	}
	if err := store.ValidateProject(project); err != nil {
		return nil, err
	}

	q := sqlq.Select{
		Columns: []sqlq.Expr{
			sqlq.Ident("column_id"), sqlq.Ident("name"), sqlq.Ident("type"),
			sqlq.Ident("model"), sqlq.Ident("data_type"),
		},
		From: store.ColumnMapTable(project),
	}
	var cols []models.Column
	err := c.db.Query(ctx, "catalog_columns", q, func(rows *sql.Rows) error {
		var (
			col   models.Column
			model sql.NullString
		)
		if err := rows.Scan(&col.ID, &col.Name, &col.Kind, &model, &col.DataType); err != nil {
			return err
		}
		col.Model = model.String
		cols = append(cols, col)
		return nil
	})
	if err != nil {
		return nil, err
	}

	level.Debug(c.logger).Log("msg", "loaded column map", "project", project, "columns", len(cols))
	c.cache.Add(project, cols)
	return cols, nil
}

// Invalidate drops the cached column map of project.
func (c *Catalog) Invalidate(project string) {
	c.cache.Remove(project)
}

// Resolve finds the column called name for model. A column owned by
// model wins; otherwise the shared column of that name is used.
func (c *Catalog) Resolve(ctx context.Context, project, name, model string) (models.Column, error) {
	cols, err := c.Columns(ctx, project)
	if err != nil {
		return models.Column{}, err
	}
	var shared *models.Column
	for i := range cols {
		if cols[i].Name != name {
			continue
		}
		if model != "" && cols[i].Model == model {
			return cols[i], nil
		}
		if cols[i].Shared() && shared == nil {
			shared = &cols[i]
		}
	}
	if shared != nil {
		return *shared, nil
	}
	return models.Column{}, &ResolutionError{Project: project, Name: name, Model: model}
}

// ByID finds a column by its physical id.
func (c *Catalog) ByID(ctx context.Context, project, id string) (models.Column, error) {
	cols, err := c.Columns(ctx, project)
	if err != nil {
		return models.Column{}, err
	}
	for _, col := range cols {
		if col.ID == id {
			return col, nil
		}
	}
	return models.Column{}, &ResolutionError{Project: project, Name: id}
}

// ByKind finds the first column of kind owned by model. An empty model
// looks among shared columns.
func (c *Catalog) ByKind(ctx context.Context, project string, kind models.ColumnKind, model string) (models.Column, error) {
	cols, err := c.Columns(ctx, project)
	if err != nil {
		return models.Column{}, err
	}
	for _, col := range cols {
		if col.Kind == kind && col.Model == model {
			return col, nil
		}
	}
	return models.Column{}, &ResolutionError{Project: project, Kind: kind, Model: model}
}

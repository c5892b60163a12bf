package store

import (
	"regexp"

	"github.com/pkg/errors"
)

var projectPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ErrInvalidProject is returned for project ids that cannot name a table.
var ErrInvalidProject = errors.New("invalid project id")

// ValidateProject checks that project can be used as a table name.
func ValidateProject(project string) error {
	if !projectPattern.MatchString(project) {
		return errors.Wrapf(ErrInvalidProject, "%q", project)
	}
	return nil
}

// ColumnMapTable is the catalog table of a project.
func ColumnMapTable(project string) string {
	return project + "_column_map"
}

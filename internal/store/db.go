package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"modernc.org/sqlite"

	"github.com/zeno-ml/zeno-hub-sub000/internal/store/sqlq"
)

// Config holds connection details
type Config struct {
	Driver          string        `yaml:"driver"` // "postgres", "sqlite"
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"` // "disable", "require"
	Path            string        `yaml:"path"`    // sqlite database file
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DB is the tabular store handle shared by the engines. It holds no
// per-request state; WithConn hands out a copy bound to one connection.
type DB struct {
	pool    *sql.DB
	q       Querier
	dialect sqlq.Dialect
	metrics *queryMetrics
	logger  log.Logger
}

var registerRegexp sync.Once

// Open connects to the configured store and verifies the connection.
func Open(ctx context.Context, cfg Config, reg prometheus.Registerer, logger log.Logger) (*DB, error) {
	var (
		db      *sql.DB
		dialect sqlq.Dialect
		err     error
	)
	switch cfg.Driver {
	case "postgres", "":
		connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
		db, err = sql.Open("postgres", connStr)
		dialect = sqlq.Postgres
	case "sqlite":
		if err := RegisterSQLiteFunctions(); err != nil {
			return nil, err
		}
		db, err = sql.Open("sqlite", cfg.Path)
		dialect = sqlq.SQLite
	default:
		return nil, errors.Errorf("unsupported store driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrapErr("ping", err)
	}
	if dialect == sqlq.SQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, wrapErr("pragma", err)
		}
	}

	return New(db, dialect, reg, logger), nil
}

// New wraps an already opened pool.
func New(db *sql.DB, dialect sqlq.Dialect, reg prometheus.Registerer, logger log.Logger) *DB {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &DB{
		pool:    db,
		q:       db,
		dialect: dialect,
		metrics: newQueryMetrics(reg),
		logger:  log.With(logger, "component", "store", "dialect", dialect.String()),
	}
}

// RegisterSQLiteFunctions installs the REGEXP operator for SQLite. Safe
// to call more than once.
func RegisterSQLiteFunctions() error {
	var err error
	registerRegexp.Do(func() {
		err = sqlite.RegisterDeterministicScalarFunction("regexp", 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				pattern, ok := args[0].(string)
				if !ok {
					return nil, errors.New("regexp: pattern must be text")
				}
				re, err := regexp.Compile(pattern)
				if err != nil {
					return nil, err
				}
				switch v := args[1].(type) {
				case nil:
					return nil, nil
				case string:
					return boolInt(re.MatchString(v)), nil
				case []byte:
					return boolInt(re.Match(v)), nil
				default:
					return boolInt(re.MatchString(fmt.Sprint(v))), nil
				}
			})
	})
	return err
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (d *DB) Dialect() sqlq.Dialect { return d.dialect }

func (d *DB) Close() error {
	if d.pool != nil {
		return d.pool.Close()
	}
	return nil
}

// WithConn runs fn with a DB bound to a single pooled connection, which
// is released when fn returns.
func (d *DB) WithConn(ctx context.Context, fn func(*DB) error) error {
	if _, ok := d.q.(*sql.DB); !ok {
		return fn(d)
	}
	conn, err := d.pool.Conn(ctx)
	if err != nil {
		return wrapErr("conn", err)
	}
	defer conn.Close()

	bound := *d
	bound.q = conn
	return fn(&bound)
}

// Query runs q and hands every row to scan. Rows are closed before Query
// returns.
func (d *DB) Query(ctx context.Context, op string, q sqlq.Select, scan func(*sql.Rows) error) (err error) {
	query, args := q.Build(d.dialect)
	start := time.Now()
	defer func() {
		d.metrics.observe(op, start, err)
		if err != nil {
			level.Debug(d.logger).Log("msg", "query failed", "op", op, "query", query, "err", err)
		}
	}()

	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return wrapErr(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return wrapErr(op, err)
		}
	}
	return wrapErr(op, rows.Err())
}

// QueryRow runs q and scans its single row into dest. A query returning
// no row leaves dest untouched.
func (d *DB) QueryRow(ctx context.Context, op string, q sqlq.Select, dest ...any) error {
	return d.Query(ctx, op, q, func(rows *sql.Rows) error {
		return rows.Scan(dest...)
	})
}

// QueryMaps runs q and returns every row as a column-name map.
func (d *DB) QueryMaps(ctx context.Context, op string, q sqlq.Select) ([]map[string]any, error) {
	var (
		result  []map[string]any
		columns []string
	)
	err := d.Query(ctx, op, q, func(rows *sql.Rows) error {
		if columns == nil {
			var err error
			if columns, err = rows.Columns(); err != nil {
				return err
			}
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			// Handle byte slices (common for strings in DB drivers)
			if b, ok := values[i].([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = values[i]
			}
		}
		result = append(result, rowMap)
		return nil
	})
	return result, err
}

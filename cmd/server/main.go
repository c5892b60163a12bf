package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/zeno-ml/zeno-hub-sub000/internal/api"
	"github.com/zeno-ml/zeno-hub-sub000/internal/catalog"
	"github.com/zeno-ml/zeno-hub-sub000/internal/chart"
	"github.com/zeno-ml/zeno-hub-sub000/internal/config"
	"github.com/zeno-ml/zeno-hub-sub000/internal/filter"
	"github.com/zeno-ml/zeno-hub-sub000/internal/histogram"
	"github.com/zeno-ml/zeno-hub-sub000/internal/metric"
	"github.com/zeno-ml/zeno-hub-sub000/internal/slicefinder"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
)

func main() {
	configPath := pflag.String("config", "", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		level.Error(logger).Log("msg", "invalid config", "err", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize store & engines
	db, err := store.Open(ctx, cfg.Store, reg, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	cat, err := catalog.New(db, cfg.Engine.CatalogCacheSize, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create catalog", "err", err)
		os.Exit(1)
	}
	compiler := filter.NewCompiler(cat, cfg.Engine.MaxFilterDepth)
	metrics := metric.NewEngine(db, cat, metric.DefaultRegistry(), logger)
	histograms := histogram.NewEngine(db, metrics, cfg.Engine.HistogramParallelism, logger)
	charts := chart.NewAssembler(db, cat, compiler, metrics, logger)
	finder := slicefinder.New(db, cat, compiler, cfg.SliceFinder, logger)

	handler := api.NewHandler(db, cat, compiler, metrics, histograms, charts, finder, logger)

	// Router Setup
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	// CORS - Allow frontend
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		handler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	level.Info(logger).Log("msg", "starting server", "addr", srv.Addr, "driver", cfg.Store.Driver, "origins", len(cfg.Server.AllowedOrigins))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		level.Error(logger).Log("msg", "server failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) log.Logger {
	w := log.NewSyncWriter(os.Stderr)
	var logger log.Logger
	if cfg.Format == "json" {
		logger = log.NewJSONLogger(w)
	} else {
		logger = log.NewLogfmtLogger(w)
	}
	logger = level.NewFilter(logger, allowLevel(cfg.Level))
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func allowLevel(name string) level.Option {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// requestLogger logs one line per request once it completes.
func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			level.Debug(logger).Log("msg", "request", "method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "bytes", ww.BytesWritten(), "duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

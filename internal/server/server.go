package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/abcmetrics/internal/aggregation"
	"github.com/smallbiznis/abcmetrics/internal/clock"
	"github.com/smallbiznis/abcmetrics/internal/config"
	"github.com/smallbiznis/abcmetrics/internal/observability"
	obsmiddleware "github.com/smallbiznis/abcmetrics/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	obstracing "github.com/smallbiznis/abcmetrics/internal/observability/tracing"
	"github.com/smallbiznis/abcmetrics/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(
		func(s *scheduler.Scheduler) JobTrigger { return s },
		func(e *aggregation.Engine) PeriodAggregator { return e },
	),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

// JobTrigger runs scheduler jobs on demand.
type JobTrigger interface {
	Trigger(ctx context.Context, name string) (scheduler.RunReport, error)
}

// PeriodAggregator rebuilds the rollups of one period.
type PeriodAggregator interface {
	AggregatePeriod(ctx context.Context, period aggregation.Period) (int, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Params struct {
	fx.In

	Engine     *gin.Engine
	DB         *gorm.DB
	Jobs       JobTrigger
	Aggregator PeriodAggregator
	Clock      clock.Clock
	Log        *zap.Logger
}

type Server struct {
	engine     *gin.Engine
	db         *gorm.DB
	jobs       JobTrigger
	aggregator PeriodAggregator
	clock      clock.Clock
	log        *zap.Logger
}

func NewServer(p Params) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		engine:     p.Engine,
		db:         p.DB,
		jobs:       p.Jobs,
		aggregator: p.Aggregator,
		clock:      clk,
		log:        log.Named("http"),
	}
	s.RegisterAPIRoutes()
	return s
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/sync/:resource", s.TriggerSync)

	aggregate := api.Group("/aggregate")
	aggregate.POST("/daily", s.AggregateDaily)
	aggregate.POST("/monthly", s.AggregateMonthly)
	aggregate.POST("/rebuild", s.RebuildAggregates)

	metrics := api.Group("/metrics")
	metrics.GET("/daily", s.ListDailyMetrics)
	metrics.GET("/monthly", s.ListMonthlyMetrics)
	metrics.GET("/daily/series", s.DailyMetricsSeries)
	metrics.GET("/monthly/series", s.MonthlyMetricsSeries)
}

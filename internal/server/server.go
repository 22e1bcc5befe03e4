package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/crmjobs/internal/config"
	"github.com/smallbiznis/crmjobs/internal/observability"
	obslogger "github.com/smallbiznis/crmjobs/internal/observability/logger"
	obstracing "github.com/smallbiznis/crmjobs/internal/observability/tracing"
	"github.com/smallbiznis/crmjobs/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(func(s *scheduler.Scheduler) JobTrigger { return s }),
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// JobTrigger runs a job group synchronously on behalf of an operator.
type JobTrigger interface {
	TriggerInvoiceJobs(ctx context.Context) scheduler.TriggerResult
	TriggerSignatureJobs(ctx context.Context) scheduler.TriggerResult
}

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
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
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Engine  *gin.Engine
	Config  config.Config
	Log     *zap.Logger
	Trigger JobTrigger
}

type Server struct {
	engine  *gin.Engine
	cfg     config.Config
	log     *zap.Logger
	trigger JobTrigger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:  p.Engine,
		cfg:     p.Config,
		log:     p.Log.Named("http.admin"),
		trigger: p.Trigger,
	}
	s.registerAdminRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminTokenRequired())
	{
		jobs := admin.Group("/scheduler")
		jobs.POST("/invoice-jobs", s.TriggerInvoiceJobs)
		jobs.POST("/signature-reminders", s.TriggerSignatureReminders)
	}
}

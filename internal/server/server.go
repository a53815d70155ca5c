package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/meterbill/internal/config"
	documentdomain "github.com/smallbiznis/meterbill/internal/document/domain"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/meterbill/internal/observability/tracing"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
	"github.com/smallbiznis/meterbill/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger, metrics *obsmetrics.Metrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Named("http")))
	r.Use(obstracing.GinMiddleware())
	r.Use(RequestMetrics(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	return r
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
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

type Server struct {
	engine          *gin.Engine
	log             *zap.Logger
	validator       *validator.Validator
	billingConfig   *config.BillingConfigHolder
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	documentSvc     documentdomain.Service
}

type ServerParams struct {
	fx.In

	Engine          *gin.Engine
	Log             *zap.Logger
	Validator       *validator.Validator
	BillingConfig   *config.BillingConfigHolder
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	DocumentSvc     documentdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Engine,
		log:             p.Log.Named("http.server"),
		validator:       p.Validator,
		billingConfig:   p.BillingConfig,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		documentSvc:     p.DocumentSvc,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	subscriptions := s.engine.Group("/subscriptions/:subscription_id")
	{
		subscriptions.GET("/metered-features/:mf_product_code", s.ListUsageLogs)
		subscriptions.PATCH("/metered-features/:mf_product_code", s.RecordUsage)
		subscriptions.POST("/activate", s.ActivateSubscription)
		subscriptions.POST("/cancel", s.CancelSubscription)
		subscriptions.POST("/reactivate", s.ReactivateSubscription)
	}

	s.engine.GET("/documents/:document_id/entries", s.ListDocumentEntries)
}

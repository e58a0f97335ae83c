package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	billingwebhook "github.com/smallshift/rosterly/internal/billing/webhook"
	"github.com/smallshift/rosterly/internal/config"
	"github.com/smallshift/rosterly/internal/observability/logger"
	"github.com/smallshift/rosterly/internal/observability/metrics"
	organizationdomain "github.com/smallshift/rosterly/internal/organization/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func registerGin() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware())
	r.Use(metrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())
	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
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
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node

	organizationSvc organizationdomain.Service
	billingSvc      billingdomain.Service
	webhooks        *billingwebhook.Processor
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node

	OrganizationSvc organizationdomain.Service
	BillingSvc      billingdomain.Service
	Webhooks        *billingwebhook.Processor
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		db:     p.DB,
		log:    p.Log.Named("http.server"),
		genID:  p.GenID,

		organizationSvc: p.OrganizationSvc,
		billingSvc:      p.BillingSvc,
		webhooks:        p.Webhooks,
	}
}

func registerRoutes(s *Server) {
	r := s.engine

	r.GET("/health", s.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/billing/webhooks/stripe", s.HandleStripeWebhook)
	}

	admin := r.Group("/admin", s.AuthRequired())
	{
		admin.GET("/orgs", s.HandleListOrganizations)
		admin.POST("/orgs", s.HandleCreateOrganization)
		admin.GET("/orgs/:id", s.HandleGetOrganization)
		admin.DELETE("/orgs/:id", s.HandleDeleteOrganization)

		admin.GET("/billing/status", s.HandleBillingStatus)
		admin.POST("/billing/checkout", s.HandleStartCheckout)
		admin.POST("/billing/reconcile", s.HandleReconcile)
	}
}

func (s *Server) HandleHealth(c *gin.Context) {
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

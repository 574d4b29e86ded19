package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/salestax/internal/alert"
	"github.com/smallbiznis/salestax/internal/avatax"
	"github.com/smallbiznis/salestax/internal/config"
	"github.com/smallbiznis/salestax/internal/lock"
	"github.com/smallbiznis/salestax/internal/observability"
	obsmiddleware "github.com/smallbiznis/salestax/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/salestax/internal/observability/metrics"
	obstracing "github.com/smallbiznis/salestax/internal/observability/tracing"
	"github.com/smallbiznis/salestax/internal/order"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	"github.com/smallbiznis/salestax/internal/providers"
	"github.com/smallbiznis/salestax/internal/salesinvoice"
	salesinvoicedomain "github.com/smallbiznis/salestax/internal/salesinvoice/domain"
	"github.com/smallbiznis/salestax/internal/tax"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	providers.Module,
	alert.Module,
	avatax.Module,
	lock.Module,
	order.Module,
	tax.Module,
	salesinvoice.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
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
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
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
			log.Info("http server listening", zap.String("addr", addr))
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
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	orders   orderdomain.Repository
	computer taxdomain.Computer
	invoices salesinvoicedomain.Service
	locker   lock.Locker
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	Orders   orderdomain.Repository
	Computer taxdomain.Computer
	Invoices salesinvoicedomain.Service
	Locker   lock.Locker
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		log:      p.Log.Named("http.server"),
		orders:   p.Orders,
		computer: p.Computer,
		invoices: p.Invoices,
		locker:   p.Locker,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	orders := s.engine.Group("/v1/orders/:order_id", OrderContext())

	// -------- Tax --------
	orders.POST("/tax", s.OrderLock(), s.ComputeOrderTax)
	orders.POST("/line_items/:line_item_id/tax", s.OrderLock(), s.ComputeLineItemTax)

	// -------- Sales Invoice --------
	orders.GET("/sales_invoice", s.GetSalesInvoice)
	orders.POST("/sales_invoice", s.OrderLock(), s.GenerateSalesInvoice)
	orders.POST("/sales_invoice/commit", s.OrderLock(), s.CommitSalesInvoice)
	orders.POST("/sales_invoice/cancel", s.OrderLock(), s.CancelSalesInvoice)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func (s *Server) lockTTL() time.Duration {
	if s.cfg.Lock.TTL > 0 {
		return s.cfg.Lock.TTL
	}
	return config.DefaultLockTTL
}

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/observability"
	obsmiddleware "github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	obstracing "github.com/smallbiznis/storefront/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
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

// webhookLimiter is satisfied by *ratelimit.WebhookLimiter.
type webhookLimiter interface {
	Enabled() bool
	Allow(ctx context.Context, provider string) (*ratelimit.RateLimitResult, error)
}

type Server struct {
	cfg        config.Config
	log        *zap.Logger
	orderSvc   orderdomain.Service
	ledgerSvc  paymentdomain.LedgerService
	webhookSvc paymentdomain.WebhookService
	authzSvc   authorization.Service
	limiter    webhookLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	OrderSvc   orderdomain.Service
	LedgerSvc  paymentdomain.LedgerService
	WebhookSvc paymentdomain.WebhookService
	AuthzSvc   authorization.Service
	Limiter    *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		orderSvc:   p.OrderSvc,
		ledgerSvc:  p.LedgerSvc,
		webhookSvc: p.WebhookSvc,
		authzSvc:   p.AuthzSvc,
		obsMetrics: p.ObsMetrics,
	}
	if p.Limiter != nil {
		s.limiter = p.Limiter
	}
	return s
}

// RegisterRoutes mounts the webhook intake and the operator API.
func RegisterRoutes(r *gin.Engine, s *Server) {
	api := r.Group("/api")

	webhooks := api.Group("/payments/webhooks")
	webhooks.POST("/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)

	admin := api.Group("", s.AdminAuthRequired())
	admin.GET("/orders/:id", s.GetOrderByID)
	admin.GET("/payments/events", s.ListPaymentEvents)
	admin.GET("/payments/events/:provider/:eventId", s.GetPaymentEvent)
	admin.POST("/payments/webhooks/:provider/replay", s.ReplayPaymentWebhook)
}

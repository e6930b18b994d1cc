package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	gbytes "github.com/labstack/gommon/bytes"
	glog "github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/http/middleware"
	"github.com/jmehdipour/webhook-gateway/internal/inbound"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/signature"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

type routes struct {
	webhooks   WebhookRouter
	deliveries repository.DeliveriesRepository
	reports    repository.CHDeliveriesRepository
	redis      *redis.Client
}

// NewServer wires repositories, the inbound pipeline and the admin API.
// emitter receives business events raised by provider handlers.
func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, emitter inbound.Emitter, log *zap.Logger) *Server {
	log = logger.OrNop(log)

	// repos (MySQL)
	inboundLogsRepo := repository.NewInboundLogsRepository(mysqlDB)
	invoicesRepo := repository.NewInvoicesRepository(mysqlDB)
	deliveriesRepo := repository.NewDeliveriesRepository(mysqlDB)

	// repos (ClickHouse)
	chDeliveriesRepo := repository.NewCHDeliveriesRepository(clickhouseDB)

	// inbound pipeline
	verifier := signature.NewVerifierFromConfig(cfg.Webhooks)
	for _, p := range []model.Provider{model.ProviderStripe, model.ProviderGitHub, model.ProviderGeneric} {
		if !verifier.Configured(p) {
			log.Warn("webhook secret not configured, signatures will not verify", zap.String("provider", p.String()))
		}
	}
	router := inbound.NewRouter(verifier, inboundLogsRepo, inbound.Handlers{
		Stripe: inbound.NewStripeHandler(invoicesRepo, emitter, log),
		GitHub: inbound.NewGitHubHandler(emitter),
	}, log)

	return newServer(cfg, routes{
		webhooks:   router,
		deliveries: deliveriesRepo,
		reports:    chDeliveriesRepo,
		redis:      rds,
	}, log)
}

const defaultBodyLimit = 1 << 20

// bodyLimit parses sizes like "1M" or "512K" the way echo's BodyLimit does.
func bodyLimit(s string, log *zap.Logger) int64 {
	if s == "" {
		return defaultBodyLimit
	}
	n, err := gbytes.Parse(s)
	if err != nil || n <= 0 {
		log.Warn("invalid http.body_limit, using 1M", zap.String("body_limit", s), zap.Error(err))
		return defaultBodyLimit
	}
	return n
}

func newServer(cfg config.Config, r routes, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// inbound webhooks (public, signature checked per request)
	hooks := e.Group("/webhooks")
	hooks.POST("/:provider", receiveWebhookHandler(r.webhooks, bodyLimit(cfg.HTTP.BodyLimit, log)))

	// admin middlewares
	authMW := middleware.APIKeyMiddleware(cfg.Admin.APIKeys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          r.redis,
		DefaultRPS:     cfg.Admin.RateLimit.RPS,
		KeyPrefix:      "rl:admin:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// admin routes (read-only)
	v1 := e.Group("/v1", authMW, rlMW)
	v1.GET("/subscriptions/:id/deliveries", listSubscriptionDeliveriesHandler(r.deliveries))
	v1.GET("/reports/deliveries", listDeliveryReportsHandler(r.reports))

	return &Server{e: e, log: log}
}

func echoLevel(level string) glog.Lvl {
	switch level {
	case "debug":
		return glog.DEBUG
	case "warn":
		return glog.WARN
	case "error":
		return glog.ERROR
	default:
		return glog.INFO
	}
}

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

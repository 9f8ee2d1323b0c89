package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/groundgame/textrelay/internal/config"
	"github.com/groundgame/textrelay/internal/dispatcher"
	"github.com/groundgame/textrelay/internal/linkrotate"
	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/metrics"
	"github.com/groundgame/textrelay/internal/provider"
	"github.com/groundgame/textrelay/internal/reconcile"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/secrets"
	"github.com/groundgame/textrelay/internal/service/gate"
	"github.com/groundgame/textrelay/internal/usage"
)

type Server struct{ e *echo.Echo }

func NewServer(
	cfg config.Config,
	mysqlDB, clickhouseDB *sqlx.DB,
	rds *redis.Client,
	adapters provider.Registry,
	disp dispatcher.Dispatcher,
) (*Server, error) {
	var codec *secrets.Codec
	if cfg.Secrets.EncryptionKey != "" {
		var err error
		codec, err = secrets.NewCodec(cfg.Secrets.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("secrets codec: %w", err)
		}
	}

	// repos (MySQL)
	messagesRepo := repository.NewMessagesRepository(mysqlDB)
	eventsRepo := repository.NewMessageEventsRepository(mysqlDB)
	partsRepo := repository.NewPartsRepository(mysqlDB)
	conversationsRepo := repository.NewConversationsRepository(mysqlDB)
	assignmentsRepo := repository.NewAssignmentsRepository(mysqlDB)
	optOutsRepo := repository.NewOptOutsRepository(mysqlDB)
	servicesRepo := repository.NewServicesRepository(mysqlDB, codec)
	linkDomainsRepo := repository.NewLinkDomainsRepository(mysqlDB)

	// repos (ClickHouse)
	auditRepo := repository.NewAuditRepository(clickhouseDB)

	// services
	rotator := linkrotate.New(mysqlDB, linkDomainsRepo, cfg.ShortLinks.Domains, cfg.ShortLinks.Enabled)
	gateSvc := gate.New(
		mysqlDB,
		conversationsRepo,
		assignmentsRepo,
		optOutsRepo,
		servicesRepo,
		messagesRepo,
		usage.NewCounter(rds),
		rotator,
		disp,
		gate.Config{
			MaxTextLength: cfg.Sending.MaxTextLength,
			OptOutGlobal:  cfg.Sending.OptOutScope == "global",
			SendWindow:    cfg.Sending.SendWindow,
		},
	)
	reconciler := reconcile.New(messagesRepo, eventsRepo, auditRepo, adapters)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// carrier webhooks
	wh := webhookHandler{
		adapters:   adapters,
		services:   servicesRepo,
		messages:   messagesRepo,
		parts:      partsRepo,
		audit:      auditRepo,
		reconciler: reconciler,
		dispatcher: disp,
		skipVerify: cfg.Webhooks.SkipSignatureCheck,
	}
	e.POST("/webhooks/:provider/message", wh.handle)
	e.POST("/webhooks/:provider/status", wh.handle)

	// internal API (caller identity supplied by the trusted frontend proxy)
	v1 := e.Group("/v1")
	v1.POST("/sends", sendHandler(gateSvc))
	v1.GET("/audit/events", listAuditEventsHandler(auditRepo))

	return &Server{e: e}, nil
}

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

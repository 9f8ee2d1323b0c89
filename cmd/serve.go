package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/groundgame/textrelay/internal/config"
	"github.com/groundgame/textrelay/internal/db"
	"github.com/groundgame/textrelay/internal/dispatcher"
	httpSrv "github.com/groundgame/textrelay/internal/http"
	"github.com/groundgame/textrelay/internal/inbound"
	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/provider"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/secrets"
	"github.com/groundgame/textrelay/internal/usage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run webhook/API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		var codec *secrets.Codec
		if cfg.Secrets.EncryptionKey != "" {
			if codec, err = secrets.NewCodec(cfg.Secrets.EncryptionKey); err != nil {
				return fmt.Errorf("secrets codec: %w", err)
			}
		}

		messagesRepo := repository.NewMessagesRepository(mysqlDB)
		eventsRepo := repository.NewMessageEventsRepository(mysqlDB)
		partsRepo := repository.NewPartsRepository(mysqlDB)
		conversationsRepo := repository.NewConversationsRepository(mysqlDB)
		servicesRepo := repository.NewServicesRepository(mysqlDB, codec)
		outboxRepo := repository.NewOutboxRepository(mysqlDB)
		auditRepo := repository.NewAuditRepository(chDB)

		rec := &provider.Recorder{
			Messages: messagesRepo,
			Events:   eventsRepo,
			Audit:    auditRepo,
			Usage:    usage.NewCounter(redisClient),
		}
		adapters := provider.NewRegistry(cfg, rec)

		var disp dispatcher.Dispatcher
		if cfg.Sending.Mode == "queued" {
			disp = dispatcher.NewQueuedDispatcher(outboxRepo)
		} else {
			reassembler := inbound.New(mysqlDB, partsRepo, messagesRepo, conversationsRepo, auditRepo)
			disp = dispatcher.NewSynchronousDispatcher(messagesRepo, servicesRepo, adapters, reassembler)
		}

		server, err := httpSrv.NewServer(cfg, mysqlDB, chDB, redisClient, adapters, disp)
		if err != nil {
			return fmt.Errorf("build server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}

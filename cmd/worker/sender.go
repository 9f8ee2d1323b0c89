package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/groundgame/textrelay/internal/db"
	"github.com/groundgame/textrelay/internal/dispatcher"
	"github.com/groundgame/textrelay/internal/metrics"
	"github.com/groundgame/textrelay/internal/provider"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/secrets"
	"github.com/groundgame/textrelay/internal/usage"
	"github.com/groundgame/textrelay/internal/worker"
)

var senderCmd = &cobra.Command{
	Use:   "sender",
	Short: "Run the outbound sender worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		metrics.MustRegister(prometheus.DefaultRegisterer)

		dbx, err := connectMySQL(cfg)
		if err != nil {
			return err
		}
		defer dbx.Close()

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

		messagesRepo := repository.NewMessagesRepository(dbx)
		eventsRepo := repository.NewMessageEventsRepository(dbx)
		servicesRepo := repository.NewServicesRepository(dbx, codec)
		auditRepo := repository.NewAuditRepository(chDB)

		rec := &provider.Recorder{
			Messages: messagesRepo,
			Events:   eventsRepo,
			Audit:    auditRepo,
			Usage:    usage.NewCounter(redisClient),
		}
		adapters := provider.NewRegistry(cfg, rec)

		consumer := newConsumer(cfg, dispatcher.TopicOutbound, "sender")
		defer consumer.Close()

		w := worker.NewSender(consumer, messagesRepo, servicesRepo, adapters, cfg.Worker.Count)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> sender started topic=%s workers=%d", dispatcher.TopicOutbound, w.Workers)

		return w.Run(ctx)
	},
}

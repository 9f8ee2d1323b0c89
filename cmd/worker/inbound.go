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
	"github.com/groundgame/textrelay/internal/inbound"
	"github.com/groundgame/textrelay/internal/metrics"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/worker"
)

var inboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Run the inbound reassembly worker",
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

		reassembler := inbound.New(
			dbx,
			repository.NewPartsRepository(dbx),
			repository.NewMessagesRepository(dbx),
			repository.NewConversationsRepository(dbx),
			repository.NewAuditRepository(chDB),
		)

		consumer := newConsumer(cfg, dispatcher.TopicInbound, "inbound")
		defer consumer.Close()

		w := worker.NewInbound(consumer, reassembler, cfg.Worker.Count)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> inbound started topic=%s workers=%d", dispatcher.TopicInbound, w.Workers)

		return w.Run(ctx)
	},
}

package worker

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groundgame/textrelay/internal/kafka"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/worker"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the outbox-to-Kafka relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dbx, err := connectMySQL(cfg)
		if err != nil {
			return err
		}
		defer dbx.Close()

		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()

		w := worker.NewRelay(dbx, repository.NewOutboxRepository(dbx), producer)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> relay started batch=%d interval=%s", w.BatchSize, w.Interval)

		return w.Run(ctx)
	},
}

package worker

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groundgame/textrelay/internal/reconcile"
	"github.com/groundgame/textrelay/internal/repository"
)

var sweeperCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Run the delivery report sweeper",
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

		s := reconcile.NewSweeper(
			repository.NewMessagesRepository(dbx),
			repository.NewMessageEventsRepository(dbx),
		)
		if cfg.Sweeper.Interval > 0 {
			s.Interval = cfg.Sweeper.Interval
		}
		if cfg.Sweeper.ErrorPercentThreshold > 0 {
			s.ErrorPercentWarn = cfg.Sweeper.ErrorPercentThreshold
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> sweeper started interval=%s", s.Interval)

		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

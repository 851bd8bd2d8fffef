package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/shortage/internal/messaging"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that processes case commands from Azure Service Bus, keeps cached dashboards current and reindexes the part catalog`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := rt.service
	g, ctx := errgroup.WithContext(ctx)

	// Recompute every window on each delivered snapshot
	g.Go(func() error {
		return svc.Run(ctx)
	})

	// Case commands
	g.Go(func() error {
		if rt.bus == nil {
			log.Warn().Msg("No service bus configured, command processing disabled")
			<-ctx.Done()
			return nil
		}
		log.Info().Str("queue", cfg.Azure.CommandsQueue).Msg("Starting Azure Service Bus processor")
		return rt.bus.Consume(ctx, cfg.Azure.CommandsQueue, messaging.NewProcessor(svc, rt.bus.Origin()))
	})

	// Change notifications from the other processes
	g.Go(func() error {
		return rt.consumeChanges(ctx)
	})

	// Scheduled reconcile and reindex as a fallback for missed notifications
	g.Go(func() error {
		return runScheduler(ctx, cfg.Engine, svc, true)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/shortage/internal/api"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server that serves cases, dashboards and the part catalog`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	server := api.NewServer(cfg, rt.service, rt.metrics, rt.tracer)

	g, ctx := errgroup.WithContext(ctx)

	// Keep the dashboards current with every snapshot
	g.Go(func() error {
		return rt.service.Run(ctx)
	})

	// Pick up writes made by other processes
	g.Go(func() error {
		return rt.consumeChanges(ctx)
	})

	// Reload from the database now and then in case a notification was missed
	g.Go(func() error {
		return runScheduler(ctx, cfg.Engine, rt.service, false)
	})

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("API server error")
		return err
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

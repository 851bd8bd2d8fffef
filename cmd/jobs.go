package cmd

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shortage/config"
	"example.com/backstage/services/shortage/internal/services"
)

const defaultReconcileInterval = 5 * time.Minute

// runScheduler runs the periodic reconcile, and the catalog reindex when reindex is set,
// until ctx is done. Reconciling bounds how stale a process gets when change notifications
// are lost.
func runScheduler(ctx context.Context, cfg config.EngineConfig, svc *services.ShortageService, reindex bool) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	reconcileEvery := cfg.ReconcileInterval
	if reconcileEvery <= 0 {
		reconcileEvery = defaultReconcileInterval
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(reconcileEvery),
		gocron.NewTask(func() {
			log.Debug().Msg("Running dashboard reconcile job")
			if err := svc.Reconcile(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to reconcile dashboards")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule reconcile job")
	}

	if reindex && cfg.ReindexInterval > 0 {
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.ReindexInterval),
			gocron.NewTask(func() {
				n, err := svc.ReindexMaterials(ctx)
				if errors.Is(err, services.ErrSearchUnavailable) {
					log.Debug().Msg("Material search not configured, skipping reindex")
					return
				}
				if err != nil {
					log.Error().Err(err).Msg("Failed to reindex materials")
					return
				}
				log.Info().Int("materials", n).Msg("Material reindex complete")
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return errors.Wrap(err, "failed to schedule reindex job")
		}
	}

	scheduler.Start()
	log.Info().Dur("reconcile_every", reconcileEvery).Bool("reindex", reindex).Msg("Scheduler started")

	<-ctx.Done()
	return scheduler.Shutdown()
}

package app

import (
	"github.com/tripatlas/tripatlas-backend/internal/cache"
	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/services"
)

type Services struct {
	AI         services.GenerativeClient
	Quota      services.QuotaService
	Progress   services.ProgressTracker
	Generation services.AnalysisGenerationService
	Status     services.AnalysisStatusService
	Scheduler  services.RefreshScheduler
}

func wireServices(log *logger.Logger, cfg Config, reposet Repos, kv cache.KV, tieredCache *cache.TieredCache) (Services, error) {
	ai, err := services.NewOpenAIClient(log)
	if err != nil {
		return Services{}, err
	}

	quota := services.NewQuotaService(log, reposet.UserSettings, cfg.DailyGenerationLimit)
	progress := services.NewProgressTracker(log, kv)

	generation := services.NewAnalysisGenerationService(
		log, ai, tieredCache, quota, progress,
		cfg.SubtaskTimeout, cfg.SerialSubtasks,
	)
	status := services.NewAnalysisStatusService(log, tieredCache, progress)
	scheduler := services.NewRefreshScheduler(
		log, kv, tieredCache, reposet.UserSettings, quota, generation,
		cfg.CheckInterval,
	)

	return Services{
		AI:         ai,
		Quota:      quota,
		Progress:   progress,
		Generation: generation,
		Status:     status,
		Scheduler:  scheduler,
	}, nil
}

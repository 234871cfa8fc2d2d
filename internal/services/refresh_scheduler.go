package services

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tripatlas/tripatlas-backend/internal/cache"
	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/repos"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

const DefaultCheckInterval = time.Hour

// RefreshScheduler keeps the cached analysis from going indefinitely
// stale without a user-initiated request. It owns no timer: callers
// invoke MaybeRefresh opportunistically (typically alongside an
// unrelated data load) and a persisted debounce stamp bounds the
// check's own overhead regardless of call frequency.
type RefreshScheduler interface {
	MaybeRefresh(ctx context.Context, userID uuid.UUID, visits []types.Visit)
}

type refreshScheduler struct {
	log          *logger.Logger
	kv           cache.KV
	cache        *cache.TieredCache
	settingsRepo repos.UserSettingsRepo
	quota        QuotaService
	generator    AnalysisGenerationService

	checkInterval time.Duration
	now           func() time.Time
	launch        func(func())
}

func NewRefreshScheduler(
	baseLog *logger.Logger,
	kv cache.KV,
	tieredCache *cache.TieredCache,
	settingsRepo repos.UserSettingsRepo,
	quota QuotaService,
	generator AnalysisGenerationService,
	checkInterval time.Duration,
) RefreshScheduler {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &refreshScheduler{
		log:           baseLog.With("service", "RefreshScheduler"),
		kv:            kv,
		cache:         tieredCache,
		settingsRepo:  settingsRepo,
		quota:         quota,
		generator:     generator,
		checkInterval: checkInterval,
		now:           time.Now,
		launch:        func(f func()) { go f() },
	}
}

func debounceKey(userID uuid.UUID) string {
	return "analysis:refresh_check:" + userID.String()
}

// MaybeRefresh never surfaces an error: a background refresh the user
// did not ask for logs its trouble and goes quiet.
func (s *refreshScheduler) MaybeRefresh(ctx context.Context, userID uuid.UUID, visits []types.Visit) {
	if userID == uuid.Nil {
		return
	}
	now := s.now()

	if !s.claimCheck(ctx, userID, now) {
		return
	}

	if len(visits) == 0 {
		s.log.Info("skipping automatic refresh, visit history is empty", "user_id", userID)
		return
	}

	record, err := s.cache.Get(ctx, userID, false)
	if err != nil {
		s.log.Warn("automatic refresh read failed", "user_id", userID, "error", err)
		return
	}

	settings, err := s.settingsRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		s.log.Warn("automatic refresh settings load failed", "user_id", userID, "error", err)
		return
	}

	// Tier 2 serves until invalidated, so a cache hit can still be
	// older than the refresh interval; age is checked here.
	if record != nil && now.Sub(record.UpdatedAt) <= settings.RefreshInterval() {
		return
	}

	if status := s.quota.CheckLimit(ctx, userID); !status.CanRequest {
		s.log.Info("automatic refresh blocked by quota", "user_id", userID)
		return
	}

	s.log.Info("triggering automatic analysis refresh", "user_id", userID, "visits", len(visits))
	s.launch(func() {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Minute)
		defer cancel()
		if _, err := s.generator.Generate(refreshCtx, userID, visits); err != nil {
			s.log.Warn("automatic refresh failed", "user_id", userID, "error", err)
		}
	})
}

// claimCheck reads and refreshes the persisted debounce stamp. On
// storage trouble it lets the check proceed; the staleness and quota
// gates still apply.
func (s *refreshScheduler) claimCheck(ctx context.Context, userID uuid.UUID, now time.Time) bool {
	raw, found, err := s.kv.Get(ctx, debounceKey(userID))
	if err != nil {
		s.log.Warn("debounce stamp read failed", "user_id", userID, "error", err)
	} else if found {
		if lastUnix, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			if now.Sub(time.Unix(lastUnix, 0)) < s.checkInterval {
				return false
			}
		}
	}

	if err := s.kv.Set(ctx, debounceKey(userID), strconv.FormatInt(now.Unix(), 10), s.checkInterval); err != nil {
		s.log.Warn("debounce stamp write failed", "user_id", userID, "error", err)
	}
	return true
}

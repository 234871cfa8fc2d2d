package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/tripatlas/tripatlas-backend/internal/cache"
	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

// AnalysisStatusService is the read path presentation code consumes:
// the current record (or an in-flight placeholder) and the live
// progress of a running generation.
type AnalysisStatusService interface {
	// GetCurrent returns the freshest committed analysis, a transient
	// placeholder with IsGenerating set while a generation is in
	// flight, or nil when the caller should trigger generation.
	GetCurrent(ctx context.Context, userID uuid.UUID, forceRefresh bool) (*types.TravelAnalysis, error)
	GetProgress(ctx context.Context, userID uuid.UUID) (types.ProgressState, bool)
}

type analysisStatusService struct {
	log     *logger.Logger
	cache   *cache.TieredCache
	tracker ProgressTracker
}

func NewAnalysisStatusService(baseLog *logger.Logger, tieredCache *cache.TieredCache, tracker ProgressTracker) AnalysisStatusService {
	return &analysisStatusService{
		log:     baseLog.With("service", "AnalysisStatusService"),
		cache:   tieredCache,
		tracker: tracker,
	}
}

func (s *analysisStatusService) GetCurrent(ctx context.Context, userID uuid.UUID, forceRefresh bool) (*types.TravelAnalysis, error) {
	if userID == uuid.Nil {
		return nil, nil
	}

	// An in-flight job must never be mistaken for a completed record,
	// whatever the tiers hold.
	if state, ok := s.tracker.Get(ctx, userID); ok && state.IsGenerating {
		return &types.TravelAnalysis{UserID: userID, IsGenerating: true}, nil
	}

	return s.cache.Get(ctx, userID, forceRefresh)
}

func (s *analysisStatusService) GetProgress(ctx context.Context, userID uuid.UUID) (types.ProgressState, bool) {
	if userID == uuid.Nil {
		return types.ProgressState{}, false
	}
	return s.tracker.Get(ctx, userID)
}

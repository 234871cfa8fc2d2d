package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/tripatlas/tripatlas-backend/internal/cache"
	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

const DefaultSubtaskTimeout = 90 * time.Second

// AnalysisGenerationService turns a visit history into one committed
// TravelAnalysis. The six sub-tasks are independent; by default they
// fan out concurrently, with a switch to serialize them for providers
// that enforce their own concurrency limits.
type AnalysisGenerationService interface {
	Generate(ctx context.Context, userID uuid.UUID, visits []types.Visit) (*types.TravelAnalysis, error)
}

type analysisGenerationService struct {
	log     *logger.Logger
	ai      GenerativeClient
	cache   *cache.TieredCache
	quota   QuotaService
	tracker ProgressTracker

	subtaskTimeout time.Duration
	serialSubtasks bool
	now            func() time.Time
}

func NewAnalysisGenerationService(
	baseLog *logger.Logger,
	ai GenerativeClient,
	tieredCache *cache.TieredCache,
	quota QuotaService,
	tracker ProgressTracker,
	subtaskTimeout time.Duration,
	serialSubtasks bool,
) AnalysisGenerationService {
	if subtaskTimeout <= 0 {
		subtaskTimeout = DefaultSubtaskTimeout
	}
	return &analysisGenerationService{
		log:            baseLog.With("service", "AnalysisGenerationService"),
		ai:             ai,
		cache:          tieredCache,
		quota:          quota,
		tracker:        tracker,
		subtaskTimeout: subtaskTimeout,
		serialSubtasks: serialSubtasks,
		now:            time.Now,
	}
}

func (s *analysisGenerationService) Generate(ctx context.Context, userID uuid.UUID, visits []types.Visit) (*types.TravelAnalysis, error) {
	if userID == uuid.Nil {
		s.log.Debug("no current user, skipping generation")
		return nil, nil
	}
	if len(visits) == 0 {
		return nil, ErrEmptyVisitHistory
	}
	if status := s.quota.CheckLimit(ctx, userID); !status.CanRequest {
		return nil, &ErrQuotaExceeded{NextAvailableAt: status.NextAvailableAt}
	}

	s.tracker.Begin(ctx, userID, "Preparing visit history", 5)

	normalized := normalizeVisits(visits)
	digest := buildVisitDigest(normalized)
	tasks := analysisSubtasks()
	sections := make([]datatypes.JSON, len(tasks))

	var err error
	if s.serialSubtasks {
		err = s.runSerial(ctx, userID, tasks, digest, sections)
	} else {
		err = s.runConcurrent(ctx, userID, tasks, digest, sections)
	}
	if err != nil {
		// The failed attempt consumes no budget and commits nothing.
		s.tracker.Fail(context.WithoutCancel(ctx), userID, "Analysis failed")
		return nil, err
	}

	now := s.now()
	quality := computeAnalysisQuality(normalized)
	confidence := quality
	if confidence < 50 {
		// Product floor, not a computed minimum: sparse histories still
		// get a presentable confidence.
		confidence = 50
	}

	record := &types.TravelAnalysis{
		ID:              uuid.New(),
		UserID:          userID,
		Temporal:        sections[0],
		Spatial:         sections[1],
		Behavioral:      sections[2],
		Predictive:      sections[3],
		Insights:        sections[4],
		Comparative:     sections[5],
		BasedOnPlaces:   len(normalized),
		AnalysisQuality: quality,
		ConfidenceScore: confidence,
		LastRefreshedAt: now,
		NextRefreshDue:  now.Add(types.DefaultRefreshIntervalSeconds * time.Second),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.tracker.Advance(ctx, userID, "Saving analysis", 95)
	if err := s.cache.Commit(ctx, record); err != nil {
		s.tracker.Fail(context.WithoutCancel(ctx), userID, "Analysis failed")
		return nil, fmt.Errorf("commit analysis: %w", err)
	}

	// Only a successful generation consumes budget.
	if err := s.quota.RecordRequest(ctx, userID); err != nil {
		s.log.Warn("record quota request failed", "user_id", userID, "error", err)
	}

	s.tracker.Complete(ctx, userID)
	s.log.Info("analysis generated",
		"user_id", userID,
		"based_on_places", record.BasedOnPlaces,
		"quality", record.AnalysisQuality,
	)
	return record, nil
}

func (s *analysisGenerationService) runSerial(ctx context.Context, userID uuid.UUID, tasks []subtask, digest string, sections []datatypes.JSON) error {
	for i, task := range tasks {
		s.tracker.Advance(ctx, userID, task.stage, 15*(i+1))
		section, err := s.runSubtask(ctx, task, digest)
		if err != nil {
			return fmt.Errorf("%s subtask: %w", task.key, err)
		}
		sections[i] = section
	}
	return nil
}

func (s *analysisGenerationService) runConcurrent(ctx context.Context, userID uuid.UUID, tasks []subtask, digest string, sections []datatypes.JSON) error {
	g, gctx := errgroup.WithContext(ctx)
	completions := make(chan string, len(tasks))

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			section, err := s.runSubtask(gctx, task, digest)
			if err != nil {
				return fmt.Errorf("%s subtask: %w", task.key, err)
			}
			sections[i] = section
			completions <- task.stage
			return nil
		})
	}

	// Sub-tasks never write progress themselves; completions funnel
	// through this single collector so the shared slot sees serialized,
	// monotonic updates.
	var collectorWG sync.WaitGroup
	collectorWG.Add(1)
	go func() {
		defer collectorWG.Done()
		completed := 0
		for stage := range completions {
			completed++
			s.tracker.Advance(ctx, userID, stage, 15+completed*75/len(tasks))
		}
	}()

	err := g.Wait()
	close(completions)
	collectorWG.Wait()
	return err
}

func (s *analysisGenerationService) runSubtask(ctx context.Context, task subtask, digest string) (datatypes.JSON, error) {
	taskCtx, cancel := context.WithTimeout(ctx, s.subtaskTimeout)
	defer cancel()

	obj, err := s.ai.GenerateJSON(taskCtx, task.system, digest, task.schemaName, task.schema)
	if err != nil {
		return nil, err
	}
	return task.decode(obj)
}

// normalizeVisits copies and chronologically sorts the input; the
// temporal sub-task reasons about progression over time and requires
// oldest-first ordering.
func normalizeVisits(visits []types.Visit) []types.Visit {
	out := make([]types.Visit, len(visits))
	copy(out, visits)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VisitedAt.Before(out[j].VisitedAt)
	})
	return out
}

// computeAnalysisQuality rewards volume, temporal spread and category
// diversity, capped per factor so no single dimension dominates.
func computeAnalysisQuality(visits []types.Visit) int {
	years := map[int]bool{}
	categories := map[string]bool{}
	for _, v := range visits {
		years[v.VisitedAt.Year()] = true
		if c := normalizeCategory(v.Category); c != "" {
			categories[c] = true
		}
	}

	score := 20
	score += minInt(40, 2*len(visits))
	score += minInt(20, 5*len(years))
	score += minInt(20, 2*len(categories))
	return clampInt(score, 0, 100)
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

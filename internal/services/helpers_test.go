package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tripatlas/tripatlas-backend/internal/cache"
	"github.com/tripatlas/tripatlas-backend/internal/repos/testutil"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

// ---- local KV fake ----

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	return val, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key, val string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

// ---- repo fakes ----

type memSettingsRepo struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*types.UserSettings
	getErr   error
	applyErr error
}

func newMemSettingsRepo() *memSettingsRepo {
	return &memSettingsRepo{rows: map[uuid.UUID]*types.UserSettings{}}
}

func (r *memSettingsRepo) GetOrCreate(_ context.Context, _ *gorm.DB, userID uuid.UUID) (*types.UserSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	if row, ok := r.rows[userID]; ok {
		clone := *row
		return &clone, nil
	}
	now := time.Now()
	row := &types.UserSettings{
		UserID:                 userID,
		RefreshIntervalSeconds: types.DefaultRefreshIntervalSeconds,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	r.rows[userID] = row
	clone := *row
	return &clone, nil
}

func (r *memSettingsRepo) UpdateFields(_ context.Context, _ *gorm.DB, userID uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return r.applyErr
	}
	row, ok := r.rows[userID]
	if !ok {
		row = &types.UserSettings{UserID: userID, RefreshIntervalSeconds: types.DefaultRefreshIntervalSeconds}
		r.rows[userID] = row
	}
	for key, val := range updates {
		switch key {
		case "request_count":
			row.RequestCount = val.(int)
		case "last_request_at":
			t := val.(time.Time)
			row.LastRequestAt = &t
		case "next_available_at":
			if val == nil {
				row.NextAvailableAt = nil
			} else {
				t := val.(time.Time)
				row.NextAvailableAt = &t
			}
		case "last_updated_at":
			row.LastUpdatedAt = val.(int64)
		case "refresh_interval_seconds":
			row.RefreshIntervalSeconds = val.(int64)
		case "updated_at":
			row.UpdatedAt = val.(time.Time)
		}
	}
	return nil
}

func (r *memSettingsRepo) seed(row *types.UserSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[row.UserID] = row
}

func (r *memSettingsRepo) row(userID uuid.UUID) *types.UserSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[userID]; ok {
		clone := *row
		return &clone
	}
	return nil
}

type memAnalysisRepo struct {
	mu      sync.Mutex
	records []*types.TravelAnalysis
}

func (r *memAnalysisRepo) Create(_ context.Context, _ *gorm.DB, records []*types.TravelAnalysis) ([]*types.TravelAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return records, nil
}

func (r *memAnalysisRepo) GetLatestByUserID(_ context.Context, _ *gorm.DB, userID uuid.UUID) (*types.TravelAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *types.TravelAnalysis
	for _, rec := range r.records {
		if rec.UserID != userID {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	return latest, nil
}

func (r *memAnalysisRepo) GetByIDs(_ context.Context, _ *gorm.DB, _ []uuid.UUID) ([]*types.TravelAnalysis, error) {
	return nil, nil
}

func (r *memAnalysisRepo) CountByUserID(_ context.Context, _ *gorm.DB, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, rec := range r.records {
		if rec.UserID == userID {
			count++
		}
	}
	return count, nil
}

// ---- generative client fake ----

type fakeAI struct {
	mu      sync.Mutex
	calls   []string
	failFor string
}

func (f *fakeAI) GenerateJSON(_ context.Context, _ string, _ string, schemaName string, _ map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, schemaName)
	f.mu.Unlock()
	if schemaName == f.failFor {
		return nil, fmt.Errorf("provider failure for %s", schemaName)
	}
	return cannedSection(schemaName)
}

func cannedSection(schemaName string) (map[string]any, error) {
	switch schemaName {
	case "temporal_patterns":
		return map[string]any{
			"summary":     "travels in bursts",
			"travel_pace": "accelerating",
			"progression": "local to international",
			"eras": []any{
				map[string]any{"label": "early", "place_count": 3, "highlight": "first trips"},
			},
		}, nil
	case "spatial_footprint":
		return map[string]any{
			"summary":   "clustered in Europe",
			"home_bias": "moderate",
			"regions": []any{
				map[string]any{"name": "Western Europe", "place_count": 4, "signature": "cities"},
			},
		}, nil
	case "behavioral_profile":
		return map[string]any{
			"summary":   "food-driven explorer",
			"archetype": "Culinary Wanderer",
			"affinities": []any{
				map[string]any{"category": "restaurant", "strength": 80},
			},
			"habits": []any{"weekend trips"},
		}, nil
	case "predictive_outlook":
		return map[string]any{
			"summary":       "likely to go south",
			"next_category": "museum",
			"recommendations": []any{
				map[string]any{"name": "Lisbon", "reason": "matches food affinity", "match_score": 82},
			},
		}, nil
	case "cross_cutting_insights":
		return map[string]any{
			"summary":            "seasonal pattern",
			"notable_patterns":   []any{"travels in spring"},
			"hidden_connections": []any{"coastal bias"},
		}, nil
	case "peer_comparison":
		return map[string]any{
			"summary":           "close to urban explorers",
			"closest_archetype": "Urban Explorer",
			"percentile":        74,
			"differentiators":   []any{"more nature stops"},
		}, nil
	default:
		return nil, fmt.Errorf("unknown schema %s", schemaName)
	}
}

// ---- progress recorder ----

type recordedTransition struct {
	stage        string
	progress     int
	isGenerating bool
}

type recordingTracker struct {
	mu          sync.Mutex
	transitions []recordedTransition
}

func (r *recordingTracker) record(stage string, progress int, generating bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, recordedTransition{stage: stage, progress: progress, isGenerating: generating})
}

func (r *recordingTracker) Begin(_ context.Context, _ uuid.UUID, stage string, progress int) {
	r.record(stage, progress, true)
}

func (r *recordingTracker) Advance(_ context.Context, _ uuid.UUID, stage string, progress int) {
	r.record(stage, progress, true)
}

func (r *recordingTracker) Complete(_ context.Context, _ uuid.UUID) {
	r.record("Analysis complete", 100, false)
}

func (r *recordingTracker) Fail(_ context.Context, _ uuid.UUID, stage string) {
	r.record(stage, 0, false)
}

func (r *recordingTracker) Get(_ context.Context, _ uuid.UUID) (types.ProgressState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.transitions) == 0 {
		return types.ProgressState{}, false
	}
	last := r.transitions[len(r.transitions)-1]
	return types.ProgressState{IsGenerating: last.isGenerating, Progress: last.progress, Stage: last.stage}, true
}

func (r *recordingTracker) all() []recordedTransition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedTransition, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// ---- fixtures ----

func sampleVisits() []types.Visit {
	rating := 4.5
	mk := func(name, location, category string, at time.Time) types.Visit {
		return types.Visit{
			Name: name, Location: location, Category: category,
			VisitedAt: at, Latitude: 48.85, Longitude: 2.35, Rating: &rating,
		}
	}
	// 7 visits across 2 distinct years and 4 distinct categories.
	return []types.Visit{
		mk("Louvre", "Paris", "museum", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
		mk("Septime", "Paris", "restaurant", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)),
		mk("Alhambra", "Granada", "landmark", time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)),
		mk("Retiro", "Madrid", "park", time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)),
		mk("Uffizi", "Florence", "museum", time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)),
		mk("Trattoria Mario", "Florence", "restaurant", time.Date(2025, 5, 21, 0, 0, 0, 0, time.UTC)),
		mk("Boboli", "Florence", "park", time.Date(2025, 5, 22, 0, 0, 0, 0, time.UTC)),
	}
}

type genHarness struct {
	service      AnalysisGenerationService
	ai           *fakeAI
	kv           *fakeKV
	analysisRepo *memAnalysisRepo
	settingsRepo *memSettingsRepo
	cache        *cache.TieredCache
	tracker      ProgressTracker
	quota        QuotaService
}

func newGenHarness(t *testing.T, serial bool) *genHarness {
	t.Helper()
	log := testutil.Logger(t)
	kv := newFakeKV()
	analysisRepo := &memAnalysisRepo{}
	settingsRepo := newMemSettingsRepo()
	tieredCache := cache.NewTieredCache(log, kv, analysisRepo, settingsRepo, cache.DefaultMemoryTTL)
	quota := NewQuotaService(log, settingsRepo, DefaultDailyGenerationLimit)
	tracker := NewProgressTracker(log, kv)
	ai := &fakeAI{}
	service := NewAnalysisGenerationService(log, ai, tieredCache, quota, tracker, time.Second, serial)
	return &genHarness{
		service:      service,
		ai:           ai,
		kv:           kv,
		analysisRepo: analysisRepo,
		settingsRepo: settingsRepo,
		cache:        tieredCache,
		tracker:      tracker,
		quota:        quota,
	}
}

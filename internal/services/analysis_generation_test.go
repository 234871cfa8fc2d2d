package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tripatlas/tripatlas-backend/internal/cache"
	"github.com/tripatlas/tripatlas-backend/internal/repos/testutil"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

func TestGenerateHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newGenHarness(t, false)
	userID := uuid.New()

	record, err := h.service.Generate(ctx, userID, sampleVisits())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if record == nil {
		t.Fatalf("expected a record")
	}

	// 7 visits, 2 distinct years, 4 distinct categories:
	// 20 + min(40,14) + min(20,10) + min(20,8) = 52.
	if record.BasedOnPlaces != 7 {
		t.Fatalf("basedOnPlaces: got %d, want 7", record.BasedOnPlaces)
	}
	if record.AnalysisQuality != 52 {
		t.Fatalf("analysisQuality: got %d, want 52", record.AnalysisQuality)
	}
	if record.ConfidenceScore != 52 {
		t.Fatalf("confidenceScore: got %d, want 52", record.ConfidenceScore)
	}
	if !record.NextRefreshDue.After(record.CreatedAt) {
		t.Fatalf("nextRefreshDue must be in the future")
	}

	var temporal TemporalPatterns
	if err := json.Unmarshal(record.Temporal, &temporal); err != nil {
		t.Fatalf("temporal section not decodable: %v", err)
	}
	if temporal.Summary == "" {
		t.Fatalf("temporal section empty after commit")
	}

	latest, err := h.analysisRepo.GetLatestByUserID(ctx, nil, userID)
	if err != nil || latest == nil || latest.ID != record.ID {
		t.Fatalf("record not committed to system of record: %v %+v", err, latest)
	}
	if h.settingsRepo.row(userID).RequestCount != 1 {
		t.Fatalf("successful generation must consume exactly one request")
	}
	if len(h.ai.calls) != 6 {
		t.Fatalf("expected six sub-task calls, got %d", len(h.ai.calls))
	}

	state, ok := h.tracker.Get(ctx, userID)
	if !ok || state.IsGenerating || state.Progress != 100 {
		t.Fatalf("expected terminal success progress, got %+v", state)
	}
}

func TestGenerateSubtaskFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	h := newGenHarness(t, false)
	h.ai.failFor = "predictive_outlook"
	userID := uuid.New()

	before := h.settingsRepo.row(userID)
	if _, err := h.service.Generate(ctx, userID, sampleVisits()); err == nil {
		t.Fatalf("expected error from failed sub-task")
	}

	count, _ := h.analysisRepo.CountByUserID(ctx, nil, userID)
	if count != 0 {
		t.Fatalf("no record may be committed on sub-task failure, got %d", count)
	}
	after := h.settingsRepo.row(userID)
	beforeCount := 0
	if before != nil {
		beforeCount = before.RequestCount
	}
	if after != nil && after.RequestCount != beforeCount {
		t.Fatalf("failed generation must not consume budget: before=%d after=%d", beforeCount, after.RequestCount)
	}

	state, ok := h.tracker.Get(ctx, userID)
	if !ok || state.IsGenerating || state.Progress != 0 {
		t.Fatalf("expected terminal failure progress 0, got %+v", state)
	}
}

func TestGenerateEmptyVisitsRejectedBeforeSideEffects(t *testing.T) {
	ctx := context.Background()
	h := newGenHarness(t, false)
	userID := uuid.New()

	_, err := h.service.Generate(ctx, userID, nil)
	if !errors.Is(err, ErrEmptyVisitHistory) {
		t.Fatalf("expected ErrEmptyVisitHistory, got %v", err)
	}
	if len(h.ai.calls) != 0 {
		t.Fatalf("no provider call may happen for invalid input")
	}
	if _, ok := h.tracker.Get(ctx, userID); ok {
		t.Fatalf("no progress state may exist for rejected input")
	}
}

func TestGenerateQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	h := newGenHarness(t, false)
	userID := uuid.New()

	now := time.Now()
	h.settingsRepo.seed(&types.UserSettings{
		UserID:                 userID,
		RefreshIntervalSeconds: types.DefaultRefreshIntervalSeconds,
		RequestCount:           DefaultDailyGenerationLimit,
		LastRequestAt:          &now,
	})

	_, err := h.service.Generate(ctx, userID, sampleVisits())
	if !IsQuotaExceeded(err) {
		t.Fatalf("expected quota-exceeded, got %v", err)
	}
	var qe *ErrQuotaExceeded
	if !errors.As(err, &qe) || qe.NextAvailableAt == nil || !qe.NextAvailableAt.After(now) {
		t.Fatalf("expected future nextAvailableAt on quota error, got %+v", qe)
	}
	if len(h.ai.calls) != 0 {
		t.Fatalf("quota rejection must precede provider calls")
	}
}

func TestGenerateNoUserIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newGenHarness(t, false)

	record, err := h.service.Generate(ctx, uuid.Nil, sampleVisits())
	if err != nil || record != nil {
		t.Fatalf("no current user must be a no-op, got %+v %v", record, err)
	}
	if len(h.ai.calls) != 0 {
		t.Fatalf("no-op must not call the provider")
	}
}

func TestGenerateProgressMonotonic(t *testing.T) {
	for _, serial := range []bool{false, true} {
		name := "concurrent"
		if serial {
			name = "serial"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := testutil.Logger(t)
			kv := newFakeKV()
			analysisRepo := &memAnalysisRepo{}
			settingsRepo := newMemSettingsRepo()
			tieredCache := cache.NewTieredCache(log, kv, analysisRepo, settingsRepo, cache.DefaultMemoryTTL)
			quota := NewQuotaService(log, settingsRepo, DefaultDailyGenerationLimit)
			tracker := &recordingTracker{}
			service := NewAnalysisGenerationService(log, &fakeAI{}, tieredCache, quota, tracker, time.Second, serial)

			if _, err := service.Generate(ctx, uuid.New(), sampleVisits()); err != nil {
				t.Fatalf("generate: %v", err)
			}

			transitions := tracker.all()
			if len(transitions) == 0 {
				t.Fatalf("expected progress transitions")
			}
			prev := -1
			for i, tr := range transitions {
				if tr.progress < prev {
					t.Fatalf("progress regressed at %d: %v", i, transitions)
				}
				prev = tr.progress
			}
			last := transitions[len(transitions)-1]
			if last.progress != 100 || last.isGenerating {
				t.Fatalf("expected terminal 100, got %+v", last)
			}
		})
	}
}

func TestGenerateConfidenceFloor(t *testing.T) {
	ctx := context.Background()
	h := newGenHarness(t, false)
	userID := uuid.New()

	// One visit, one year, one category: 20+2+5+2 = 29 quality, but
	// confidence is floored at 50.
	visits := sampleVisits()[:1]
	record, err := h.service.Generate(ctx, userID, visits)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if record.AnalysisQuality != 29 {
		t.Fatalf("quality: got %d, want 29", record.AnalysisQuality)
	}
	if record.ConfidenceScore != 50 {
		t.Fatalf("confidence floor: got %d, want 50", record.ConfidenceScore)
	}
}

func TestGenerateMalformedSectionFailsGeneration(t *testing.T) {
	ctx := context.Background()
	log := testutil.Logger(t)
	kv := newFakeKV()
	analysisRepo := &memAnalysisRepo{}
	settingsRepo := newMemSettingsRepo()
	tieredCache := cache.NewTieredCache(log, kv, analysisRepo, settingsRepo, cache.DefaultMemoryTTL)
	quota := NewQuotaService(log, settingsRepo, DefaultDailyGenerationLimit)
	tracker := NewProgressTracker(log, kv)
	ai := &malformedAI{}
	service := NewAnalysisGenerationService(log, ai, tieredCache, quota, tracker, time.Second, false)
	userID := uuid.New()

	if _, err := service.Generate(ctx, userID, sampleVisits()); err == nil {
		t.Fatalf("schema-invalid provider output must fail the generation")
	}
	count, _ := analysisRepo.CountByUserID(ctx, nil, userID)
	if count != 0 {
		t.Fatalf("malformed output must not be committed")
	}
}

// malformedAI returns structurally valid JSON that violates the
// temporal section's required fields.
type malformedAI struct{}

func (m *malformedAI) GenerateJSON(_ context.Context, _ string, _ string, schemaName string, _ map[string]any) (map[string]any, error) {
	if schemaName == "temporal_patterns" {
		return map[string]any{"travel_pace": "steady"}, nil
	}
	return cannedSection(schemaName)
}

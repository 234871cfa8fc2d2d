package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tripatlas/tripatlas-backend/internal/cache"
	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

const progressMirrorTTL = 30 * time.Minute

// ProgressTracker holds the live state of at most one in-flight
// generation per user. Every transition is written to the in-process
// slot and mirrored into the local store immediately, so an observer
// in another process polling at any cadence sees monotonic progress
// and never a stale "still generating" flag after the job ends.
//
// Only the orchestrator writes transitions; observers get copies.
type ProgressTracker interface {
	Begin(ctx context.Context, userID uuid.UUID, stage string, progress int)
	Advance(ctx context.Context, userID uuid.UUID, stage string, progress int)
	Complete(ctx context.Context, userID uuid.UUID)
	Fail(ctx context.Context, userID uuid.UUID, stage string)
	Get(ctx context.Context, userID uuid.UUID) (types.ProgressState, bool)
}

type progressTracker struct {
	log *logger.Logger
	kv  cache.KV
	now func() time.Time

	mu     sync.Mutex
	states map[uuid.UUID]types.ProgressState
}

func NewProgressTracker(baseLog *logger.Logger, kv cache.KV) ProgressTracker {
	return &progressTracker{
		log:    baseLog.With("service", "ProgressTracker"),
		kv:     kv,
		now:    time.Now,
		states: make(map[uuid.UUID]types.ProgressState),
	}
}

func progressKey(userID uuid.UUID) string {
	return "analysis:progress:" + userID.String()
}

func (t *progressTracker) Begin(ctx context.Context, userID uuid.UUID, stage string, progress int) {
	if userID == uuid.Nil {
		return
	}
	now := t.now()
	state := types.ProgressState{
		IsGenerating: true,
		Progress:     clampInt(progress, 0, 100),
		Stage:        stage,
		StartedAt:    &now,
		UpdatedAt:    now,
	}
	t.store(ctx, userID, state)
}

func (t *progressTracker) Advance(ctx context.Context, userID uuid.UUID, stage string, progress int) {
	if userID == uuid.Nil {
		return
	}
	now := t.now()

	t.mu.Lock()
	prev, ok := t.states[userID]
	t.mu.Unlock()

	progress = clampInt(progress, 0, 100)
	if ok && prev.IsGenerating && progress < prev.Progress {
		// Observed progress never regresses mid-flight.
		progress = prev.Progress
	}

	state := types.ProgressState{
		IsGenerating: true,
		Progress:     progress,
		Stage:        stage,
		UpdatedAt:    now,
	}
	if ok && prev.StartedAt != nil {
		state.StartedAt = prev.StartedAt
		if progress > 0 && progress < 100 {
			elapsed := now.Sub(*prev.StartedAt)
			remaining := int(elapsed.Seconds() * float64(100-progress) / float64(progress))
			state.EstimatedSecondsRemaining = &remaining
		}
	}
	t.store(ctx, userID, state)
}

func (t *progressTracker) Complete(ctx context.Context, userID uuid.UUID) {
	if userID == uuid.Nil {
		return
	}
	now := t.now()

	t.mu.Lock()
	prev := t.states[userID]
	t.mu.Unlock()

	t.store(ctx, userID, types.ProgressState{
		IsGenerating: false,
		Progress:     100,
		Stage:        "Analysis complete",
		StartedAt:    prev.StartedAt,
		UpdatedAt:    now,
	})
}

func (t *progressTracker) Fail(ctx context.Context, userID uuid.UUID, stage string) {
	if userID == uuid.Nil {
		return
	}
	now := t.now()

	t.mu.Lock()
	prev := t.states[userID]
	t.mu.Unlock()

	t.store(ctx, userID, types.ProgressState{
		IsGenerating: false,
		Progress:     0,
		Stage:        stage,
		StartedAt:    prev.StartedAt,
		UpdatedAt:    now,
	})
}

func (t *progressTracker) Get(ctx context.Context, userID uuid.UUID) (types.ProgressState, bool) {
	if userID == uuid.Nil {
		return types.ProgressState{}, false
	}

	t.mu.Lock()
	state, ok := t.states[userID]
	t.mu.Unlock()
	if ok {
		return state, true
	}

	// Another process may own the job; fall back to the mirror.
	raw, found, err := t.kv.Get(ctx, progressKey(userID))
	if err != nil {
		t.log.Warn("progress mirror read failed", "user_id", userID, "error", err)
		return types.ProgressState{}, false
	}
	if !found {
		return types.ProgressState{}, false
	}
	var mirrored types.ProgressState
	if err := json.Unmarshal([]byte(raw), &mirrored); err != nil {
		t.log.Warn("progress mirror entry malformed", "user_id", userID, "error", err)
		return types.ProgressState{}, false
	}
	return mirrored, true
}

func (t *progressTracker) store(ctx context.Context, userID uuid.UUID, state types.ProgressState) {
	t.mu.Lock()
	t.states[userID] = state
	t.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		t.log.Warn("progress mirror encode failed", "user_id", userID, "error", err)
		return
	}
	// Mirror failures never fail the generation itself.
	if err := t.kv.Set(ctx, progressKey(userID), string(raw), progressMirrorTTL); err != nil {
		t.log.Warn("progress mirror write failed", "user_id", userID, "error", err)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

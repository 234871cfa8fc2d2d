package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/repos"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

const DefaultMemoryTTL = 5 * time.Minute

type memoryEntry struct {
	record   *types.TravelAnalysis
	storedAt time.Time
}

// TieredCache serves the freshest TravelAnalysis through three tiers:
// in-process memory (short TTL), the local KV store (until
// invalidated) and the remote append-only collection (system of
// record). Slower-tier hits populate the faster tiers.
type TieredCache struct {
	log          *logger.Logger
	kv           KV
	analysisRepo repos.TravelAnalysisRepo
	settingsRepo repos.UserSettingsRepo
	memTTL       time.Duration
	now          func() time.Time

	mu     sync.Mutex
	memory map[uuid.UUID]memoryEntry
}

func NewTieredCache(
	baseLog *logger.Logger,
	kv KV,
	analysisRepo repos.TravelAnalysisRepo,
	settingsRepo repos.UserSettingsRepo,
	memTTL time.Duration,
) *TieredCache {
	if memTTL <= 0 {
		memTTL = DefaultMemoryTTL
	}
	return &TieredCache{
		log:          baseLog.With("component", "TieredCache"),
		kv:           kv,
		analysisRepo: analysisRepo,
		settingsRepo: settingsRepo,
		memTTL:       memTTL,
		now:          time.Now,
		memory:       make(map[uuid.UUID]memoryEntry),
	}
}

func localKey(userID uuid.UUID) string {
	return "analysis:latest:" + userID.String()
}

// Get walks the tiers fastest-first. It returns nil when no usable
// record exists, which is the caller's cue to trigger generation. The
// remote tier is only consulted while the committed record is still
// inside its refresh interval; a record that is due for regeneration
// is treated as absent.
func (c *TieredCache) Get(ctx context.Context, userID uuid.UUID, forceRefresh bool) (*types.TravelAnalysis, error) {
	if userID == uuid.Nil {
		return nil, nil
	}
	now := c.now()

	if forceRefresh {
		// The remote tier is a system of record and is never locally
		// invalidated.
		if err := c.Invalidate(ctx, userID); err != nil {
			c.log.Warn("force refresh invalidation failed", "user_id", userID, "error", err)
		}
	} else {
		if rec, ok := c.getMemory(userID, now); ok {
			return rec, nil
		}
		if rec := c.getLocal(ctx, userID); rec != nil {
			c.setMemory(userID, rec, now)
			return rec, nil
		}
	}

	settings, err := c.settingsRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	last := settings.LastUpdated()
	if last.IsZero() || now.Sub(last) >= settings.RefreshInterval() {
		return nil, nil
	}

	record, err := c.analysisRepo.GetLatestByUserID(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("load latest analysis: %w", err)
	}
	if record == nil {
		return nil, nil
	}
	c.setLocal(ctx, userID, record)
	c.setMemory(userID, record, now)
	return record, nil
}

// Commit appends the record remotely, stamps the settings row, then
// populates the faster tiers. The remote append must succeed before
// any local tier is touched so a partial failure never leaves a local
// tier pointing at data absent from the system of record.
func (c *TieredCache) Commit(ctx context.Context, record *types.TravelAnalysis) error {
	if record == nil || record.UserID == uuid.Nil {
		return fmt.Errorf("commit requires a record with an owner")
	}
	if _, err := c.analysisRepo.Create(ctx, nil, []*types.TravelAnalysis{record}); err != nil {
		return fmt.Errorf("append analysis: %w", err)
	}

	if err := c.settingsRepo.UpdateFields(ctx, nil, record.UserID, map[string]interface{}{
		"last_updated_at": record.UpdatedAt.UnixMilli(),
	}); err != nil {
		// The record is already in the system of record; a failed
		// staleness stamp only makes the next read re-fetch sooner.
		c.log.Warn("settings stamp failed after commit", "user_id", record.UserID, "error", err)
	}

	c.setLocal(ctx, record.UserID, record)
	c.setMemory(record.UserID, record, c.now())
	return nil
}

// Invalidate drops tiers 1 and 2 for the user.
func (c *TieredCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	delete(c.memory, userID)
	c.mu.Unlock()
	return c.kv.Del(ctx, localKey(userID))
}

func (c *TieredCache) getMemory(userID uuid.UUID, now time.Time) (*types.TravelAnalysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.memory[userID]
	if !ok {
		return nil, false
	}
	if now.Sub(entry.storedAt) >= c.memTTL {
		return nil, false
	}
	return entry.record, true
}

func (c *TieredCache) setMemory(userID uuid.UUID, record *types.TravelAnalysis, now time.Time) {
	c.mu.Lock()
	c.memory[userID] = memoryEntry{record: record, storedAt: now}
	c.mu.Unlock()
}

func (c *TieredCache) getLocal(ctx context.Context, userID uuid.UUID) *types.TravelAnalysis {
	raw, ok, err := c.kv.Get(ctx, localKey(userID))
	if err != nil {
		c.log.Warn("local tier read failed, falling through", "user_id", userID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var record types.TravelAnalysis
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		c.log.Warn("local tier entry malformed, dropping", "user_id", userID, "error", err)
		_ = c.kv.Del(ctx, localKey(userID))
		return nil
	}
	return &record
}

func (c *TieredCache) setLocal(ctx context.Context, userID uuid.UUID, record *types.TravelAnalysis) {
	raw, err := json.Marshal(record)
	if err != nil {
		c.log.Warn("local tier encode failed", "user_id", userID, "error", err)
		return
	}
	if err := c.kv.Set(ctx, localKey(userID), string(raw), 0); err != nil {
		c.log.Warn("local tier write failed", "user_id", userID, "error", err)
	}
}

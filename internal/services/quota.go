package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/repos"
)

const DefaultDailyGenerationLimit = 5

type QuotaStatus struct {
	CanRequest        bool       `json:"can_request"`
	RequestsRemaining int        `json:"requests_remaining"`
	NextAvailableAt   *time.Time `json:"next_available_at,omitempty"`
}

// QuotaService bounds expensive regenerations to a budget per rolling
// local day. The day boundary is recomputed from "now" on every call;
// there is no rollover job, the reset is lazy and applied only when
// the counter is next incremented.
type QuotaService interface {
	// CheckLimit never blocks a caller on storage trouble: if the
	// settings row is unreachable it degrades to permissive, so an
	// outage over-permits instead of silently bricking generation.
	CheckLimit(ctx context.Context, userID uuid.UUID) QuotaStatus
	// RecordRequest is called once per successful generation. Failed
	// generations never consume budget.
	RecordRequest(ctx context.Context, userID uuid.UUID) error
}

type quotaService struct {
	log          *logger.Logger
	settingsRepo repos.UserSettingsRepo
	dailyLimit   int
	now          func() time.Time
}

func NewQuotaService(baseLog *logger.Logger, settingsRepo repos.UserSettingsRepo, dailyLimit int) QuotaService {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyGenerationLimit
	}
	return &quotaService{
		log:          baseLog.With("service", "QuotaService"),
		settingsRepo: settingsRepo,
		dailyLimit:   dailyLimit,
		now:          time.Now,
	}
}

func (s *quotaService) CheckLimit(ctx context.Context, userID uuid.UUID) QuotaStatus {
	full := QuotaStatus{CanRequest: true, RequestsRemaining: s.dailyLimit}
	if userID == uuid.Nil {
		return full
	}

	settings, err := s.settingsRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		s.log.Warn("quota check degraded to permissive", "user_id", userID, "error", err)
		return full
	}

	now := s.now()
	if settings.LastRequestAt == nil || !sameLocalDay(*settings.LastRequestAt, now) {
		// A new local day implies a fresh budget. No mutation here: the
		// reset applies when the counter is next incremented.
		return full
	}

	remaining := s.dailyLimit - settings.RequestCount
	if remaining > 0 {
		return QuotaStatus{CanRequest: true, RequestsRemaining: remaining}
	}

	next := settings.NextAvailableAt
	if next == nil {
		t := startOfNextLocalDay(now)
		next = &t
	}
	return QuotaStatus{CanRequest: false, RequestsRemaining: 0, NextAvailableAt: next}
}

func (s *quotaService) RecordRequest(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return nil
	}

	settings, err := s.settingsRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return err
	}

	now := s.now()
	count := 1
	if settings.LastRequestAt != nil && sameLocalDay(*settings.LastRequestAt, now) {
		count = settings.RequestCount + 1
	}

	updates := map[string]interface{}{
		"request_count":   count,
		"last_request_at": now,
	}
	if count >= s.dailyLimit {
		updates["next_available_at"] = startOfNextLocalDay(now)
	} else {
		updates["next_available_at"] = nil
	}

	return s.settingsRepo.UpdateFields(ctx, nil, userID, updates)
}

func sameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

func startOfNextLocalDay(t time.Time) time.Time {
	local := t.Local()
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, local.Location())
}

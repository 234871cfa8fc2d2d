package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tripatlas/tripatlas-backend/internal/http/response"
	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/services"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

// generationDeadline bounds a background generation launched from a
// request; the request itself returns immediately.
const generationDeadline = 15 * time.Minute

type AnalysisHandler struct {
	log       *logger.Logger
	status    services.AnalysisStatusService
	generator services.AnalysisGenerationService
	scheduler services.RefreshScheduler
	quota     services.QuotaService
}

func NewAnalysisHandler(
	baseLog *logger.Logger,
	status services.AnalysisStatusService,
	generator services.AnalysisGenerationService,
	scheduler services.RefreshScheduler,
	quota services.QuotaService,
) *AnalysisHandler {
	return &AnalysisHandler{
		log:       baseLog.With("handler", "AnalysisHandler"),
		status:    status,
		generator: generator,
		scheduler: scheduler,
		quota:     quota,
	}
}

type visitHistoryRequest struct {
	Visits []types.Visit `json:"visits"`
}

// GET /api/users/:user_id/analysis
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	force := c.Query("force") == "true"

	record, err := h.status.GetCurrent(c.Request.Context(), userID, force)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "analysis_read_failed", err)
		return
	}
	if record == nil {
		response.RespondError(c, http.StatusNotFound, "analysis_not_found", errors.New("no analysis available"))
		return
	}
	response.RespondOK(c, gin.H{"analysis": record})
}

// GET /api/users/:user_id/analysis/progress
func (h *AnalysisHandler) GetProgress(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	state, _ := h.status.GetProgress(c.Request.Context(), userID)
	response.RespondOK(c, gin.H{"progress": state})
}

// POST /api/users/:user_id/analysis
//
// Starts a generation in the background and returns 202; clients poll
// the progress endpoint. Quota and input validation happen inline so
// the caller gets an actionable status instead of a silent failure.
func (h *AnalysisHandler) GenerateAnalysis(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	var req visitHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if len(req.Visits) == 0 {
		response.RespondError(c, http.StatusBadRequest, "empty_visit_history", services.ErrEmptyVisitHistory)
		return
	}
	if status := h.quota.CheckLimit(c.Request.Context(), userID); !status.CanRequest {
		response.RespondError(c, http.StatusTooManyRequests, "quota_exceeded",
			&services.ErrQuotaExceeded{NextAvailableAt: status.NextAvailableAt})
		return
	}

	go func(parent context.Context) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), generationDeadline)
		defer cancel()
		if _, err := h.generator.Generate(ctx, userID, req.Visits); err != nil {
			h.log.Warn("requested generation failed", "user_id", userID, "error", err)
		}
	}(c.Request.Context())

	response.RespondAccepted(c, gin.H{"started": true})
}

// POST /api/users/:user_id/analysis/refresh-check
//
// Piggyback endpoint: presentation code calls it alongside unrelated
// loads; the scheduler decides whether anything actually happens.
func (h *AnalysisHandler) RefreshCheck(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	var req visitHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	h.scheduler.MaybeRefresh(c.Request.Context(), userID, req.Visits)
	response.RespondAccepted(c, gin.H{"checked": true})
}

// GET /api/users/:user_id/quota
func (h *AnalysisHandler) GetQuota(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	response.RespondOK(c, gin.H{"quota": h.quota.CheckLimit(c.Request.Context(), userID)})
}

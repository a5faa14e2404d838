package http

import (
	"context"
	"net/http"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/service"
)

type LockService interface {
	Claim(ctx context.Context, jobID, lockID string) (service.ClaimResult, error)
	ReportProgress(ctx context.Context, jobID, lockID string, progress int, step string) (service.ProgressResult, error)
	Complete(ctx context.Context, jobID, lockID string, clips []domain.ClipInput, videoDuration float64) (service.CompletionResult, error)
	Fail(ctx context.Context, jobID, lockID, errMsg, stage string) (service.FailureResult, error)
}

// WebhookHandlers serves the worker callbacks. Unsuccessful lock results are
// answered with 200 and a reason; only storage failures produce 5xx.
type WebhookHandlers struct {
	locks LockService
	guard *webhookGuard
}

type webhookRequest struct {
	Secret string `json:"secret"`
	LockID string `json:"lockId"`
}

type progressRequest struct {
	webhookRequest
	Progress int    `json:"progress"`
	Step     string `json:"step"`
}

type completeRequest struct {
	webhookRequest
	Clips         []domain.ClipInput `json:"clips"`
	VideoDuration float64            `json:"videoDuration"`
}

type failRequest struct {
	webhookRequest
	Error string `json:"error"`
	Stage string `json:"stage"`
}

func (h *WebhookHandlers) Claim() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req webhookRequest
		if !h.accept(w, r, &req, &req) {
			return
		}
		res, err := h.locks.Claim(r.Context(), r.PathValue("id"), req.LockID)
		respondResult(w, r, res, err)
	}
}

func (h *WebhookHandlers) Progress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req progressRequest
		if !h.accept(w, r, &req, &req.webhookRequest) {
			return
		}
		res, err := h.locks.ReportProgress(r.Context(), r.PathValue("id"), req.LockID, req.Progress, req.Step)
		respondResult(w, r, res, err)
	}
}

func (h *WebhookHandlers) Complete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req completeRequest
		if !h.accept(w, r, &req, &req.webhookRequest) {
			return
		}
		res, err := h.locks.Complete(r.Context(), r.PathValue("id"), req.LockID, req.Clips, req.VideoDuration)
		respondResult(w, r, res, err)
	}
}

func (h *WebhookHandlers) Fail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req failRequest
		if !h.accept(w, r, &req, &req.webhookRequest) {
			return
		}
		res, err := h.locks.Fail(r.Context(), r.PathValue("id"), req.LockID, req.Error, req.Stage)
		respondResult(w, r, res, err)
	}
}

func (h *WebhookHandlers) accept(w http.ResponseWriter, r *http.Request, dst any, base *webhookRequest) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, r, err)
		return false
	}
	if !h.guard.allow(w, r, base.Secret) {
		logger.Debug.Printf("webhook %s rejected for job %s", logger.SanitizeForLog(r.URL.Path), logger.SanitizeForLog(r.PathValue("id")))
		return false
	}
	return true
}

func respondResult(w http.ResponseWriter, r *http.Request, res any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

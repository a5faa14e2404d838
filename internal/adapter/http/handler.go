package http

import (
	"context"
	"net/http"

	"github.com/bnema/clipper/internal/adapter/http/validation"
	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/service"
)

type JobService interface {
	CreateJob(ctx context.Context, in service.CreateJobInput) (*domain.Job, error)
	GetJob(ctx context.Context, owner, id string) (*service.JobView, error)
	Cancel(ctx context.Context, owner, id, reason string) (*domain.Job, error)
	SubmitRemote(ctx context.Context, owner, id string) (*domain.Job, error)
	StartDownload(ctx context.Context, owner, id string) (*domain.Job, error)
	FinishDownload(ctx context.Context, owner, id, sourceKey string) (*domain.Job, error)
	FailDownload(ctx context.Context, owner, id, reason string) (*domain.Job, error)
	RequeueHandOff(ctx context.Context, owner, id string) (*domain.Job, error)
}

type UploadService interface {
	CreateSession(ctx context.Context, owner, jobID string, in service.CreateSessionInput) (*service.SessionView, error)
	GetActiveSession(ctx context.Context, owner, jobID string) (*service.SessionView, error)
	ReportPart(ctx context.Context, owner, sessionID string, partNumber int, etag string, size int64) (service.PartResult, error)
	CompleteSession(ctx context.Context, owner, sessionID string) (*domain.Job, error)
	AbortSession(ctx context.Context, owner, sessionID, reason string) (service.AbortResult, error)
}

// Handlers serves the owner-facing API. Every route runs behind AuthMiddleware.
type Handlers struct {
	jobs    JobService
	uploads UploadService
}

func NewHandlers(jobs JobService, uploads UploadService) *Handlers {
	return &Handlers{jobs: jobs, uploads: uploads}
}

type createJobRequest struct {
	ProfileID string                  `json:"profileId"`
	InputType string                  `json:"inputType"`
	SourceURL string                  `json:"sourceUrl"`
	Config    domain.GenerationConfig `json:"config"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type finishDownloadRequest struct {
	SourceKey string `json:"sourceKey"`
}

func (h *Handlers) CreateJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		inputType, err := domain.ParseInputType(req.InputType)
		if err != nil {
			writeError(w, r, err)
			return
		}

		job, err := h.jobs.CreateJob(r.Context(), service.CreateJobInput{
			UserID:    userFrom(r.Context()),
			ProfileID: req.ProfileID,
			InputType: inputType,
			SourceURL: req.SourceURL,
			Config:    req.Config,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

func (h *Handlers) GetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.jobs.GetJob(r.Context(), userFrom(r.Context()), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *Handlers) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reasonRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		h.respondJob(w, r)(h.jobs.Cancel(r.Context(), userFrom(r.Context()), r.PathValue("id"), req.Reason))
	}
}

func (h *Handlers) SubmitRemote() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.respondJob(w, r)(h.jobs.SubmitRemote(r.Context(), userFrom(r.Context()), r.PathValue("id")))
	}
}

func (h *Handlers) Retrigger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := h.jobs.RequeueHandOff(r.Context(), userFrom(r.Context()), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func (h *Handlers) StartDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.respondJob(w, r)(h.jobs.StartDownload(r.Context(), userFrom(r.Context()), r.PathValue("id")))
	}
}

func (h *Handlers) FinishDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req finishDownloadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		h.respondJob(w, r)(h.jobs.FinishDownload(r.Context(), userFrom(r.Context()), r.PathValue("id"), req.SourceKey))
	}
}

func (h *Handlers) FailDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reasonRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		h.respondJob(w, r)(h.jobs.FailDownload(r.Context(), userFrom(r.Context()), r.PathValue("id"), req.Reason))
	}
}

func (h *Handlers) respondJob(w http.ResponseWriter, r *http.Request) func(*domain.Job, error) {
	return func(job *domain.Job, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

type createSessionRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	PartSize    int64  `json:"partSize"`
	TotalParts  int    `json:"totalParts"`
	TotalBytes  int64  `json:"totalBytes"`
}

type reportPartRequest struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

func (h *Handlers) CreateUploadSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		contentType, err := validation.VideoContentType(req.ContentType)
		if err != nil {
			writeError(w, r, err)
			return
		}

		view, err := h.uploads.CreateSession(r.Context(), userFrom(r.Context()), r.PathValue("id"), service.CreateSessionInput{
			FileName:    validation.SanitizeFilename(req.FileName),
			ContentType: contentType,
			PartSize:    req.PartSize,
			TotalParts:  req.TotalParts,
			TotalBytes:  req.TotalBytes,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

// ActiveUpload answers 204 when the job has nothing to resume.
func (h *Handlers) ActiveUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.uploads.GetActiveSession(r.Context(), userFrom(r.Context()), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if view == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *Handlers) ReportPart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reportPartRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		res, err := h.uploads.ReportPart(r.Context(), userFrom(r.Context()), r.PathValue("sessionId"), req.PartNumber, req.ETag, req.Size)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handlers) CompleteUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.respondJob(w, r)(h.uploads.CompleteSession(r.Context(), userFrom(r.Context()), r.PathValue("sessionId")))
	}
}

func (h *Handlers) AbortUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reasonRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		res, err := h.uploads.AbortSession(r.Context(), userFrom(r.Context()), r.PathValue("sessionId"), req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

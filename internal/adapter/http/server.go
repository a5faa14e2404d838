package http

import (
	"context"
	"net/http"
	"time"

	"github.com/bnema/clipper/internal/adapter/http/middleware"
	"github.com/bnema/clipper/internal/adapter/http/ratelimit"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/service"
)

type ServerConfig struct {
	WebhookSecret string
	BehindProxy   bool
	// WebhookLimiter throttles bad worker secrets per client. Nil uses
	// 10 failures per 5 minutes with a 15 minute block.
	WebhookLimiter *ratelimit.FailureLimiter
	Metrics        http.Handler
	Health         func(ctx context.Context) error
}

type Server struct {
	mux        *http.ServeMux
	handlers   *Handlers
	webhooks   *WebhookHandlers
	sseHandler *SSEHandler
	auth       TokenValidator
	cfg        ServerConfig
}

func NewServer(auth TokenValidator, jobs JobService, uploads UploadService, locks LockService, eventBus *service.EventBus, cfg ServerConfig) *Server {
	limiter := cfg.WebhookLimiter
	if limiter == nil {
		limiter = ratelimit.NewFailureLimiter(10, 5*time.Minute, 15*time.Minute)
	}

	s := &Server{
		mux:      http.NewServeMux(),
		handlers: NewHandlers(jobs, uploads),
		webhooks: &WebhookHandlers{
			locks: locks,
			guard: &webhookGuard{secret: cfg.WebhookSecret, limiter: limiter, behindProxy: cfg.BehindProxy},
		},
		sseHandler: NewSSEHandler(eventBus, jobs),
		auth:       auth,
		cfg:        cfg,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	h := s.handlers
	s.mux.HandleFunc("POST /api/jobs", AuthMiddleware(s.auth, h.CreateJob()))
	s.mux.HandleFunc("GET /api/jobs/{id}", AuthMiddleware(s.auth, h.GetJob()))
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", AuthMiddleware(s.auth, h.Cancel()))
	s.mux.HandleFunc("POST /api/jobs/{id}/submit", AuthMiddleware(s.auth, h.SubmitRemote()))
	s.mux.HandleFunc("POST /api/jobs/{id}/retrigger", AuthMiddleware(s.auth, h.Retrigger()))

	s.mux.HandleFunc("POST /api/jobs/{id}/download/start", AuthMiddleware(s.auth, h.StartDownload()))
	s.mux.HandleFunc("POST /api/jobs/{id}/download/complete", AuthMiddleware(s.auth, h.FinishDownload()))
	s.mux.HandleFunc("POST /api/jobs/{id}/download/fail", AuthMiddleware(s.auth, h.FailDownload()))

	s.mux.HandleFunc("POST /api/jobs/{id}/uploads", AuthMiddleware(s.auth, h.CreateUploadSession()))
	s.mux.HandleFunc("GET /api/jobs/{id}/uploads/active", AuthMiddleware(s.auth, h.ActiveUpload()))
	s.mux.HandleFunc("POST /api/uploads/{sessionId}/parts", AuthMiddleware(s.auth, h.ReportPart()))
	s.mux.HandleFunc("POST /api/uploads/{sessionId}/complete", AuthMiddleware(s.auth, h.CompleteUpload()))
	s.mux.HandleFunc("POST /api/uploads/{sessionId}/abort", AuthMiddleware(s.auth, h.AbortUpload()))

	s.mux.HandleFunc("GET /api/jobs/{id}/events", AuthMiddleware(s.auth, s.sseHandler.Events()))

	s.mux.HandleFunc("POST /webhooks/jobs/{id}/claim", s.webhooks.Claim())
	s.mux.HandleFunc("POST /webhooks/jobs/{id}/progress", s.webhooks.Progress())
	s.mux.HandleFunc("POST /webhooks/jobs/{id}/complete", s.webhooks.Complete())
	s.mux.HandleFunc("POST /webhooks/jobs/{id}/fail", s.webhooks.Fail())

	s.mux.HandleFunc("GET /healthz", s.health())
	if s.cfg.Metrics != nil {
		s.mux.Handle("GET /metrics", s.cfg.Metrics)
	}
}

func (s *Server) health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Health != nil {
			if err := s.cfg.Health(r.Context()); err != nil {
				logger.Warn.Printf("health check failed: %v", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.SecurityHeaders(s.mux).ServeHTTP(w, r)
}

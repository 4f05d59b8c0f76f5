// Package server exposes the pipeline service over HTTP: the trigger
// contract, the orchestrated stage actions, the feedback query surface and
// the inbound webhooks. It handles only transport concerns (body parsing,
// routing, mapping the error taxonomy to status codes); all decisions live
// in the orchestrator and the state machine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zodiac/pipeline-service/internal/engage"
	"zodiac/pipeline-service/internal/feedback"
	"zodiac/pipeline-service/internal/metrics"
	"zodiac/pipeline-service/internal/notify"
	"zodiac/pipeline-service/internal/orchestrator"
	"zodiac/pipeline-service/internal/pipeline"
)

// FeedbackReader is the read side of the feedback query surface.
type FeedbackReader interface {
	ListRejections(ctx context.Context, jobID string) ([]feedback.Rejection, error)
}

// ContactRegistry resolves inbound message senders to pipeline records.
type ContactRegistry interface {
	Register(ctx context.Context, contact string, ref engage.SessionRef) error
	Resolve(ctx context.Context, contact string) (engage.SessionRef, error)
	Drop(ctx context.Context, contact string) error
}

// Handler holds shared dependencies.
type Handler struct {
	machine   *pipeline.Machine
	orch      *orchestrator.Orchestrator
	feedback  FeedbackReader
	engager   *engage.Agent
	registry  ContactRegistry
	whatsapp  *notify.WhatsAppClient
	collector *metrics.Collector
	logger    *slog.Logger

	atsWebhookKey string
}

// HandlerConfig carries the Handler's dependencies. Engagement fields may be
// nil when the deployment has no messaging channel; the webhook routes then
// answer 503.
type HandlerConfig struct {
	Machine       *pipeline.Machine
	Orchestrator  *orchestrator.Orchestrator
	Feedback      FeedbackReader
	Engager       *engage.Agent
	Registry      ContactRegistry
	WhatsApp      *notify.WhatsAppClient
	Metrics       *metrics.Collector
	Logger        *slog.Logger
	ATSWebhookKey string
}

// NewHandler returns a configured Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		machine:       cfg.Machine,
		orch:          cfg.Orchestrator,
		feedback:      cfg.Feedback,
		engager:       cfg.Engager,
		registry:      cfg.Registry,
		whatsapp:      cfg.WhatsApp,
		collector:     cfg.Metrics,
		logger:        cfg.Logger,
		atsWebhookKey: cfg.ATSWebhookKey,
	}
}

// NewRouter mounts all routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if h.collector != nil {
		r.Method(http.MethodGet, "/metrics", h.collector.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/pipelines", h.createPipeline)
		r.Get("/jobs/{jobID}/rejections", h.listRejections)

		r.Route("/pipelines/{jobID}/{candidateID}", func(r chi.Router) {
			r.Get("/", h.getPipeline)
			r.Get("/next-states", h.nextStates)
			r.Get("/events", h.listEvents)
			r.Post("/transition", h.requestTransition)
			r.Route("/actions", func(r chi.Router) {
				r.Post("/process-jd", h.actionProcessJD)
				r.Post("/score-resumes", h.actionScoreResumes)
				r.Post("/consent", h.actionConsent)
				r.Post("/not-interested", h.actionNotInterested)
				r.Post("/submit-cv", h.actionSubmitCV)
				r.Post("/shortlist-cv", h.actionShortlistCV)
				r.Post("/reject-cv", h.actionRejectCV)
				r.Post("/schedule-interview", h.actionScheduleInterview)
				r.Post("/interview-round", h.actionInterviewRound)
				r.Post("/select", h.actionSelect)
				r.Post("/reject-interview", h.actionRejectInterview)
				r.Post("/offer", h.actionOffer)
				r.Post("/confirm-doj", h.actionConfirmDOJ)
				r.Post("/close", h.actionClose)
				r.Post("/initiate-contact", h.actionInitiateContact)
				r.Post("/send-reminder", h.actionSendReminder)
			})
		})

		r.Post("/webhooks/ats", h.atsWebhook)
		r.Get("/webhooks/whatsapp", h.whatsappVerify)
		r.Post("/webhooks/whatsapp", h.whatsappWebhook)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, map[string]string{"status": "ok", "service": "pipeline-service"})
}

// ─── Response helpers ────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonCreated(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

// writeDomainError maps the error taxonomy to HTTP. Each failure kind gets a
// distinct machine-readable code so callers can tell workflow misuse from a
// race from infrastructure flakiness.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		invalid    *pipeline.InvalidTransitionError
		stale      *pipeline.StaleRecordError
		generation *pipeline.GenerationError
		delivery   *pipeline.DeliveryError
		sync       *pipeline.SyncError
	)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		jsonError(w, err.Error(), "not_found", http.StatusNotFound)
	case errors.Is(err, pipeline.ErrAlreadyExists):
		jsonError(w, err.Error(), "already_exists", http.StatusConflict)
	case errors.As(err, &invalid):
		jsonError(w, invalid.Error(), "invalid_transition", http.StatusUnprocessableEntity)
	case errors.As(err, &stale):
		jsonError(w, stale.Error(), "stale_record", http.StatusConflict)
	case errors.As(err, &generation):
		jsonError(w, generation.Error(), "generation_failed", http.StatusBadGateway)
	case errors.As(err, &delivery):
		jsonError(w, delivery.Error(), "delivery_failed", http.StatusBadGateway)
	case errors.As(err, &sync):
		jsonError(w, sync.Error(), "sync_failed", http.StatusBadGateway)
	default:
		jsonError(w, "internal error", "internal", http.StatusInternalServerError)
	}
}

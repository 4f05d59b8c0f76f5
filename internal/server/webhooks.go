package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"zodiac/pipeline-service/internal/engage"
	"zodiac/pipeline-service/internal/notify"
	"zodiac/pipeline-service/internal/pipeline"
)

// atsWebhook receives events from the system of record. When a recruiter
// moves a candidate there manually, the payload carries the internal state
// name and we run it through the normal trigger path; the transition table
// still decides whether the move is legal.
func (h *Handler) atsWebhook(w http.ResponseWriter, r *http.Request) {
	if h.atsWebhookKey == "" || r.Header.Get("x-api-key") != h.atsWebhookKey {
		jsonError(w, "unauthorized", "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		EventType     string `json:"event_type"`
		JobID         string `json:"job_id"`
		CandidateID   string `json:"candidate_id"`
		PipelineState string `json:"pipeline_state"`
		Notes         string `json:"notes"`
		UpdatedBy     string `json:"updated_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", "bad_request", http.StatusBadRequest)
		return
	}

	switch body.EventType {
	case "candidate.stage_changed":
		if body.PipelineState == "" {
			// Stage-only payloads are ambiguous (several internal states
			// share one ATS stage); log and acknowledge.
			h.logger.Info("ats stage change without pipeline state, ignored",
				"jobId", body.JobID, "candidateId", body.CandidateID)
			jsonOK(w, map[string]string{"status": "ignored"})
			return
		}
		to, err := pipeline.ParseState(body.PipelineState)
		if err != nil {
			jsonError(w, err.Error(), "bad_request", http.StatusBadRequest)
			return
		}
		rec, err := h.orch.RequestTransition(r.Context(), body.JobID, body.CandidateID, to,
			pipeline.Meta{
				TriggeredBy: pipeline.TriggerWebhook,
				ActorID:     body.UpdatedBy,
				Notes:       body.Notes,
			})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		jsonOK(w, rec)
	default:
		h.logger.Debug("unhandled ats event", "eventType", body.EventType)
		jsonOK(w, map[string]string{"status": "received"})
	}
}

// whatsappVerify answers the messaging provider's subscription challenge.
func (h *Handler) whatsappVerify(w http.ResponseWriter, r *http.Request) {
	if h.whatsapp == nil {
		jsonError(w, "engagement channel not configured", "unavailable", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	challenge, ok := h.whatsapp.VerifyWebhook(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if !ok {
		jsonError(w, "forbidden", "forbidden", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// whatsappWebhook handles inbound candidate messages. The provider expects a
// fast 200, so the decision step runs detached from the request.
func (h *Handler) whatsappWebhook(w http.ResponseWriter, r *http.Request) {
	if h.engager == nil || h.registry == nil {
		jsonError(w, "engagement channel not configured", "unavailable", http.StatusServiceUnavailable)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		jsonError(w, "read body", "bad_request", http.StatusBadRequest)
		return
	}
	msg, ok := notify.ParseWebhookPayload(raw)
	if !ok {
		jsonOK(w, map[string]string{"status": "ignored"})
		return
	}

	ref, err := h.registry.Resolve(r.Context(), msg.From)
	if err != nil {
		h.logger.Warn("inbound message from unknown contact", "from", msg.From)
		jsonOK(w, map[string]string{"status": "unknown_sender"})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go h.handleInbound(ctx, ref, msg)

	jsonOK(w, map[string]string{"status": "ok"})
}

// handleInbound runs one engagement decision step and applies any proposed
// transition through the orchestrator.
func (h *Handler) handleInbound(ctx context.Context, ref engage.SessionRef, msg notify.InboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	rec, err := h.machine.Get(ctx, ref.JobID, ref.CandidateID)
	if err != nil {
		h.logger.Error("engagement record lookup failed",
			"jobId", ref.JobID, "candidateId", ref.CandidateID, "err", err)
		return
	}
	if pipeline.IsTerminal(rec.State) {
		h.logger.Info("inbound message for closed pipeline, dropping session",
			"jobId", ref.JobID, "candidateId", ref.CandidateID)
		if err := h.registry.Drop(ctx, msg.From); err != nil {
			h.logger.Warn("drop contact failed", "from", msg.From, "err", err)
		}
		return
	}

	session := engage.Session{
		JobID:            rec.JobID,
		CandidateID:      rec.CandidateID,
		JobRef:           rec.ExternalJobRef,
		CandidateRef:     rec.ExternalCandidateRef,
		CandidateContact: msg.From,
		CurrentState:     rec.State,
		JobPitch:         rec.AgentNotes,
	}

	proposal, err := h.engager.HandleInbound(ctx, session, msg.Text)
	if err != nil {
		h.logger.Error("engagement decision failed",
			"jobId", rec.JobID, "candidateId", rec.CandidateID, "err", err)
		return
	}

	updated, err := h.orch.ApplyProposal(ctx, rec, proposal)
	if err != nil {
		// A stale or illegal proposal is logged, never retried blindly; the
		// next inbound message decides against fresh state.
		h.logger.Warn("engagement proposal rejected",
			"jobId", rec.JobID, "candidateId", rec.CandidateID,
			"proposedState", proposal.NextState, "err", err)
		return
	}
	if pipeline.IsTerminal(updated.State) {
		if err := h.registry.Drop(ctx, msg.From); err != nil {
			h.logger.Warn("drop contact failed", "from", msg.From, "err", err)
		}
	}
}

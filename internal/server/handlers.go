package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zodiac/pipeline-service/internal/engage"
	"zodiac/pipeline-service/internal/orchestrator"
	"zodiac/pipeline-service/internal/pipeline"
)

// ─── Record lifecycle ────────────────────────────────────────────────────────

func (h *Handler) createPipeline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobID                string `json:"jobId"`
		CandidateID          string `json:"candidateId"`
		ExternalJobRef       string `json:"externalJobRef"`
		ExternalCandidateRef string `json:"externalCandidateRef"`
		CandidateContact     string `json:"candidateContact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.JobID == "" || body.CandidateID == "" {
		jsonError(w, "body must contain jobId and candidateId", "bad_request", http.StatusBadRequest)
		return
	}

	rec, err := h.machine.CreateRecord(r.Context(), body.JobID, body.CandidateID,
		body.ExternalJobRef, body.ExternalCandidateRef)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if body.CandidateContact != "" && h.registry != nil {
		ref := engage.SessionRef{JobID: rec.JobID, CandidateID: rec.CandidateID}
		if err := h.registry.Register(r.Context(), body.CandidateContact, ref); err != nil {
			h.logger.Warn("register candidate contact failed",
				"jobId", rec.JobID, "candidateId", rec.CandidateID, "err", err)
		}
	}

	jsonCreated(w, rec)
}

func (h *Handler) getPipeline(w http.ResponseWriter, r *http.Request) {
	rec, err := h.machine.Get(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "candidateID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, rec)
}

// nextStates powers action menus: only legal successors are offered, empty
// for terminal records.
func (h *Handler) nextStates(w http.ResponseWriter, r *http.Request) {
	rec, err := h.machine.Get(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "candidateID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, map[string]any{
		"state":      rec.State,
		"nextStates": pipeline.NextStates(rec.State),
		"terminal":   pipeline.IsTerminal(rec.State),
	})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.machine.Events(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "candidateID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, events)
}

func (h *Handler) listRejections(w http.ResponseWriter, r *http.Request) {
	rejections, err := h.feedback.ListRejections(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, rejections)
}

// ─── Trigger contract ────────────────────────────────────────────────────────

func (h *Handler) requestTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToState         string `json:"toState"`
		TriggeredBy     string `json:"triggeredBy"`
		ActorID         string `json:"actorId"`
		Notes           string `json:"notes"`
		RejectionReason string `json:"rejectionReason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ToState == "" {
		jsonError(w, "body must contain toState", "bad_request", http.StatusBadRequest)
		return
	}

	to, err := pipeline.ParseState(body.ToState)
	if err != nil {
		jsonError(w, err.Error(), "bad_request", http.StatusBadRequest)
		return
	}
	trigger := pipeline.Trigger(body.TriggeredBy)
	switch trigger {
	case pipeline.TriggerAgent, pipeline.TriggerHuman, pipeline.TriggerWebhook:
	case "":
		trigger = pipeline.TriggerHuman
	default:
		jsonError(w, "triggeredBy must be agent, human or webhook", "bad_request", http.StatusBadRequest)
		return
	}

	rec, err := h.orch.RequestTransition(r.Context(),
		chi.URLParam(r, "jobID"), chi.URLParam(r, "candidateID"), to,
		pipeline.Meta{
			TriggeredBy:     trigger,
			ActorID:         body.ActorID,
			Notes:           body.Notes,
			RejectionReason: body.RejectionReason,
		})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, rec)
}

// ─── Orchestrated stage actions ──────────────────────────────────────────────

// withRecord loads the record for the request's pair and runs fn on it.
func (h *Handler) withRecord(w http.ResponseWriter, r *http.Request, fn func(pipeline.Record) (pipeline.Record, error)) {
	rec, err := h.machine.Get(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "candidateID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	updated, err := fn(rec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, updated)
}

func decode[T any](w http.ResponseWriter, r *http.Request, body *T) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		jsonError(w, "invalid JSON body", "bad_request", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) actionProcessJD(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RawJD string `json:"rawJd"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		updated, _, err := h.orch.ProcessJD(r.Context(), rec, body.RawJD)
		return updated, err
	})
}

func (h *Handler) actionScoreResumes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pulled      int `json:"pulled"`
		Shortlisted int `json:"shortlisted"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.ScoreResumes(r.Context(), rec, body.Pulled, body.Shortlisted)
	})
}

func (h *Handler) actionConsent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.MarkConsented(r.Context(), rec, body.Notes)
	})
}

func (h *Handler) actionNotInterested(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.MarkNotInterested(r.Context(), rec, body.Reason)
	})
}

func (h *Handler) actionSubmitCV(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobDescription   string `json:"jobDescription"`
		CandidateProfile string `json:"candidateProfile"`
		CandidateName    string `json:"candidateName"`
		HREmail          string `json:"hrEmail"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.RefineAndSubmitCV(r.Context(), rec,
			body.JobDescription, body.CandidateProfile, body.CandidateName, body.HREmail)
	})
}

func (h *Handler) actionShortlistCV(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobDescription   string `json:"jobDescription"`
		CandidateProfile string `json:"candidateProfile"`
		CandidateContact string `json:"candidateContact"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.MarkCVShortlisted(r.Context(), rec,
			body.JobDescription, body.CandidateProfile, body.CandidateContact)
	})
}

func (h *Handler) actionRejectCV(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.MarkCVRejected(r.Context(), rec, body.Reason)
	})
}

func (h *Handler) actionScheduleInterview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject       string   `json:"subject"`
		Attendees     []string `json:"attendees"`
		Mode          string   `json:"mode"`
		ProposedSlots []string `json:"proposedSlots"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.ScheduleInterview(r.Context(), rec, orchestrator.Meeting{
			Subject:       body.Subject,
			Attendees:     body.Attendees,
			Mode:          body.Mode,
			ProposedSlots: body.ProposedSlots,
		})
	})
}

func (h *Handler) actionInterviewRound(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.CompleteInterviewRound(r.Context(), rec, body.Notes)
	})
}

func (h *Handler) actionSelect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.MarkSelected(r.Context(), rec, body.Notes)
	})
}

func (h *Handler) actionRejectInterview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.MarkRejectedPostInterview(r.Context(), rec, body.Reason)
	})
}

func (h *Handler) actionOffer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Positive bool   `json:"positive"`
		Notes    string `json:"notes"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.ProcessOffer(r.Context(), rec, body.Positive, body.Notes)
	})
}

func (h *Handler) actionConfirmDOJ(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DOJ     string `json:"doj"`
		HREmail string `json:"hrEmail"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.ConfirmDOJ(r.Context(), rec, body.DOJ, body.HREmail)
	})
}

func (h *Handler) actionClose(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		return h.orch.ClosePlacement(r.Context(), rec, body.Notes)
	})
}

// actionInitiateContact opens the engagement conversation and advances the
// record into CALLING. The contact is registered so inbound webhook messages
// can be routed back to this record.
func (h *Handler) actionInitiateContact(w http.ResponseWriter, r *http.Request) {
	if h.engager == nil {
		jsonError(w, "engagement channel not configured", "unavailable", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Contact string `json:"contact"`
		Opening string `json:"opening"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Contact == "" || body.Opening == "" {
		jsonError(w, "body must contain contact and opening", "bad_request", http.StatusBadRequest)
		return
	}
	h.withRecord(w, r, func(rec pipeline.Record) (pipeline.Record, error) {
		session := engage.Session{
			JobID:            rec.JobID,
			CandidateID:      rec.CandidateID,
			JobRef:           rec.ExternalJobRef,
			CandidateRef:     rec.ExternalCandidateRef,
			CandidateContact: body.Contact,
			CurrentState:     rec.State,
			JobPitch:         rec.AgentNotes,
		}
		if err := h.engager.InitiateContact(r.Context(), session, body.Opening); err != nil {
			return pipeline.Record{}, err
		}
		if h.registry != nil {
			ref := engage.SessionRef{JobID: rec.JobID, CandidateID: rec.CandidateID}
			if err := h.registry.Register(r.Context(), body.Contact, ref); err != nil {
				h.logger.Warn("register candidate contact failed",
					"jobId", rec.JobID, "candidateId", rec.CandidateID, "err", err)
			}
		}
		return h.orch.RequestTransition(r.Context(), rec.JobID, rec.CandidateID,
			pipeline.StateCalling, pipeline.Meta{
				TriggeredBy: pipeline.TriggerAgent,
				ActorID:     "engagement-agent",
				Notes:       "Outreach message sent",
			})
	})
}

// actionSendReminder sends a templated reminder in the existing conversation
// without moving the record.
func (h *Handler) actionSendReminder(w http.ResponseWriter, r *http.Request) {
	if h.engager == nil {
		jsonError(w, "engagement channel not configured", "unavailable", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Contact string `json:"contact"`
		Body    string `json:"body"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Contact == "" || body.Body == "" {
		jsonError(w, "body must contain contact and body", "bad_request", http.StatusBadRequest)
		return
	}
	rec, err := h.machine.Get(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "candidateID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	session := engage.Session{
		JobID:            rec.JobID,
		CandidateID:      rec.CandidateID,
		JobRef:           rec.ExternalJobRef,
		CandidateRef:     rec.ExternalCandidateRef,
		CandidateContact: body.Contact,
		CurrentState:     rec.State,
	}
	if err := h.engager.SendReminder(r.Context(), session, body.Body); err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, map[string]string{"status": "sent"})
}

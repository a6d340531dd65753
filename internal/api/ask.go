package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/meeting-copilot/internal/orchestrator"
	"github.com/snarg/meeting-copilot/internal/transcript"
)

// Asker runs one utterance through the pipeline.
type Asker interface {
	ProcessWithContext(ctx context.Context, u transcript.Utterance, background *string) (orchestrator.Outcome, error)
}

// AskRequest is the body of POST /ask. Context, when present, replaces
// retrieval.
type AskRequest struct {
	Text    string  `json:"text"`
	Context *string `json:"context,omitempty"`
}

// AskResponse carries the outcome and, for failed runs, the error text.
type AskResponse struct {
	orchestrator.Outcome
	Error string `json:"error,omitempty"`
}

type AskHandler struct {
	asker Asker
}

func NewAskHandler(a Asker) *AskHandler {
	return &AskHandler{asker: a}
}

// Ask treats the request text as a FINAL utterance and returns the outcome.
// A suppressed utterance is a 200 with state "aborted" and a reason.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	u, err := transcript.New(strings.TrimSpace(req.Text), 1, transcript.Final)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid text", err.Error())
		return
	}

	out, err := h.asker.ProcessWithContext(r.Context(), u, req.Context)
	switch {
	case errors.Is(err, orchestrator.ErrGeneration):
		hlog.FromRequest(r).Warn().Err(err).Msg("ask: generation failed")
		WriteJSON(w, http.StatusBadGateway, AskResponse{Outcome: out, Error: err.Error()})
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("ask failed")
		WriteJSON(w, http.StatusInternalServerError, AskResponse{Outcome: out, Error: err.Error()})
	default:
		WriteJSON(w, http.StatusOK, AskResponse{Outcome: out})
	}
}

// Routes registers the ask route on the given router.
func (h *AskHandler) Routes(r chi.Router) {
	r.Post("/ask", h.Ask)
}

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/meeting-copilot/internal/archive"
)

// ArchiveReader is the read side of the analysis archive.
type ArchiveReader interface {
	List(ctx context.Context) ([]archive.Record, error)
	Get(ctx context.Context, id string) (*archive.Record, error)
}

// AnalysisListResponse is one page of archived analyses, newest first.
type AnalysisListResponse struct {
	Analyses []archive.Record `json:"analyses"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

type AnalysesHandler struct {
	archive ArchiveReader
}

func NewAnalysesHandler(a ArchiveReader) *AnalysesHandler {
	return &AnalysesHandler{archive: a}
}

// ListAnalyses returns archived analyses newest first.
func (h *AnalysesHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid pagination", err.Error())
		return
	}

	records, err := h.archive.List(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list analyses failed")
		WriteError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}

	start, end := p.Page(len(records))
	page := records[start:end]
	if page == nil {
		page = []archive.Record{}
	}
	WriteJSON(w, http.StatusOK, AnalysisListResponse{
		Analyses: page,
		Total:    len(records),
		Limit:    p.Limit,
		Offset:   p.Offset,
	})
}

// GetAnalysis returns one archived analysis.
func (h *AnalysesHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := h.archive.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, archive.ErrNotFound):
		WriteError(w, http.StatusNotFound, "analysis not found")
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("get analysis failed")
		WriteError(w, http.StatusInternalServerError, "failed to read analysis")
	default:
		WriteJSON(w, http.StatusOK, rec)
	}
}

// Routes registers analysis routes on the given router.
func (h *AnalysesHandler) Routes(r chi.Router) {
	r.Get("/analyses", h.ListAnalyses)
	r.Get("/analyses/{id}", h.GetAnalysis)
}

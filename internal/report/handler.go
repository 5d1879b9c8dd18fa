package report

import (
	"context"
	"log/slog"
	"net/http"

	"cbtportal/internal/app/apiresp"
)

type summaryService interface {
	SummaryByClass(ctx context.Context) ([]ClassSummary, error)
}

type Handler struct {
	svc summaryService
}

func NewHandler(svc summaryService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.SummaryByClass(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "class summary", "err", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

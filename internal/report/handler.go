package report

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"lmsquiz/internal/app/apiresp"
	"lmsquiz/internal/attempt"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	quizID, ok := quizIDParam(w, r)
	if !ok {
		return
	}
	out, err := h.svc.SummaryByQuiz(r.Context(), quizID, h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	quizID, ok := quizIDParam(w, r)
	if !ok {
		return
	}
	data, err := h.svc.ExportQuizAttempts(r.Context(), quizID, h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"quiz-%s-attempts.xlsx\"", quizID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func quizIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid quiz id")
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, attempt.ErrNotFound) {
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		return
	}
	log.Printf("report handler error: %v", err)
	apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
}

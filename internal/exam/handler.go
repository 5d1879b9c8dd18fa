package exam

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"cbtportal/internal/app/apiresp"
	"cbtportal/internal/auth"
	"cbtportal/internal/question"
	"cbtportal/internal/result"
	"cbtportal/internal/view"

	"github.com/go-chi/chi/v5"
)

const answerFieldPrefix = "answer_"

type examService interface {
	LoadExam(ctx context.Context, pupil *auth.User, level string) (*Exam, error)
	Submit(ctx context.Context, pupil *auth.User, level string, answers map[int64]string) (*result.Result, error)
}

type Handler struct {
	svc  examService
	view *view.Renderer
}

type submitRequest struct {
	Level   string           `json:"level"`
	Answers map[int64]string `json:"answers"`
}

type examQuestionView struct {
	ID      int64             `json:"id"`
	Text    string            `json:"question_text"`
	Options []question.Option `json:"options"`
}

type examView struct {
	ClassLevel string             `json:"class_level"`
	Questions  []examQuestionView `json:"questions"`
}

func NewHandler(svc examService, renderer *view.Renderer) *Handler {
	return &Handler{svc: svc, view: renderer}
}

// Page renders the exam for the pupil's class, or for the {level} URL parameter.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
		return
	}

	exam, err := h.svc.LoadExam(r.Context(), user, chi.URLParam(r, "level"))
	if err != nil {
		h.redirectForError(w, r, user, err)
		return
	}
	h.view.Render(w, r, http.StatusOK, "exam", view.Page{
		Title: "Exam " + exam.ClassLevel,
		User:  user,
		Data:  exam,
	})
}

// Submit scores the posted form and sends the pupil to their result.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	res, err := h.svc.Submit(r.Context(), user, chi.URLParam(r, "level"), answersFromForm(r))
	if err != nil {
		h.redirectForError(w, r, user, err)
		return
	}

	slog.InfoContext(r.Context(), "exam submitted",
		"user_id", user.ID,
		"class_level", res.ClassLevel,
		"score", res.Score,
		"total", res.Total,
		"comment", res.Comment,
	)
	view.Redirect(w, r, "/result", view.FlashInfo, "Your answers have been submitted.")
}

func (h *Handler) APIExam(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	exam, err := h.svc.LoadExam(r.Context(), user, r.URL.Query().Get("level"))
	if err != nil {
		h.writeAPIError(w, r, user, err)
		return
	}

	out := examView{ClassLevel: exam.ClassLevel, Questions: make([]examQuestionView, 0, len(exam.Questions))}
	for _, q := range exam.Questions {
		out.Questions = append(out.Questions, examQuestionView{ID: q.ID, Text: q.Text, Options: q.Options()})
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) APISubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.Submit(r.Context(), user, req.Level, req.Answers)
	if err != nil {
		h.writeAPIError(w, r, user, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, res)
}

func (h *Handler) redirectForError(w http.ResponseWriter, r *http.Request, user *auth.User, err error) {
	switch {
	case errors.Is(err, ErrLevelForbidden):
		view.Redirect(w, r, "/pupil", view.FlashError, "You can only take the exam for your own class.")
	case errors.Is(err, ErrNoClassLevel):
		view.Redirect(w, r, "/pupil", view.FlashError, "Your account has no class level.")
	case errors.Is(err, ErrNoQuestions):
		view.Redirect(w, r, "/pupil", view.FlashError, "There are no questions for your class yet.")
	case errors.Is(err, ErrNotPupil):
		view.Redirect(w, r, "/login", view.FlashError, "Only pupils can take exams.")
	default:
		slog.ErrorContext(r.Context(), "exam request failed", "user_id", user.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeAPIError(w http.ResponseWriter, r *http.Request, user *auth.User, err error) {
	switch {
	case errors.Is(err, ErrLevelForbidden), errors.Is(err, ErrNotPupil):
		apiresp.WriteError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNoClassLevel), errors.Is(err, ErrNoQuestions):
		apiresp.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.ErrorContext(r.Context(), "exam api request failed", "user_id", user.ID, "err", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// answersFromForm reads answer_<questionID>=<label> fields. Malformed ids are skipped.
func answersFromForm(r *http.Request) map[int64]string {
	out := make(map[int64]string)
	for key, values := range r.PostForm {
		if !strings.HasPrefix(key, answerFieldPrefix) || len(values) == 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, answerFieldPrefix), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		out[id] = values[0]
	}
	return out
}

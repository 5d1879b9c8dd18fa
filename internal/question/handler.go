package question

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"cbtportal/internal/auth"
	"cbtportal/internal/view"
)

type Handler struct {
	svc  questionService
	view *view.Renderer
}

type questionService interface {
	AddQuestion(ctx context.Context, in AddQuestionInput) (*Question, error)
	ListByInstructor(ctx context.Context, instructorID int64) ([]Question, error)
}

type addQuestionForm struct {
	Text          string
	Options       [4]string
	CorrectOption string
	ClassLevel    string
}

type dashboardData struct {
	Questions []Question
	Form      addQuestionForm
	Labels    [4]string
}

func NewHandler(svc questionService, renderer *view.Renderer) *Handler {
	return &Handler{svc: svc, view: renderer}
}

// Dashboard lists the instructor's own questions next to the add-question form.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
		return
	}
	h.renderDashboard(w, r, user, http.StatusOK, addQuestionForm{ClassLevel: user.ClassLevel}, nil)
}

func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	form := addQuestionForm{
		Text: r.PostFormValue("question_text"),
		Options: [4]string{
			r.PostFormValue("option_a"),
			r.PostFormValue("option_b"),
			r.PostFormValue("option_c"),
			r.PostFormValue("option_d"),
		},
		CorrectOption: r.PostFormValue("correct_option"),
		ClassLevel:    r.PostFormValue("class_level"),
	}

	q, err := h.svc.AddQuestion(r.Context(), AddQuestionInput{
		InstructorID: user.ID,
		Text:         form.Text,
		Options:      form.Options,
		CorrectLabel: form.CorrectOption,
		ClassLevel:   form.ClassLevel,
	})
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Could not save the question, please try again"
		switch {
		case errors.Is(err, ErrInvalidOption):
			status, msg = http.StatusBadRequest, "Correct option must be one of a, b, c or d"
		case errors.Is(err, ErrInvalidInput):
			status, msg = http.StatusBadRequest, "Invalid question: "+strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": ")
		case errors.Is(err, ErrInstructorUnknown):
			status, msg = http.StatusForbidden, "Only instructors can add questions"
		default:
			slog.ErrorContext(r.Context(), "add question", "user_id", user.ID, "err", err)
		}
		h.renderDashboard(w, r, user, status, form, &view.Flash{Kind: view.FlashError, Message: msg})
		return
	}

	slog.InfoContext(r.Context(), "question added", "question_id", q.ID, "class_level", q.ClassLevel, "user_id", user.ID)
	view.Redirect(w, r, "/instructor", view.FlashInfo, "Question added successfully.")
}

func (h *Handler) renderDashboard(w http.ResponseWriter, r *http.Request, user *auth.User, status int, form addQuestionForm, flash *view.Flash) {
	items, err := h.svc.ListByInstructor(r.Context(), user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "list instructor questions", "user_id", user.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.view.Render(w, r, status, "instructor", view.Page{
		Title: "Instructor dashboard",
		User:  user,
		Flash: flash,
		Data: dashboardData{
			Questions: items,
			Form:      form,
			Labels:    Labels,
		},
	})
}

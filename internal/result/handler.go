package result

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cbtportal/internal/app/apiresp"
	"cbtportal/internal/auth"
	"cbtportal/internal/report"
	"cbtportal/internal/view"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type resultService interface {
	LatestFor(ctx context.Context, pupilID int64) (*Result, error)
	AllFor(ctx context.Context, pupilID int64) ([]Result, error)
	AllForClass(ctx context.Context, level string) ([]Result, error)
	All(ctx context.Context) ([]Result, error)
	ExportExcel(ctx context.Context, level string) ([]byte, error)
}

type userDirectory interface {
	GetUser(ctx context.Context, id int64) (*auth.User, error)
	GetUserByUsername(ctx context.Context, username string) (*auth.User, error)
	ListUsers(ctx context.Context) ([]auth.User, error)
}

type classSummarizer interface {
	SummaryByClass(ctx context.Context) ([]report.ClassSummary, error)
}

type Handler struct {
	svc       resultService
	users     userDirectory
	summaries classSummarizer
	view      *view.Renderer
	now       func() time.Time
}

type historyData struct {
	Pupil   *auth.User
	Results []Result
	Latest  *Result
}

type adminData struct {
	Class     string
	Classes   []string
	Results   []Result
	Users     []auth.User
	Summaries []report.ClassSummary
}

type parentData struct {
	Child   *auth.User
	Results []Result
	Lookup  string
}

func NewHandler(svc resultService, users userDirectory, summaries classSummarizer, renderer *view.Renderer) *Handler {
	return &Handler{svc: svc, users: users, summaries: summaries, view: renderer, now: time.Now}
}

// PupilDashboard shows the pupil's own attempt history.
func (h *Handler) PupilDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
		return
	}
	items, err := h.svc.AllFor(r.Context(), user.ID)
	if err != nil {
		h.internalError(w, r, "list pupil results", err)
		return
	}
	h.view.Render(w, r, http.StatusOK, "pupil", view.Page{
		Title: "Pupil dashboard",
		User:  user,
		Data:  historyData{Pupil: user, Results: items},
	})
}

// Latest shows the pupil's most recent attempt.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
		return
	}
	res, err := h.svc.LatestFor(r.Context(), user.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		h.internalError(w, r, "latest result", err)
		return
	}
	h.view.Render(w, r, http.StatusOK, "result", view.Page{
		Title: "Your result",
		User:  user,
		Data:  historyData{Pupil: user, Latest: res},
	})
}

// AdminDashboard lists results (optionally for one ?class=), accounts and class summaries.
func (h *Handler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	class := strings.TrimSpace(r.URL.Query().Get("class"))

	var (
		items []Result
		err   error
	)
	if class == "" {
		items, err = h.svc.All(r.Context())
	} else {
		items, err = h.svc.AllForClass(r.Context(), class)
	}
	if err != nil {
		h.internalError(w, r, "list results", err)
		return
	}

	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.internalError(w, r, "list users", err)
		return
	}

	summaries, err := h.summaries.SummaryByClass(r.Context())
	if err != nil {
		h.internalError(w, r, "class summary", err)
		return
	}

	classes := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if s.ClassLevel != "" {
			classes = append(classes, s.ClassLevel)
		}
	}

	h.view.Render(w, r, http.StatusOK, "admin", view.Page{
		Title: "Admin dashboard",
		Data: adminData{
			Class:     class,
			Classes:   classes,
			Results:   items,
			Users:     users,
			Summaries: summaries,
		},
	})
}

func (h *Handler) ExportExcel(w http.ResponseWriter, r *http.Request) {
	class := strings.TrimSpace(r.URL.Query().Get("class"))
	data, err := h.svc.ExportExcel(r.Context(), class)
	if err != nil {
		h.internalError(w, r, "export results", err)
		return
	}

	name := "results"
	if class != "" {
		name += "_" + strings.Map(safeFileRune, class)
	}
	name += "_" + h.now().UTC().Format("20060102") + ".xlsx"

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// InstructorResults lists the attempts recorded for the instructor's own class.
func (h *Handler) InstructorResults(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
		return
	}
	items, err := h.svc.AllForClass(r.Context(), user.ClassLevel)
	if err != nil {
		h.internalError(w, r, "list class results", err)
		return
	}
	h.view.Render(w, r, http.StatusOK, "instructor_results", view.Page{
		Title: "Class results",
		User:  user,
		Data:  historyData{Results: items},
	})
}

// ParentDashboard shows the linked child's history.
func (h *Handler) ParentDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
		return
	}
	h.renderParent(w, r, user, http.StatusOK, "", nil)
}

// ParentLookup accepts a pupil username but only answers for the parent's linked child.
func (h *Handler) ParentLookup(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	lookup := strings.TrimSpace(r.PostFormValue("pupil_username"))
	if lookup == "" {
		h.renderParent(w, r, user, http.StatusBadRequest, lookup, &view.Flash{Kind: view.FlashError, Message: "Enter your child's username"})
		return
	}

	pupil, err := h.users.GetUserByUsername(r.Context(), lookup)
	if err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		h.internalError(w, r, "lookup pupil", err)
		return
	}
	if pupil == nil || user.ChildID == nil || pupil.ID != *user.ChildID {
		slog.WarnContext(r.Context(), "parent lookup refused", "user_id", user.ID, "lookup", lookup)
		h.renderParent(w, r, user, http.StatusForbidden, lookup, &view.Flash{Kind: view.FlashError, Message: "You can only view results for your own child"})
		return
	}
	h.renderParent(w, r, user, http.StatusOK, lookup, nil)
}

func (h *Handler) renderParent(w http.ResponseWriter, r *http.Request, user *auth.User, status int, lookup string, flash *view.Flash) {
	data := parentData{Lookup: lookup}
	if user.ChildID != nil {
		child, err := h.users.GetUser(r.Context(), *user.ChildID)
		if err != nil {
			h.internalError(w, r, "load child", err)
			return
		}
		items, err := h.svc.AllFor(r.Context(), child.ID)
		if err != nil {
			h.internalError(w, r, "list child results", err)
			return
		}
		data.Child = child
		data.Results = items
	}
	h.view.Render(w, r, status, "parent", view.Page{
		Title: "Parent dashboard",
		User:  user,
		Flash: flash,
		Data:  data,
	})
}

func (h *Handler) APILatest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	pupilID, ok := h.subjectPupil(user)
	if !ok {
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	res, err := h.svc.LatestFor(r.Context(), pupilID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "no result yet")
			return
		}
		slog.ErrorContext(r.Context(), "latest result", "user_id", user.ID, "err", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

// APIList scopes the listing by role: pupils see their own attempts, parents their child's,
// instructors their class and admins everything or ?class=.
func (h *Handler) APIList(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var (
		items []Result
		err   error
	)
	switch user.Role {
	case auth.RoleAdmin:
		if class := strings.TrimSpace(r.URL.Query().Get("class")); class != "" {
			items, err = h.svc.AllForClass(r.Context(), class)
		} else {
			items, err = h.svc.All(r.Context())
		}
	case auth.RoleInstructor:
		items, err = h.svc.AllForClass(r.Context(), user.ClassLevel)
	case auth.RolePupil, auth.RoleParent:
		pupilID, ok := h.subjectPupil(user)
		if !ok {
			apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		items, err = h.svc.AllFor(r.Context(), pupilID)
	default:
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "list results", "user_id", user.ID, "err", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

// subjectPupil resolves whose results a pupil or parent may read.
func (h *Handler) subjectPupil(user *auth.User) (int64, bool) {
	switch user.Role {
	case auth.RolePupil:
		return user.ID, true
	case auth.RoleParent:
		if user.ChildID == nil {
			return 0, false
		}
		return *user.ChildID, true
	case auth.RoleAdmin, auth.RoleInstructor:
		return 0, false
	default:
		return 0, false
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.ErrorContext(r.Context(), msg, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func safeFileRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		return r
	default:
		return '_'
	}
}

package result

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"cbtportal/internal/auth"
	"cbtportal/internal/report"
	"cbtportal/internal/view/viewtest"
)

type mockResultService struct {
	latestFn      func(ctx context.Context, pupilID int64) (*Result, error)
	allForFn      func(ctx context.Context, pupilID int64) ([]Result, error)
	allForClassFn func(ctx context.Context, level string) ([]Result, error)
	allFn         func(ctx context.Context) ([]Result, error)
	exportFn      func(ctx context.Context, level string) ([]byte, error)
}

func (m *mockResultService) LatestFor(ctx context.Context, pupilID int64) (*Result, error) {
	if m.latestFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.latestFn(ctx, pupilID)
}

func (m *mockResultService) AllFor(ctx context.Context, pupilID int64) ([]Result, error) {
	if m.allForFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.allForFn(ctx, pupilID)
}

func (m *mockResultService) AllForClass(ctx context.Context, level string) ([]Result, error) {
	if m.allForClassFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.allForClassFn(ctx, level)
}

func (m *mockResultService) All(ctx context.Context) ([]Result, error) {
	if m.allFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.allFn(ctx)
}

func (m *mockResultService) ExportExcel(ctx context.Context, level string) ([]byte, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(ctx, level)
}

type mockDirectory struct {
	users map[string]*auth.User
}

func (m *mockDirectory) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *mockDirectory) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	if u, ok := m.users[username]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

func (m *mockDirectory) ListUsers(ctx context.Context) ([]auth.User, error) {
	out := make([]auth.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

type mockSummarizer struct{}

func (mockSummarizer) SummaryByClass(ctx context.Context) ([]report.ClassSummary, error) {
	return []report.ClassSummary{{ClassLevel: "JSS1", Participants: 1, Attempts: 2, AverageScore: 12.5, HighestScore: 15, LowestScore: 10}}, nil
}

var (
	childID   = int64(4)
	kid       = &auth.User{ID: 4, Username: "kid", Role: auth.RolePupil, ClassLevel: "JSS1"}
	otherKid  = &auth.User{ID: 5, Username: "other", Role: auth.RolePupil, ClassLevel: "JSS1"}
	parent    = &auth.User{ID: 6, Username: "mum", Role: auth.RoleParent, ChildID: &childID}
	directory = &mockDirectory{users: map[string]*auth.User{"kid": kid, "other": otherKid, "mum": parent}}
)

func withUser(r *http.Request, u *auth.User) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), u))
}

func historyFor(ids ...int64) func(ctx context.Context, pupilID int64) ([]Result, error) {
	return func(ctx context.Context, pupilID int64) ([]Result, error) {
		for _, id := range ids {
			if id == pupilID {
				return []Result{{ID: 1, PupilID: pupilID, Username: "kid", Score: 16, Total: 20, Comment: "Very Good", ClassLevel: "JSS1"}}, nil
			}
		}
		return []Result{}, nil
	}
}

func TestParentDashboardShowsLinkedChild(t *testing.T) {
	h := NewHandler(&mockResultService{allForFn: historyFor(4)}, directory, mockSummarizer{}, viewtest.New(t))

	w := httptest.NewRecorder()
	h.ParentDashboard(w, withUser(httptest.NewRequest(http.MethodGet, "/parent", nil), parent))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Very Good") {
		t.Fatalf("expected child's results in page")
	}
}

func TestParentLookupOnlyLinkedChild(t *testing.T) {
	tests := []struct {
		name   string
		lookup string
		want   int
	}{
		{name: "linked child", lookup: "kid", want: http.StatusOK},
		{name: "another pupil", lookup: "other", want: http.StatusForbidden},
		{name: "unknown pupil", lookup: "ghost", want: http.StatusForbidden},
		{name: "empty", lookup: "", want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockResultService{
				allForFn: func(ctx context.Context, pupilID int64) ([]Result, error) {
					if pupilID != 4 {
						t.Fatalf("parent must only read the linked child, got pupil %d", pupilID)
					}
					return nil, nil
				},
			}, directory, mockSummarizer{}, viewtest.New(t))

			form := url.Values{"pupil_username": {tc.lookup}}
			req := httptest.NewRequest(http.MethodPost, "/parent", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			h.ParentLookup(w, withUser(req, parent))

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestAdminDashboardFiltersByClass(t *testing.T) {
	var gotLevel string
	h := NewHandler(&mockResultService{
		allForClassFn: func(ctx context.Context, level string) ([]Result, error) {
			gotLevel = level
			return []Result{{ID: 2, Username: "kid", Score: 15, Total: 20, Comment: "Very Good", ClassLevel: level}}, nil
		},
		allFn: func(ctx context.Context) ([]Result, error) {
			t.Fatalf("All must not be called when ?class= is set")
			return nil, nil
		},
	}, directory, mockSummarizer{}, viewtest.New(t))

	w := httptest.NewRecorder()
	h.AdminDashboard(w, httptest.NewRequest(http.MethodGet, "/admin?class=JSS1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotLevel != "JSS1" {
		t.Fatalf("expected class filter JSS1, got %q", gotLevel)
	}
	body := w.Body.String()
	if !strings.Contains(body, "12.5") || !strings.Contains(body, "mum") {
		t.Fatalf("expected summaries and accounts in page")
	}
}

func TestExportExcelHeaders(t *testing.T) {
	h := NewHandler(&mockResultService{
		exportFn: func(ctx context.Context, level string) ([]byte, error) {
			if level != "JSS 1" {
				t.Fatalf("unexpected level %q", level)
			}
			return []byte("xlsx"), nil
		},
	}, directory, mockSummarizer{}, viewtest.New(t))

	w := httptest.NewRecorder()
	h.ExportExcel(w, httptest.NewRequest(http.MethodGet, "/admin/results.xlsx?class=JSS+1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "results_JSS_1_") {
		t.Fatalf("unexpected disposition %q", cd)
	}
}

func TestLatestWithoutResult(t *testing.T) {
	h := NewHandler(&mockResultService{
		latestFn: func(ctx context.Context, pupilID int64) (*Result, error) { return nil, ErrNotFound },
	}, directory, mockSummarizer{}, viewtest.New(t))

	w := httptest.NewRecorder()
	h.Latest(w, withUser(httptest.NewRequest(http.MethodGet, "/result", nil), kid))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "not taken an exam") {
		t.Fatalf("expected empty result page, got %d", w.Code)
	}
}

func TestAPIListScopesByRole(t *testing.T) {
	var calls []string
	svc := &mockResultService{
		allForFn: func(ctx context.Context, pupilID int64) ([]Result, error) {
			calls = append(calls, "pupil")
			if pupilID != 4 {
				t.Fatalf("unexpected pupil %d", pupilID)
			}
			return []Result{}, nil
		},
		allForClassFn: func(ctx context.Context, level string) ([]Result, error) {
			calls = append(calls, "class:"+level)
			return []Result{}, nil
		},
		allFn: func(ctx context.Context) ([]Result, error) {
			calls = append(calls, "all")
			return []Result{}, nil
		},
	}
	h := NewHandler(svc, directory, mockSummarizer{}, viewtest.New(t))

	users := []*auth.User{
		kid,
		parent,
		{ID: 8, Role: auth.RoleInstructor, ClassLevel: "JSS2"},
		{ID: 9, Role: auth.RoleAdmin},
	}
	for _, u := range users {
		w := httptest.NewRecorder()
		h.APIList(w, withUser(httptest.NewRequest(http.MethodGet, "/api/v1/results", nil), u))
		if w.Code != http.StatusOK {
			t.Fatalf("role %s: expected 200, got %d", u.Role, w.Code)
		}
	}

	want := []string{"pupil", "pupil", "class:JSS2", "all"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls %v, want %v", calls, want)
	}
}

func TestAPILatestParentWithoutChild(t *testing.T) {
	h := NewHandler(&mockResultService{}, directory, mockSummarizer{}, viewtest.New(t))

	w := httptest.NewRecorder()
	h.APILatest(w, withUser(httptest.NewRequest(http.MethodGet, "/api/v1/results/latest", nil), &auth.User{ID: 10, Role: auth.RoleParent}))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

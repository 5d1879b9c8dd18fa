package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"cbtportal/internal/view/viewtest"
)

type mockAuthService struct {
	signupFn       func(ctx context.Context, in SignupInput) (*User, error)
	authenticateFn func(ctx context.Context, username, password string) (*User, error)
	createFn       func(ctx context.Context, userID int64, ip, ua string) (string, time.Time, error)
	sessionUserFn  func(ctx context.Context, token string) (*User, error)
	revokeFn       func(ctx context.Context, token string) error
}

func (m *mockAuthService) Signup(ctx context.Context, in SignupInput) (*User, error) {
	if m.signupFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.signupFn(ctx, in)
}

func (m *mockAuthService) AuthenticatePassword(ctx context.Context, username, password string) (*User, error) {
	if m.authenticateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.authenticateFn(ctx, username, password)
}

func (m *mockAuthService) CreateSession(ctx context.Context, userID int64, ip, ua string) (string, time.Time, error) {
	if m.createFn == nil {
		return "tok", time.Now().Add(time.Hour), nil
	}
	return m.createFn(ctx, userID, ip, ua)
}

func (m *mockAuthService) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if m.sessionUserFn == nil {
		return nil, ErrUnauthorized
	}
	return m.sessionUserFn(ctx, token)
}

func (m *mockAuthService) RevokeSession(ctx context.Context, token string) error {
	if m.revokeFn == nil {
		return nil
	}
	return m.revokeFn(ctx, token)
}

func newTestHandler(t *testing.T, svc authService) *Handler {
	t.Helper()
	return NewHandler(svc, viewtest.New(t), HandlerConfig{})
}

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginRedirectsToRoleLanding(t *testing.T) {
	for _, role := range Roles {
		t.Run(role.String(), func(t *testing.T) {
			h := newTestHandler(t, &mockAuthService{
				authenticateFn: func(ctx context.Context, username, password string) (*User, error) {
					if username != "ada" || password != "secret1" {
						t.Fatalf("unexpected credentials %q %q", username, password)
					}
					return &User{ID: 7, Username: username, Role: role}, nil
				},
				createFn: func(ctx context.Context, userID int64, ip, ua string) (string, time.Time, error) {
					if userID != 7 {
						t.Fatalf("unexpected user id %d", userID)
					}
					return "session-token", time.Now().Add(time.Hour), nil
				},
			})

			w := httptest.NewRecorder()
			h.Login(w, postForm("/login", url.Values{"username": {"ada"}, "password": {"secret1"}}))

			if w.Code != http.StatusSeeOther {
				t.Fatalf("expected 303, got %d", w.Code)
			}
			if loc := w.Header().Get("Location"); loc != role.LandingPath() {
				t.Fatalf("expected redirect to %s, got %s", role.LandingPath(), loc)
			}
			c := findCookie(w, sessionCookieName)
			if c == nil || c.Value != "session-token" || !c.HttpOnly {
				t.Fatalf("expected http-only session cookie, got %+v", c)
			}
		})
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newTestHandler(t, &mockAuthService{
		authenticateFn: func(ctx context.Context, username, password string) (*User, error) {
			return nil, ErrInvalidCredentials
		},
	})

	w := httptest.NewRecorder()
	h.Login(w, postForm("/login", url.Values{"username": {"ada"}, "password": {"bad"}}))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid login details") {
		t.Fatalf("expected error message in body")
	}
	if findCookie(w, sessionCookieName) != nil {
		t.Fatalf("no session cookie expected on failure")
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newTestHandler(t, &mockAuthService{
		authenticateFn: func(ctx context.Context, username, password string) (*User, error) {
			return nil, ErrRateLimited
		},
	})

	w := httptest.NewRecorder()
	h.Login(w, postForm("/login", url.Values{"username": {"ada"}, "password": {"bad"}}))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestSignupDuplicateRerenders(t *testing.T) {
	h := newTestHandler(t, &mockAuthService{
		signupFn: func(ctx context.Context, in SignupInput) (*User, error) {
			if in.Role != "pupil" || in.ClassLevel != "JSS1" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return nil, ErrDuplicateUsername
		},
	})

	w := httptest.NewRecorder()
	h.Signup(w, postForm("/signup", url.Values{
		"username":    {"ada"},
		"password":    {"secret1"},
		"role":        {"pupil"},
		"class_level": {"JSS1"},
	}))

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "already taken") {
		t.Fatalf("expected duplicate message in body")
	}
}

func TestSignupSuccessRedirectsToLogin(t *testing.T) {
	h := newTestHandler(t, &mockAuthService{
		signupFn: func(ctx context.Context, in SignupInput) (*User, error) {
			return &User{ID: 1, Username: in.Username, Role: RoleAdmin}, nil
		},
	})

	w := httptest.NewRecorder()
	h.Signup(w, postForm("/signup", url.Values{"username": {"root"}, "password": {"secret1"}, "role": {"admin"}}))

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
		t.Fatalf("expected 303 to /login, got %d %s", w.Code, w.Header().Get("Location"))
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	var revoked []string
	h := newTestHandler(t, &mockAuthService{
		revokeFn: func(ctx context.Context, token string) error {
			revoked = append(revoked, token)
			return nil
		},
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/logout", nil)
		if i == 0 {
			req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "abc"})
		}
		w := httptest.NewRecorder()
		h.Logout(w, req)

		if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
			t.Fatalf("expected 303 to /, got %d %s", w.Code, w.Header().Get("Location"))
		}
		c := findCookie(w, sessionCookieName)
		if c == nil || c.MaxAge >= 0 {
			t.Fatalf("expected cleared session cookie, got %+v", c)
		}
	}
	if len(revoked) != 2 || revoked[0] != "abc" || revoked[1] != "" {
		t.Fatalf("unexpected revoke calls: %v", revoked)
	}
}

func TestLoadSessionAttachesUser(t *testing.T) {
	h := newTestHandler(t, &mockAuthService{
		sessionUserFn: func(ctx context.Context, token string) (*User, error) {
			if token != "abc" {
				return nil, ErrUnauthorized
			}
			return &User{ID: 3, Role: RolePupil}, nil
		},
	})

	var seen *User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CurrentUser(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/pupil", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "abc"})
	h.LoadSession(next).ServeHTTP(httptest.NewRecorder(), req)
	if seen == nil || seen.ID != 3 {
		t.Fatalf("expected user in context, got %+v", seen)
	}

	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/pupil", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "stale"})
	h.LoadSession(next).ServeHTTP(httptest.NewRecorder(), req)
	if seen != nil {
		t.Fatalf("expected anonymous request for stale token")
	}
}

func TestRequireRole(t *testing.T) {
	h := newTestHandler(t, &mockAuthService{})
	called := false
	guarded := h.RequireRole(RoleInstructor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	tests := []struct {
		name       string
		user       *User
		wantCalled bool
	}{
		{name: "anonymous", user: nil, wantCalled: false},
		{name: "wrong role", user: &User{ID: 1, Role: RolePupil}, wantCalled: false},
		{name: "matching role", user: &User{ID: 2, Role: RoleInstructor}, wantCalled: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodGet, "/instructor", nil)
			if tc.user != nil {
				req = req.WithContext(ContextWithUser(req.Context(), tc.user))
			}
			w := httptest.NewRecorder()
			guarded.ServeHTTP(w, req)

			if called != tc.wantCalled {
				t.Fatalf("called=%v, want %v", called, tc.wantCalled)
			}
			if !tc.wantCalled {
				if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
					t.Fatalf("expected 303 to /login, got %d %s", w.Code, w.Header().Get("Location"))
				}
			}
		})
	}
}

func TestRequireRolesJSON(t *testing.T) {
	h := newTestHandler(t, &mockAuthService{})
	guarded := h.RequireRoles(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results", nil)
	w := httptest.NewRecorder()
	guarded.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 1, Role: RoleParent}))
	w = httptest.NewRecorder()
	guarded.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 1, Role: RoleAdmin}))
	w = httptest.NewRecorder()
	guarded.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestAPILogin(t *testing.T) {
	h := newTestHandler(t, &mockAuthService{
		authenticateFn: func(ctx context.Context, username, password string) (*User, error) {
			if password != "secret1" {
				return nil, ErrInvalidCredentials
			}
			return &User{ID: 5, Username: username, Role: RolePupil, ClassLevel: "JSS1"}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"username":"ada","password":"secret1"}`)))
	w := httptest.NewRecorder()
	h.APILogin(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		OK   bool `json:"ok"`
		Data User `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Data.Role != RolePupil || body.Data.ClassLevel != "JSS1" {
		t.Fatalf("unexpected body: %+v", body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"username":"ada","password":"bad"}`)))
	w = httptest.NewRecorder()
	h.APILogin(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMeRequiresUser(t *testing.T) {
	h := newTestHandler(t, &mockAuthService{})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 9, Username: "ada", Role: RoleAdmin}))
	w = httptest.NewRecorder()
	h.Me(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"role":"admin"`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

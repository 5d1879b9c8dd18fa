package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cbtportal/internal/app/apiresp"
	"cbtportal/internal/view"
)

type contextKey string

const userContextKey contextKey = "auth_user"

const sessionCookieName = "cbtportal_session"

type authService interface {
	Signup(ctx context.Context, in SignupInput) (*User, error)
	AuthenticatePassword(ctx context.Context, username, password string) (*User, error)
	CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error)
	GetSessionUser(ctx context.Context, token string) (*User, error)
	RevokeSession(ctx context.Context, token string) error
}

type Handler struct {
	svc          authService
	view         *view.Renderer
	cookieSecure bool
}

type HandlerConfig struct {
	CookieSecure bool
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type formPage struct {
	Username   string
	Role       string
	ClassLevel string
	Child      string
	Roles      []Role
}

func NewHandler(svc authService, renderer *view.Renderer, cfg HandlerConfig) *Handler {
	return &Handler{svc: svc, view: renderer, cookieSecure: cfg.CookieSecure}
}

func (h *Handler) SignupPage(w http.ResponseWriter, r *http.Request) {
	h.view.Render(w, r, http.StatusOK, "signup", view.Page{
		Title: "Sign up",
		Data:  formPage{Roles: Roles},
	})
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	in := SignupInput{
		Username:      r.PostFormValue("username"),
		Password:      r.PostFormValue("password"),
		Role:          r.PostFormValue("role"),
		ClassLevel:    r.PostFormValue("class_level"),
		ChildUsername: r.PostFormValue("child_username"),
	}

	_, err := h.svc.Signup(r.Context(), in)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Could not create the account, please try again"
		switch {
		case errors.Is(err, ErrDuplicateUsername):
			status, msg = http.StatusConflict, "That username is already taken"
		case errors.Is(err, ErrInvalidInput):
			status, msg = http.StatusBadRequest, capitalize(strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": "))
		default:
			slog.ErrorContext(r.Context(), "signup failed", "err", err)
		}
		h.view.Render(w, r, status, "signup", view.Page{
			Title: "Sign up",
			Flash: &view.Flash{Kind: view.FlashError, Message: msg},
			Data: formPage{
				Username:   in.Username,
				Role:       in.Role,
				ClassLevel: in.ClassLevel,
				Child:      in.ChildUsername,
				Roles:      Roles,
			},
		})
		return
	}

	view.Redirect(w, r, "/login", view.FlashInfo, "Account created successfully. Please log in.")
}

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if u, ok := CurrentUser(r.Context()); ok {
		http.Redirect(w, r, u.Role.LandingPath(), http.StatusSeeOther)
		return
	}
	h.view.Render(w, r, http.StatusOK, "login", view.Page{Title: "Log in"})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")

	user, err := h.svc.AuthenticatePassword(r.Context(), username, r.PostFormValue("password"))
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Login failed, please try again"
		switch {
		case errors.Is(err, ErrRateLimited):
			status, msg = http.StatusTooManyRequests, "Too many failed attempts. Try again later."
		case errors.Is(err, ErrInvalidCredentials):
			status, msg = http.StatusUnauthorized, "Invalid login details"
		default:
			slog.ErrorContext(r.Context(), "login failed", "err", err)
		}
		h.view.Render(w, r, status, "login", view.Page{
			Title: "Log in",
			Flash: &view.Flash{Kind: view.FlashError, Message: msg},
			Data:  formPage{Username: strings.TrimSpace(username)},
		})
		return
	}

	if err := h.establishSession(w, r, user); err != nil {
		slog.ErrorContext(r.Context(), "create session", "user_id", user.ID, "err", err)
		http.Error(w, "cannot create session", http.StatusInternalServerError)
		return
	}
	slog.InfoContext(r.Context(), "user logged in", "user_id", user.ID, "role", user.Role.String())
	http.Redirect(w, r, user.Role.LandingPath(), http.StatusSeeOther)
}

// Logout always succeeds, even without a live session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RevokeSession(r.Context(), readSessionToken(r)); err != nil {
		slog.ErrorContext(r.Context(), "revoke session", "err", err)
	}
	h.clearSessionCookie(w)
	view.Redirect(w, r, "/", view.FlashInfo, "You have been logged out.")
}

func (h *Handler) APILogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.svc.AuthenticatePassword(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrRateLimited):
			apiresp.WriteError(w, r, http.StatusTooManyRequests, "too many attempts")
		case errors.Is(err, ErrInvalidCredentials):
			apiresp.WriteError(w, r, http.StatusUnauthorized, "invalid credentials")
		default:
			slog.ErrorContext(r.Context(), "api login failed", "err", err)
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if err := h.establishSession(w, r, user); err != nil {
		slog.ErrorContext(r.Context(), "create session", "user_id", user.ID, "err", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "cannot create session")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

func (h *Handler) APILogout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RevokeSession(r.Context(), readSessionToken(r)); err != nil {
		slog.ErrorContext(r.Context(), "revoke session", "err", err)
	}
	h.clearSessionCookie(w)
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

// LoadSession attaches the session user, if any, without rejecting anonymous requests.
func (h *Handler) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := readSessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.svc.GetSessionUser(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				slog.ErrorContext(r.Context(), "load session", "err", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// RequireRole guards server-rendered pages. Anonymous users and users of another role
// are sent to the login page.
func (h *Handler) RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				view.Redirect(w, r, "/login", view.FlashError, "Please log in to continue.")
				return
			}
			if user.Role != role {
				slog.WarnContext(r.Context(), "role mismatch", "user_id", user.ID, "role", user.Role.String(), "required", role.String())
				view.Redirect(w, r, "/login", view.FlashError, "You do not have access to that page.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.svc.GetSessionUser(r.Context(), readSessionToken(r))
		if err != nil {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, exists := allowed[user.Role]; !exists {
				apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey).(*User)
	return u, ok && u != nil
}

// ContextWithUser injects an authenticated user into context.
// Useful for tests and internal handlers.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func (h *Handler) establishSession(w http.ResponseWriter, r *http.Request, user *User) error {
	token, expiresAt, err := h.svc.CreateSession(r.Context(), user.ID, readIP(r), r.UserAgent())
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func readSessionToken(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func readIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

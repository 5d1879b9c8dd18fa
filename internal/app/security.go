package app

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"cbtportal/internal/app/apiresp"
	"cbtportal/internal/view"

	"github.com/google/uuid"
)

const (
	csrfCookieName = "cbtportal_csrf"
	csrfHeaderName = "X-CSRF-Token"
	csrfFormField  = "csrf_token"
)

type rateBucket struct {
	Count      int
	WindowEnds time.Time
}

// IPRateLimiter is a fixed-window counter keyed by caller.
type IPRateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	store  map[string]rateBucket
	now    func() time.Time
}

func NewIPRateLimiter(max int, window time.Duration) *IPRateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &IPRateLimiter{
		max:    max,
		window: window,
		store:  make(map[string]rateBucket),
		now:    time.Now,
	}
}

func (l *IPRateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.store[key]
	if now.After(b.WindowEnds) {
		b = rateBucket{Count: 0, WindowEnds: now.Add(l.window)}
	}
	if b.Count >= l.max {
		l.store[key] = b
		return false
	}
	b.Count++
	l.store[key] = b

	if len(l.store) > 10000 {
		l.sweep(now)
	}
	return true
}

// sweep drops expired buckets. Caller holds l.mu.
func (l *IPRateLimiter) sweep(now time.Time) {
	for k, b := range l.store {
		if now.After(b.WindowEnds) {
			delete(l.store, k)
		}
	}
}

// RateLimitMiddleware throttles credential endpoints per client address and path.
func RateLimitMiddleware(l *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := strings.TrimSpace(r.RemoteAddr)
			key := ip + "|" + r.Method + "|" + r.URL.Path
			if !l.Allow(key) {
				slog.WarnContext(r.Context(), "rate limit exceeded", "remote_ip", ip, "path", r.URL.Path)
				if isAPIRequest(r) {
					apiresp.WriteError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
					return
				}
				http.Error(w, "Too many requests, please wait a minute and try again.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRFMiddleware issues a double-submit token cookie and exposes it to templates.
// When enforced, unsafe methods must echo the cookie value in the csrf_token form
// field or the X-CSRF-Token header.
func CSRFMiddleware(enforced bool, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if c, err := r.Cookie(csrfCookieName); err == nil {
				token = strings.TrimSpace(c.Value)
			}
			if token == "" {
				token = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			r = r.WithContext(view.WithCSRFToken(r.Context(), token))

			if !enforced {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			sent := strings.TrimSpace(r.Header.Get(csrfHeaderName))
			if sent == "" {
				sent = strings.TrimSpace(r.PostFormValue(csrfFormField))
			}
			if sent == "" || subtle.ConstantTimeCompare([]byte(sent), []byte(token)) != 1 {
				slog.WarnContext(r.Context(), "csrf token rejected", "path", r.URL.Path)
				if isAPIRequest(r) {
					apiresp.WriteError(w, r, http.StatusForbidden, "csrf token invalid")
					return
				}
				http.Error(w, "Your form has expired, please reload the page and try again.", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

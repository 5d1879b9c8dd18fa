package app

import (
	"context"
	"database/sql"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"cbtportal/internal/app/observability"
	"cbtportal/internal/auth"
	"cbtportal/internal/exam"
	"cbtportal/internal/question"
	"cbtportal/internal/report"
	"cbtportal/internal/result"
	"cbtportal/internal/view"
	"cbtportal/web"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires services, handlers and middleware onto one chi router.
func NewRouter(cfg Config, db *sql.DB) (http.Handler, error) {
	renderer, err := view.New()
	if err != nil {
		return nil, err
	}
	renderer.CurrentUser = func(ctx context.Context) any {
		if u, ok := auth.CurrentUser(ctx); ok {
			return u
		}
		return nil
	}

	static, err := fs.Sub(web.FS, "static")
	if err != nil {
		return nil, err
	}

	authSvc := auth.NewService(db, auth.ServiceConfig{SessionTTL: cfg.SessionTTL})
	authHandler := auth.NewHandler(authSvc, renderer, auth.HandlerConfig{CookieSecure: cfg.CookieSecure})

	questionSvc := question.NewService(db)
	questionHandler := question.NewHandler(questionSvc, renderer)

	resultSvc := result.NewService(db)
	reportSvc := report.NewService(db)
	resultHandler := result.NewHandler(resultSvc, authSvc, reportSvc, renderer)
	reportHandler := report.NewHandler(reportSvc)

	examSvc := exam.NewService(questionSvc, resultSvc, cfg.BandPolicy)
	examHandler := exam.NewHandler(examSvc, renderer)

	collector := observability.NewCollector(db, slog.Default())
	limiter := RateLimitMiddleware(NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(authHandler.LoadSession)
	r.Use(collector.Middleware)
	r.Use(CSRFMiddleware(cfg.CSRFEnforced, cfg.CookieSecure))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			slog.ErrorContext(r.Context(), "health check", "err", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ok":false}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		renderer.Render(w, r, http.StatusOK, "index", view.Page{Title: "Welcome"})
	})

	r.Get("/signup", authHandler.SignupPage)
	r.With(limiter).Post("/signup", authHandler.Signup)
	r.Get("/login", authHandler.LoginPage)
	r.With(limiter).Post("/login", authHandler.Login)
	r.Get("/logout", authHandler.Logout)
	r.Post("/logout", authHandler.Logout)

	r.Group(func(admin chi.Router) {
		admin.Use(authHandler.RequireRole(auth.RoleAdmin))
		admin.Get("/admin", resultHandler.AdminDashboard)
		admin.Get("/admin/results.xlsx", resultHandler.ExportExcel)
		admin.Get("/metrics", collector.MetricsHandler)
	})

	r.Group(func(instructor chi.Router) {
		instructor.Use(authHandler.RequireRole(auth.RoleInstructor))
		instructor.Get("/instructor", questionHandler.Dashboard)
		instructor.Post("/instructor", questionHandler.Add)
		instructor.Get("/instructor/results", resultHandler.InstructorResults)
	})

	r.Group(func(pupil chi.Router) {
		pupil.Use(authHandler.RequireRole(auth.RolePupil))
		pupil.Get("/pupil", resultHandler.PupilDashboard)
		pupil.Get("/result", resultHandler.Latest)
		pupil.Get("/exam", examHandler.Page)
		pupil.Post("/exam", examHandler.Submit)
		pupil.Get("/exam/{level}", examHandler.Page)
		pupil.Post("/exam/{level}", examHandler.Submit)
	})

	r.Group(func(parent chi.Router) {
		parent.Use(authHandler.RequireRole(auth.RoleParent))
		parent.Get("/parent", resultHandler.ParentDashboard)
		parent.Post("/parent", resultHandler.ParentLookup)
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", csrfHeaderName},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		api.With(limiter).Post("/auth/login", authHandler.APILogin)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.APILogout)
			secure.Get("/results", resultHandler.APIList)
			secure.Get("/results/latest", resultHandler.APILatest)

			secure.Group(func(pupil chi.Router) {
				pupil.Use(authHandler.RequireRoles(auth.RolePupil))
				pupil.Get("/exam", examHandler.APIExam)
				pupil.Post("/exam/submit", examHandler.APISubmit)
			})

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin, auth.RoleInstructor))
				admin.Get("/reports/classes", reportHandler.Summary)
			})
		})
	})

	return r, nil
}

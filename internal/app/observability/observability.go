// Package observability logs every request as a structured slog record and keeps
// in-process counters that the admin-only /metrics page exposes as plain text.
package observability

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cbtportal/internal/auth"

	"github.com/go-chi/chi/v5/middleware"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

type Collector struct {
	db     *sql.DB
	logger *slog.Logger

	mu           sync.RWMutex
	requestStats map[key]stat
	startedAt    time.Time
}

// NewCollector uses slog.Default when logger is nil. db may be nil.
func NewCollector(db *sql.DB, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		db:           db,
		logger:       logger,
		requestStats: make(map[key]stat),
		startedAt:    time.Now(),
	}
}

// Middleware must run after the session loader so the user is visible in context.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		attrs := []slog.Attr{
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Float64("latency_ms", latencyMS),
			slog.String("remote_ip", strings.TrimSpace(r.RemoteAddr)),
		}
		if u, ok := auth.CurrentUser(r.Context()); ok {
			attrs = append(attrs, slog.Int64("user_id", u.ID), slog.String("role", u.Role.String()))
		}
		if level := examLevel(r.URL.Path); level != "" {
			attrs = append(attrs, slog.String("class_level", level))
		}

		lvl := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			lvl = slog.LevelError
		}
		c.logger.LogAttrs(r.Context(), lvl, "http_request", attrs...)
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# cbtportal observability metrics\n")
	sb.WriteString("# TYPE cbtportal_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "cbtportal_uptime_seconds %.0f\n", time.Since(startedAt).Seconds())

	sb.WriteString("# TYPE cbtportal_http_requests_total counter\n")
	sb.WriteString("# TYPE cbtportal_http_request_latency_ms_sum counter\n")
	sb.WriteString("# TYPE cbtportal_http_request_latency_ms_avg gauge\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=%q,path=%q,status=\"%d\"", k.Method, k.Path, k.Status)
		fmt.Fprintf(&sb, "cbtportal_http_requests_total{%s} %d\n", labels, s.Count)
		fmt.Fprintf(&sb, "cbtportal_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS)
		avg := 0.0
		if s.Count > 0 {
			avg = s.LatencyMS / float64(s.Count)
		}
		fmt.Fprintf(&sb, "cbtportal_http_request_latency_ms_avg{%s} %.3f\n", labels, avg)
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE cbtportal_db_open_connections gauge\n")
		fmt.Fprintf(&sb, "cbtportal_db_open_connections %d\n", dbs.OpenConnections)
		sb.WriteString("# TYPE cbtportal_db_in_use_connections gauge\n")
		fmt.Fprintf(&sb, "cbtportal_db_in_use_connections %d\n", dbs.InUse)
		sb.WriteString("# TYPE cbtportal_db_idle_connections gauge\n")
		fmt.Fprintf(&sb, "cbtportal_db_idle_connections %d\n", dbs.Idle)
		sb.WriteString("# TYPE cbtportal_db_wait_count counter\n")
		fmt.Fprintf(&sb, "cbtportal_db_wait_count %d\n", dbs.WaitCount)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// normalizedPath folds numeric ids and exam class levels so label cardinality stays bounded.
func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
			continue
		}
		if i > 0 && parts[i-1] == "exam" && p != "submit" {
			parts[i] = "{level}"
		}
	}
	return strings.Join(parts, "/")
}

// examLevel returns the class level of an /exam/{level} page, if any.
func examLevel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 2 && parts[0] == "exam" && parts[1] != "" {
		return parts[1]
	}
	return ""
}

package view

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"cbtportal/web"
)

type Page struct {
	Title     string
	User      any
	Flash     *Flash
	CSRFToken string
	Data      any
}

type Renderer struct {
	pages map[string]*template.Template

	// CurrentUser supplies Page.User when a handler leaves it empty.
	CurrentUser func(ctx context.Context) any
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"inc":   func(i int) int { return i + 1 },
}

// New parses the embedded layout once per page so every page can define its own "content".
func New() (*Renderer, error) {
	return NewFromFS(web.FS)
}

func NewFromFS(fsys fs.FS) (*Renderer, error) {
	base, err := template.New("base").Funcs(funcs).ParseFS(fsys, "templates/layout/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	files, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("glob pages: %w", err)
	}

	pages := make(map[string]*template.Template, len(files))
	for _, f := range files {
		t, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout: %w", err)
		}
		if _, err := t.ParseFS(fsys, f); err != nil {
			return nil, fmt.Errorf("parse page %s: %w", f, err)
		}
		pages[strings.TrimSuffix(path.Base(f), ".html")] = t
	}
	return &Renderer{pages: pages}, nil
}

// Render writes the named page. A pending flash message and the request's CSRF token are
// filled in when the caller did not set them.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, p Page) {
	t, ok := rd.pages[name]
	if !ok {
		slog.ErrorContext(r.Context(), "unknown page template", "page", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if p.User == nil && rd.CurrentUser != nil {
		p.User = rd.CurrentUser(r.Context())
	}
	if p.Flash == nil {
		p.Flash = PopFlash(w, r)
	}
	if p.CSRFToken == "" {
		p.CSRFToken = CSRFToken(r.Context())
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", p); err != nil {
		slog.ErrorContext(r.Context(), "render page", "page", name, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

type csrfKey struct{}

func WithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfKey{}, token)
}

func CSRFToken(ctx context.Context) string {
	v, _ := ctx.Value(csrfKey{}).(string)
	return v
}

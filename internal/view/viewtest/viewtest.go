// Package viewtest builds renderers over the embedded templates for handler tests.
package viewtest

import (
	"testing"

	"cbtportal/internal/view"
)

// New parses the embedded templates, failing the test when they do not parse.
func New(t testing.TB) *view.Renderer {
	t.Helper()
	r, err := view.New()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	return r
}

package view

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const flashCookieName = "cbtportal_flash"

type Flash struct {
	Kind    string
	Message string
}

const (
	FlashInfo  = "info"
	FlashError = "error"
)

// SetFlash stores a one-shot message shown by the next rendered page.
func SetFlash(w http.ResponseWriter, kind, msg string) {
	v := base64.RawURLEncoding.EncodeToString([]byte(kind + "|" + msg))
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    v,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopFlash reads and clears the pending flash message, if any.
func PopFlash(w http.ResponseWriter, r *http.Request) *Flash {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	kind, msg, ok := strings.Cut(string(raw), "|")
	if !ok || msg == "" {
		return nil
	}
	return &Flash{Kind: kind, Message: msg}
}

// Redirect sets a flash message and sends a 303 to target.
func Redirect(w http.ResponseWriter, r *http.Request, target, kind, msg string) {
	if msg != "" {
		SetFlash(w, kind, msg)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

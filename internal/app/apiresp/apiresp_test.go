package apiresp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()
	WriteOK(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, map[string]int{"score": 3})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var env struct {
		OK    bool           `json:"ok"`
		Data  map[string]int `json:"data"`
		Error *ErrorPayload  `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.OK || env.Data["score"] != 3 || env.Error != nil {
		t.Fatalf("unexpected envelope: %s", w.Body.String())
	}
}

func TestWriteErrorCodes(t *testing.T) {
	tests := []struct {
		status   int
		msg      string
		wantCode string
		wantMsg  string
	}{
		{status: http.StatusUnauthorized, msg: "unauthorized", wantCode: "unauthorized", wantMsg: "unauthorized"},
		{status: http.StatusConflict, msg: "", wantCode: "conflict", wantMsg: "Conflict"},
		{status: http.StatusTooManyRequests, msg: "slow down", wantCode: "rate_limited", wantMsg: "slow down"},
		{status: http.StatusTeapot, msg: "", wantCode: "error", wantMsg: "I'm a teapot"},
	}
	for _, tc := range tests {
		w := httptest.NewRecorder()
		WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tc.status, tc.msg)

		var env Envelope
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.OK || env.Error == nil || env.Error.Code != tc.wantCode || env.Error.Message != tc.wantMsg {
			t.Fatalf("status %d: unexpected envelope %s", tc.status, w.Body.String())
		}
	}
}

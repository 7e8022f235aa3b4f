package internal

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadBodyStrict(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"ok", `{"a":1}`, nil},
		{"empty", "", ErrEmptyBody},
		{"too large", strings.Repeat("x", 65), ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			body, err := ReadBodyStrict(httptest.NewRecorder(), req, 64, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(body) != tt.body {
				t.Errorf("body = %q", body)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w)
	WriteError(w, http.StatusBadRequest, "bad envelope")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("missing Cache-Control")
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"error":"bad envelope"}` {
		t.Errorf("body = %s", got)
	}
}

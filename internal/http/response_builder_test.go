package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spendwise/internal/classifier"
	"spendwise/internal/core"
	"spendwise/internal/services"
	"spendwise/internal/source"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Custom", "value").
		Body(map[string]int{"n": 1}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("X-Custom"); got != "value" {
		t.Errorf("X-Custom = %q", got)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"n":1}` {
		t.Errorf("Body = %q", got)
	}
}

func TestJSONResponseBuilder_NoBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(w)

	if w.Code != http.StatusNoContent {
		t.Errorf("Status code = %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "" {
		t.Error("Content-Type should not be set without a body")
	}
	if w.Body.Len() != 0 {
		t.Errorf("Body = %q, want empty", w.Body.String())
	}
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantKind   string
	}{
		{"not found", fmt.Errorf("expense 9: %w", core.ErrNotFound), http.StatusNotFound, "not_found", ""},
		{"not eligible", core.ErrNotEligible, http.StatusConflict, "not_eligible", ""},
		{"validation", fmt.Errorf("%w: bad limit", core.ErrValidation), http.StatusBadRequest, "bad_request", ""},
		{"incomplete", core.ErrIncompleteCategories, http.StatusBadRequest, "bad_request", ""},
		{"unknown channel", core.ErrUnknownChannel, http.StatusBadRequest, "bad_request", ""},
		{"unreadable", fmt.Errorf("wechat export: %w", source.ErrHeaderNotFound), http.StatusUnprocessableEntity, "unreadable_export", ""},
		{
			"classification",
			&services.ClassificationError{ExpenseID: 3, Err: &classifier.Error{Kind: classifier.KindRateLimited, Service: "deepseek", Err: errors.New("slow down")}},
			http.StatusBadGateway, "classification_failed", "rate_limited",
		},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "internal", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			errorFor(tt.err).Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantStatus)
			}
			var body errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", body.Kind, tt.wantKind)
			}
		})
	}
}

func TestErrorFor_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	errorFor(errors.New("open /var/lib/spendwise.db: permission denied")).Write(w)

	if strings.Contains(w.Body.String(), "/var/lib") {
		t.Errorf("internal error leaked: %s", w.Body.String())
	}
}

package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"spendwise/internal/core"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		name    string
		query   url.Values
		want    int // 0 means nil
		wantErr bool
	}{
		{name: "absent", query: url.Values{}},
		{name: "blank", query: url.Values{"limit": {"  "}}},
		{name: "positive", query: url.Values{"limit": {"25"}}, want: 25},
		{name: "zero", query: url.Values{"limit": {"0"}}, wantErr: true},
		{name: "negative", query: url.Values{"limit": {"-3"}}, wantErr: true},
		{name: "not a number", query: url.Values{"limit": {"ten"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLimit(tt.query)
			if tt.wantErr {
				if !errors.Is(err, core.ErrValidation) {
					t.Fatalf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == 0 {
				if got != nil {
					t.Errorf("limit = %d, want nil", *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("limit = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestParseDateRange(t *testing.T) {
	dr, err := ParseDateRange(url.Values{"start": {"2024-01-01"}, "end": {"2024-01-31"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := dr.Start.Format(core.DateLayout); got != "2024-01-01" {
		t.Errorf("start = %s", got)
	}

	for _, q := range []url.Values{
		{},
		{"start": {"2024-01-01"}},
		{"start": {"2024-02-01"}, "end": {"2024-01-01"}},
		{"start": {"01/02/2024"}, "end": {"2024-01-03"}},
	} {
		if _, err := ParseDateRange(q); !errors.Is(err, core.ErrValidation) {
			t.Errorf("ParseDateRange(%v) err = %v, want ErrValidation", q, err)
		}
	}
}

func TestParseExpenseFilter(t *testing.T) {
	q := url.Values{
		"channel":   {"支付宝"},
		"confirmed": {"false"},
		"hidden":    {"1"},
		"page":      {"2"},
		"page_size": {"10"},
		"q":         {"  星巴克\x00 "},
	}
	f, err := ParseExpenseFilter(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Channel != core.ChannelAlipay {
		t.Errorf("Channel = %q", f.Channel)
	}
	if f.Classified != nil {
		t.Error("Classified should stay nil when absent")
	}
	if f.Confirmed == nil || *f.Confirmed {
		t.Error("Confirmed should be false")
	}
	if f.Hidden == nil || !*f.Hidden {
		t.Error("Hidden should be true")
	}
	if f.Page != 2 || f.PageSize != 10 {
		t.Errorf("page = %d/%d", f.Page, f.PageSize)
	}
	if f.Query != "星巴克" {
		t.Errorf("Query = %q", f.Query)
	}

	bad := []url.Values{
		{"channel": {"paypal"}},
		{"hidden": {"maybe"}},
		{"page": {"-1"}},
	}
	for _, q := range bad {
		if _, err := ParseExpenseFilter(q); err == nil {
			t.Errorf("ParseExpenseFilter(%v) should fail", q)
		}
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "42", want: 42},
		{raw: "0", wantErr: true},
		{raw: "-7", wantErr: true},
		{raw: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.raw)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			got, err := parseID(req)
			if tt.wantErr {
				if !errors.Is(err, core.ErrValidation) {
					t.Errorf("err = %v, want ErrValidation", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("id = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"l1":"餐饮美食","l2":"外卖"}`},
		{name: "unknown field", body: `{"l1":"a","colour":"red"}`, wantErr: true},
		{name: "malformed", body: `{"l1":`, wantErr: true},
		{name: "empty", body: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tt.body))
			var dst categoriesRequest
			err := decodeJSON(req, &dst)
			if tt.wantErr {
				if !errors.Is(err, core.ErrValidation) {
					t.Errorf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dst.L1 != "餐饮美食" || dst.L2 != "外卖" {
				t.Errorf("decoded %+v", dst)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"  spaced  ", "spaced"},
		{"bell\x07char", "bellchar"},
		{"tab\tkept", "tab\tkept"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.input); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

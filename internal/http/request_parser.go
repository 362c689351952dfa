package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"spendwise/internal/core"
)

const maxJSONBody = 1 << 20

// parseID reads the {id} path parameter.
func parseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid expense id %q", core.ErrValidation, raw)
	}
	return id, nil
}

// ParseDateRange reads the required start and end query parameters.
func ParseDateRange(query url.Values) (core.DateRange, error) {
	return core.ParseDateRange(query.Get("start"), query.Get("end"))
}

// ParseLimit returns nil when the parameter is absent. Present values
// must be positive integers.
func ParseLimit(query url.Values) (*int, error) {
	v := strings.TrimSpace(query.Get("limit"))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: limit must be a positive integer, got %q", core.ErrValidation, v)
	}
	return &n, nil
}

// parseOptionalBool maps an absent parameter to nil.
func parseOptionalBool(query url.Values, key string) (*bool, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be true or false, got %q", core.ErrValidation, key, v)
	}
	return &b, nil
}

func parseOptionalInt(query url.Values, key string) (int, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", core.ErrValidation, key, v)
	}
	return n, nil
}

// ParseExpenseFilter reads the listing filters. Pagination defaults are
// applied later by the service.
func ParseExpenseFilter(query url.Values) (core.ExpenseFilter, error) {
	var f core.ExpenseFilter
	var err error

	if ch := strings.TrimSpace(query.Get("channel")); ch != "" {
		if f.Channel, err = core.ParseChannel(ch); err != nil {
			return f, err
		}
	}
	if f.Classified, err = parseOptionalBool(query, "classified"); err != nil {
		return f, err
	}
	if f.Confirmed, err = parseOptionalBool(query, "confirmed"); err != nil {
		return f, err
	}
	if f.Hidden, err = parseOptionalBool(query, "hidden"); err != nil {
		return f, err
	}
	if f.Page, err = parseOptionalInt(query, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = parseOptionalInt(query, "page_size"); err != nil {
		return f, err
	}
	f.Query = sanitizeInput(query.Get("q"))
	return f, nil
}

// decodeJSON reads a size-capped JSON body into dst, rejecting unknown
// fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", core.ErrValidation, err)
	}
	return nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

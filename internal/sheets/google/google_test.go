package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"spendwise/internal/core"
)

func TestParseTaxonomy(t *testing.T) {
	values := [][]any{
		{"餐饮美食", "日常三餐"},
		{"餐饮美食", "外卖"},
		{"", "咖啡"},
		{"# retired", "whatever"},
		{"交通出行", ""},
		{" 交通出行 ", "打车"},
		{"交通出行", "打车"},
		{},
		{"其他"},
	}

	got := parseTaxonomy(values)

	want := []core.Category{
		{Name: "餐饮美食", Children: []string{"日常三餐", "外卖", "咖啡"}},
		{Name: "交通出行", Children: []string{"打车"}},
		{Name: "其他"},
	}
	assert.Equal(t, want, got)
}

func TestParseTaxonomyLeadingBlankRows(t *testing.T) {
	got := parseTaxonomy([][]any{{"", "orphan"}, {"住房", "房租"}})
	require.Len(t, got, 1)
	assert.Equal(t, "住房", got[0].Name)
}

func sheetServer(t *testing.T, status int, values [][]any) *gsheet.Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "/spreadsheets/sheet-1/values/"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"forbidden"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"range":          "Categories!A2:B10",
			"majorDimension": "ROWS",
			"values":         values,
		})
	}))
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return svc
}

func TestClientTaxonomy(t *testing.T) {
	svc := sheetServer(t, http.StatusOK, [][]any{{"住房", "房租"}, {"住房", "水电"}})
	c := NewWithService(svc, "sheet-1", "Categories!A2:B", nil)

	cats, err := c.Taxonomy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []core.Category{{Name: "住房", Children: []string{"房租", "水电"}}}, cats)
}

func TestClientTaxonomyEmptySheet(t *testing.T) {
	svc := sheetServer(t, http.StatusOK, nil)
	c := NewWithService(svc, "sheet-1", "Categories!A2:B", nil)

	_, err := c.Taxonomy(context.Background())
	assert.True(t, errors.Is(err, core.ErrInvalidTaxonomy))
}

func TestClientTaxonomyAPIError(t *testing.T) {
	svc := sheetServer(t, http.StatusForbidden, nil)
	c := NewWithService(svc, "sheet-1", "Categories!A2:B", nil)

	_, err := c.Taxonomy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Categories!A2:B")
}

func TestNewRequiresSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), "  ", "Categories!A2:B", nil)
	require.Error(t, err)
	assert.Equal(t, "missing GOOGLE_SPREADSHEET_ID", err.Error())
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := New(context.Background(), "sheet-1", "Categories!A2:B", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service account credentials")
}

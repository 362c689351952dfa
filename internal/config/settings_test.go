package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendwise/internal/core"
)

const sampleSettings = `
default_service: gemini
services:
  gemini:
    kind: gemini
    api_key: YOUR_GEMINI_KEY
    model: gemini-2.0-flash
    timeout: 10s
  deepseek:
    kind: openai
    base_url: https://api.deepseek.com/
    model: deepseek-chat
classification:
  concurrency: 3
  retry:
    max_attempts: 4
    base_delay: 500ms
prompts:
  user_template: "{{.Description}} / {{.Amount}}"
taxonomy:
  购物消费: [日用百货, 服饰鞋包]
  餐饮美食:
    - 日常三餐
    - 外卖
  其他:
`

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadSettingsMissingFileUsesDefaults(t *testing.T) {
	s, err := ReadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	snap, err := NewSnapshot(s)
	require.NoError(t, err)

	svc := snap.DefaultService()
	assert.Equal(t, "deepseek", svc.Name)
	assert.Equal(t, KindOpenAI, svc.Kind)
	assert.Equal(t, "https://api.deepseek.com", svc.BaseURL)
	assert.Equal(t, "deepseek-chat", svc.Model)
	assert.Equal(t, 5, snap.Classification().Concurrency)
	assert.Equal(t, 50, snap.Classification().DefaultBatchLimit)
	assert.Equal(t, []string{"餐饮美食", "交通出行"}, snap.Taxonomy().L1Names())
}

func TestParseSettingsOverlay(t *testing.T) {
	s, err := ParseSettings([]byte(sampleSettings))
	require.NoError(t, err)

	snap, err := NewSnapshot(s)
	require.NoError(t, err)

	assert.Equal(t, "gemini", snap.DefaultService().Name)
	assert.Equal(t, 10*time.Second, snap.DefaultService().Timeout)

	ds, ok := snap.Service("deepseek")
	require.True(t, ok)
	assert.Equal(t, "https://api.deepseek.com", ds.BaseURL, "trailing slash trimmed")
	assert.Equal(t, 30*time.Second, ds.Timeout, "default timeout applied")

	c := snap.Classification()
	assert.Equal(t, 3, c.Concurrency)
	assert.Equal(t, 50, c.DefaultBatchLimit, "unset keys keep defaults")
	assert.Equal(t, 4, c.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, c.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, c.Retry.MaxDelay)

	// File order, not map or alphabetical order.
	tax := snap.Taxonomy()
	assert.Equal(t, []string{"购物消费", "餐饮美食", "其他"}, tax.L1Names())
	assert.Equal(t, []string{"日常三餐", "外卖"}, tax.L2Names("餐饮美食"))
	assert.Empty(t, tax.L2Names("其他"))
	assert.Equal(t, "{{.Description}} / {{.Amount}}", snap.UserTemplateText())
}

func TestNewSnapshotRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"unknown default", func(s *Settings) { s.DefaultService = "nope" }, `default service "nope" is not configured`},
		{"unknown kind", func(s *Settings) {
			svc := s.Services["deepseek"]
			svc.Kind = "carrier-pigeon"
			s.Services["deepseek"] = svc
		}, `unknown kind "carrier-pigeon"`},
		{"zero concurrency", func(s *Settings) { s.Classification.Concurrency = 0 }, "invalid concurrency 0"},
		{"bad template", func(s *Settings) { s.UserTemplate = "{{.Description" }, "invalid user template"},
		{"duplicate category", func(s *Settings) {
			s.Taxonomy = []core.Category{{Name: "A"}, {Name: "A"}}
		}, "duplicate category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			_, err := NewSnapshot(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSnapshotTaxonomyIsACopy(t *testing.T) {
	snap, err := NewSnapshot(DefaultSettings())
	require.NoError(t, err)

	cats := snap.Taxonomy().Categories()
	cats[0].Children[0] = "mutated"

	assert.Equal(t, "日常三餐", snap.Taxonomy().L2Names("餐饮美食")[0])
}

func TestProviderAPIKeyOverride(t *testing.T) {
	p := &Provider{path: writeSettings(t, sampleSettings), getenv: func(k string) string {
		if k == "GEMINI_API_KEY" {
			return "real-key"
		}
		return ""
	}}

	snap, err := p.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "real-key", snap.DefaultService().APIKey)

	ds, _ := snap.Service("deepseek")
	assert.Empty(t, ds.APIKey)
}

func TestProviderFailedReloadKeepsSnapshot(t *testing.T) {
	path := writeSettings(t, sampleSettings)
	p, err := NewProvider(path, nil)
	require.NoError(t, err)
	before := p.Current()

	require.NoError(t, os.WriteFile(path, []byte("default_service: ghost\n"), 0o644))

	_, err = p.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, before, p.Current())
}

type fakeTaxonomySource struct {
	cats []core.Category
	err  error
}

func (f fakeTaxonomySource) Taxonomy(context.Context) ([]core.Category, error) {
	return f.cats, f.err
}

func TestProviderTaxonomySource(t *testing.T) {
	src := fakeTaxonomySource{cats: []core.Category{{Name: "住房", Children: []string{"房租"}}}}
	p, err := NewProvider(writeSettings(t, sampleSettings), src)
	require.NoError(t, err)

	assert.Equal(t, []string{"住房"}, p.Current().Taxonomy().L1Names())

	p.source = fakeTaxonomySource{err: errors.New("sheet unavailable")}
	_, err = p.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"住房"}, p.Current().Taxonomy().L1Names())
}

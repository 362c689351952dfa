package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"spendwise/internal/core"
	"spendwise/internal/log"
)

// TaxonomySource supplies the category tree from outside the settings
// file, such as a shared spreadsheet.
type TaxonomySource interface {
	Taxonomy(ctx context.Context) ([]core.Category, error)
}

// Provider hands out the current settings snapshot. Readers never block
// on a reload and never observe a half-built snapshot.
type Provider struct {
	path   string
	source TaxonomySource
	getenv func(string) string

	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
}

// NewProvider loads the initial snapshot. source may be nil.
func NewProvider(path string, source TaxonomySource) (*Provider, error) {
	p := &Provider{path: path, source: source, getenv: os.Getenv}
	if _, err := p.Reload(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticProvider wraps a fixed snapshot. Reload rebuilds defaults only.
func NewStaticProvider(s *Snapshot) *Provider {
	p := &Provider{getenv: func(string) string { return "" }}
	p.current.Store(s)
	return p
}

// Current returns the active snapshot.
func (p *Provider) Current() *Snapshot {
	return p.current.Load()
}

// Reload rebuilds the snapshot and swaps it in. On error the previous
// snapshot stays active.
func (p *Provider) Reload(ctx context.Context) (*Snapshot, error) {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	settings := DefaultSettings()
	if p.path != "" {
		var err error
		settings, err = ReadSettings(p.path)
		if err != nil {
			return nil, err
		}
	}
	applyKeyOverrides(&settings, p.getenv)

	if p.source != nil {
		cats, err := p.source.Taxonomy(ctx)
		if err != nil {
			return nil, fmt.Errorf("load taxonomy from source: %w", err)
		}
		settings.Taxonomy = cats
	}

	snap, err := NewSnapshot(settings)
	if err != nil {
		return nil, err
	}
	p.current.Store(snap)

	slog.InfoContext(ctx, "Settings loaded",
		log.FieldComponent, log.ComponentSettings,
		"path", p.path,
		"default_service", snap.defaultService,
		"categories", snap.taxonomy.Len())
	return snap, nil
}

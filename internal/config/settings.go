package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"spendwise/internal/core"
)

// Service kinds understood by the classifier backend factory.
const (
	KindOpenAI = "openai"
	KindGemini = "gemini"
)

const defaultUserTemplate = `Description: {{.Description}}
Amount: {{.Amount}}
Channel: {{.Channel}}{{if .SourceCategory}}
Platform category: {{.SourceCategory}}{{end}}`

// ServiceConfig describes one external classification service.
type ServiceConfig struct {
	Name    string
	Kind    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type RetrySettings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type ClassificationSettings struct {
	Concurrency       int
	DefaultBatchLimit int
	Retry             RetrySettings
}

// Settings is the mutable form a Snapshot is built from.
type Settings struct {
	DefaultService string
	Services       map[string]ServiceConfig
	Classification ClassificationSettings
	UserTemplate   string
	Taxonomy       []core.Category
}

// DefaultSettings is what runs when no settings file exists.
func DefaultSettings() Settings {
	return Settings{
		DefaultService: "deepseek",
		Services: map[string]ServiceConfig{
			"deepseek": {
				Name:    "deepseek",
				Kind:    KindOpenAI,
				BaseURL: "https://api.deepseek.com",
				Model:   "deepseek-chat",
				Timeout: 30 * time.Second,
			},
		},
		Classification: ClassificationSettings{
			Concurrency:       5,
			DefaultBatchLimit: 50,
			Retry: RetrySettings{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
			},
		},
		UserTemplate: defaultUserTemplate,
		Taxonomy: []core.Category{
			{Name: "餐饮美食", Children: []string{"日常三餐", "外卖"}},
			{Name: "交通出行", Children: []string{"公共交通", "打车"}},
		},
	}
}

// Snapshot is an immutable view of the settings. Accessors return copies.
type Snapshot struct {
	defaultService string
	services       map[string]ServiceConfig
	classification ClassificationSettings
	userTemplate   *template.Template
	templateText   string
	taxonomy       core.Taxonomy
	loadedAt       time.Time
}

// NewSnapshot validates s and freezes it.
func NewSnapshot(s Settings) (*Snapshot, error) {
	var problems []string

	services := make(map[string]ServiceConfig, len(s.Services))
	for name, svc := range s.Services {
		svc.Name = name
		if svc.Kind == "" {
			svc.Kind = KindOpenAI
		}
		if svc.Timeout <= 0 {
			svc.Timeout = 30 * time.Second
		}
		switch svc.Kind {
		case KindOpenAI, KindGemini:
		default:
			problems = append(problems, fmt.Sprintf("service %q has unknown kind %q", name, svc.Kind))
		}
		if strings.TrimSpace(svc.Model) == "" {
			problems = append(problems, fmt.Sprintf("service %q has no model", name))
		}
		if svc.Kind == KindOpenAI && strings.TrimSpace(svc.BaseURL) == "" {
			problems = append(problems, fmt.Sprintf("service %q has no base_url", name))
		}
		services[name] = svc
	}
	if _, ok := services[s.DefaultService]; !ok {
		problems = append(problems, fmt.Sprintf("default service %q is not configured", s.DefaultService))
	}

	c := s.Classification
	if c.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("invalid concurrency %d: must be at least 1", c.Concurrency))
	}
	if c.DefaultBatchLimit < 1 {
		problems = append(problems, fmt.Sprintf("invalid default batch limit %d: must be at least 1", c.DefaultBatchLimit))
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, fmt.Sprintf("invalid retry max attempts %d: must be at least 1", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		problems = append(problems, "retry delays must not be negative")
	}

	text := s.UserTemplate
	if strings.TrimSpace(text) == "" {
		text = defaultUserTemplate
	}
	tmpl, err := template.New("user").Option("missingkey=error").Parse(text)
	if err != nil {
		problems = append(problems, fmt.Sprintf("invalid user template: %v", err))
	}

	taxonomy, err := core.NewTaxonomy(s.Taxonomy)
	if err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("settings validation failed:\n- %s", strings.Join(problems, "\n- "))
	}

	return &Snapshot{
		defaultService: s.DefaultService,
		services:       services,
		classification: c,
		userTemplate:   tmpl,
		templateText:   text,
		taxonomy:       taxonomy,
		loadedAt:       time.Now(),
	}, nil
}

// DefaultService returns the configured default service.
func (s *Snapshot) DefaultService() ServiceConfig {
	return s.services[s.defaultService]
}

// Service looks up a service by name.
func (s *Snapshot) Service(name string) (ServiceConfig, bool) {
	svc, ok := s.services[name]
	return svc, ok
}

// ServiceNames lists configured services in name order.
func (s *Snapshot) ServiceNames() []string {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Snapshot) Classification() ClassificationSettings {
	return s.classification
}

func (s *Snapshot) Taxonomy() core.Taxonomy {
	return s.taxonomy.Clone()
}

// UserTemplate is the parsed user prompt template. Templates are safe
// for concurrent execution and are never modified after parse.
func (s *Snapshot) UserTemplate() *template.Template {
	return s.userTemplate
}

func (s *Snapshot) UserTemplateText() string {
	return s.templateText
}

func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

type fileSettings struct {
	DefaultService string                 `yaml:"default_service"`
	Services       map[string]fileService `yaml:"services"`
	Classification *fileClassification    `yaml:"classification"`
	Prompts        struct {
		UserTemplate string `yaml:"user_template"`
	} `yaml:"prompts"`
	Taxonomy yaml.Node `yaml:"taxonomy"`
}

type fileService struct {
	Kind    string        `yaml:"kind"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type fileClassification struct {
	Concurrency       int `yaml:"concurrency"`
	DefaultBatchLimit int `yaml:"default_batch_limit"`
	Retry             struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`
}

// ReadSettings overlays the YAML file at path onto the defaults. A
// missing file is not an error.
func ReadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings overlays YAML data onto the defaults.
func ParseSettings(data []byte) (Settings, error) {
	s := DefaultSettings()

	var f fileSettings
	if err := yaml.Unmarshal(data, &f); err != nil {
		return s, fmt.Errorf("parse settings: %w", err)
	}

	if f.DefaultService != "" {
		s.DefaultService = f.DefaultService
	}
	if len(f.Services) > 0 {
		s.Services = make(map[string]ServiceConfig, len(f.Services))
		for name, fs := range f.Services {
			s.Services[name] = ServiceConfig{
				Name:    name,
				Kind:    strings.ToLower(fs.Kind),
				APIKey:  fs.APIKey,
				BaseURL: strings.TrimRight(fs.BaseURL, "/"),
				Model:   fs.Model,
				Timeout: fs.Timeout,
			}
		}
	}
	if fc := f.Classification; fc != nil {
		if fc.Concurrency != 0 {
			s.Classification.Concurrency = fc.Concurrency
		}
		if fc.DefaultBatchLimit != 0 {
			s.Classification.DefaultBatchLimit = fc.DefaultBatchLimit
		}
		if fc.Retry.MaxAttempts != 0 {
			s.Classification.Retry.MaxAttempts = fc.Retry.MaxAttempts
		}
		if fc.Retry.BaseDelay != 0 {
			s.Classification.Retry.BaseDelay = fc.Retry.BaseDelay
		}
		if fc.Retry.MaxDelay != 0 {
			s.Classification.Retry.MaxDelay = fc.Retry.MaxDelay
		}
	}
	if f.Prompts.UserTemplate != "" {
		s.UserTemplate = f.Prompts.UserTemplate
	}
	if f.Taxonomy.Kind != 0 {
		cats, err := decodeTaxonomy(&f.Taxonomy)
		if err != nil {
			return s, err
		}
		s.Taxonomy = cats
	}
	return s, nil
}

// decodeTaxonomy walks the mapping node directly so the configured L1
// order survives; decoding into a Go map would lose it.
func decodeTaxonomy(node *yaml.Node) ([]core.Category, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return []core.Category{}, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse settings: taxonomy must be a mapping (line %d)", node.Line)
	}

	cats := make([]core.Category, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		cat := core.Category{Name: key.Value}
		switch {
		case val.Kind == yaml.SequenceNode:
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("parse settings: taxonomy %q has a non-scalar child (line %d)", key.Value, item.Line)
				}
				cat.Children = append(cat.Children, item.Value)
			}
		case val.Kind == yaml.ScalarNode && (val.Tag == "!!null" || val.Value == ""):
		default:
			return nil, fmt.Errorf("parse settings: taxonomy %q must list its children (line %d)", key.Value, val.Line)
		}
		cats = append(cats, cat)
	}
	return cats, nil
}

// applyKeyOverrides replaces api keys with <SERVICE>_API_KEY env values.
func applyKeyOverrides(s *Settings, getenv func(string) string) {
	for name, svc := range s.Services {
		envName := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_API_KEY"
		if key := getenv(envName); key != "" {
			svc.APIKey = key
			s.Services[name] = svc
		}
	}
}

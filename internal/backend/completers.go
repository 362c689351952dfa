package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"spendwise/internal/classifier"
	"spendwise/internal/config"
)

// Completers builds and caches one model client per service
// configuration. A reload that changes a service yields a new client.
type Completers struct {
	httpClient *http.Client

	mu    sync.Mutex
	cache map[config.ServiceConfig]classifier.Completer
}

func NewCompleters(httpClient *http.Client) *Completers {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Completers{httpClient: httpClient, cache: make(map[config.ServiceConfig]classifier.Completer)}
}

func (c *Completers) Completer(ctx context.Context, svc config.ServiceConfig) (classifier.Completer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if comp, ok := c.cache[svc]; ok {
		return comp, nil
	}

	var (
		comp classifier.Completer
		err  error
	)
	switch svc.Kind {
	case config.KindOpenAI:
		comp = NewOpenAICompleter(svc, c.httpClient)
	case config.KindGemini:
		comp, err = NewGeminiCompleter(ctx, svc, c.httpClient)
	default:
		err = fmt.Errorf("unsupported service kind %q", svc.Kind)
	}
	if err != nil {
		return nil, err
	}
	c.cache[svc] = comp
	return comp, nil
}

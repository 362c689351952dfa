// Package classifier wraps one call to an external language model that
// picks a category pair for an expense. It renders the prompt, retries
// transient failures and validates the reply against the taxonomy.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"spendwise/internal/config"
	"spendwise/internal/core"
	"spendwise/internal/log"
)

type Request struct {
	Text           string
	Amount         decimal.Decimal
	Channel        core.Channel
	SourceCategory string
}

// RequestFor builds the request for a stored expense.
func RequestFor(e core.Expense) Request {
	return Request{
		Text:           e.ClassificationText(),
		Amount:         e.Amount,
		Channel:        e.Channel,
		SourceCategory: e.SourceCategory,
	}
}

type Result struct {
	L1       string
	L2       string
	Service  string
	Attempts int
}

// Completer sends one prompt to a model and returns its raw reply.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// CompleterSource resolves the backend for a configured service.
type CompleterSource interface {
	Completer(ctx context.Context, svc config.ServiceConfig) (Completer, error)
}

type Client struct {
	completers CompleterSource
	sleep      Sleeper
	logger     *log.Logger
}

type Option func(*Client)

// WithSleeper replaces the real clock between retries.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

func NewClient(completers CompleterSource, logger *log.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	c := &Client{
		completers: completers,
		sleep:      SleepContext,
		logger:     logger.WithComponent(log.ComponentClassifier),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify asks the default service of snap for a category pair.
func (c *Client) Classify(ctx context.Context, req Request, snap *config.Snapshot) (Result, error) {
	svc := snap.DefaultService()
	tax := snap.Taxonomy()

	if tax.IsEmpty() {
		return Result{}, newError(KindConfig, svc.Name, core.ErrInvalidTaxonomy)
	}
	if svc.Model == "" {
		return Result{}, newError(KindConfig, svc.Name, errors.New("no model configured"))
	}
	if isPlaceholderKey(svc.APIKey) {
		return Result{}, newError(KindAuth, svc.Name, ErrMissingAPIKey)
	}

	prompt, err := BuildPrompt(req, tax, snap.UserTemplate())
	if err != nil {
		return Result{}, newError(KindConfig, svc.Name, err)
	}
	completer, err := c.completers.Completer(ctx, svc)
	if err != nil {
		return Result{}, newError(KindConfig, svc.Name, err)
	}

	policy := PolicyFrom(snap.Classification().Retry)
	for attempt := 1; ; attempt++ {
		res, err := c.attempt(ctx, completer, svc, prompt, tax)
		if err == nil {
			res.Service = svc.Name
			res.Attempts = attempt
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("classify with %s: %w", svc.Name, ctx.Err())
		}
		if !policy.Retryable(err) || attempt >= policy.MaxAttempts {
			return Result{}, err
		}

		delay := policy.Delay(attempt)
		c.logger.WarnContext(ctx, "Classification attempt failed, retrying",
			log.FieldService, svc.Name,
			log.FieldAttempt, attempt,
			log.FieldErrorKind, KindOf(err).String(),
			log.FieldError, err,
			"delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return Result{}, fmt.Errorf("classify with %s: %w", svc.Name, err)
		}
	}
}

func (c *Client) attempt(ctx context.Context, completer Completer, svc config.ServiceConfig, p Prompt, tax core.Taxonomy) (Result, error) {
	callCtx := ctx
	if svc.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, svc.Timeout)
		defer cancel()
	}

	reply, err := completer.Complete(callCtx, p)
	if err != nil {
		var ce *Error
		switch {
		case errors.As(err, &ce):
			return Result{}, err
		case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
			return Result{}, newError(KindTimeout, svc.Name, err)
		default:
			return Result{}, newError(KindUnavailable, svc.Name, err)
		}
	}

	res, err := ParseReply(reply, tax)
	if err != nil {
		return Result{}, newError(KindReply, svc.Name, err)
	}
	return res, nil
}

// isPlaceholderKey rejects empty keys and the sample values shipped in
// settings files.
func isPlaceholderKey(key string) bool {
	key = strings.TrimSpace(key)
	return key == "" || strings.Contains(key, "YOUR_") || strings.Contains(key, "API_KEY")
}

// Package failover chains LLM providers so a story still gets written when
// the primary engine is down.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"storyforge/pkg/llm"
	"storyforge/pkg/request"
)

// Provider tries each engine in order. The requested model name only applies
// to the primary; fallbacks use their own default model.
type Provider struct {
	providers []llm.Provider
	names     []string
	disabled  map[int]bool
	backoffs  map[int]*backoffState
	mu        sync.Mutex
}

// A provider that failed n times in a row is skipped for the next n calls.
type backoffState struct {
	subsequentFailures int
	skippedRequests    int
}

// New creates a failover chain. providers[0] is the primary.
func New(providers []llm.Provider, names []string) (*Provider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required for failover")
	}
	if len(providers) != len(names) {
		return nil, fmt.Errorf("provider count (%d) does not match name count (%d)", len(providers), len(names))
	}
	return &Provider{
		providers: providers,
		names:     names,
		disabled:  make(map[int]bool),
		backoffs:  make(map[int]*backoffState),
	}, nil
}

// GenerateText implements llm.Provider.
func (f *Provider) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	var errs []error
	tried := 0

	for i, p := range f.providers {
		if !f.available(i) {
			continue
		}
		tried++

		m := model
		if i > 0 {
			m = ""
		}
		text, err := p.GenerateText(ctx, m, prompt)
		if err == nil {
			f.succeeded(i)
			if i > 0 {
				slog.Info("LLM: Answered by fallback provider", "provider", f.names[i])
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		errs = append(errs, fmt.Errorf("%s: %w", f.names[i], err))
		if isUnrecoverable(err) && i < len(f.providers)-1 {
			slog.Warn("LLM provider fatal error, disabling for the session", "provider", f.names[i], "error", err)
			f.disable(i)
			continue
		}
		f.failed(i)
		slog.Warn("LLM provider failed, falling back", "provider", f.names[i], "error", err)
	}

	if tried == 0 {
		return "", fmt.Errorf("no LLM provider available: all %d are disabled or backing off", len(f.providers))
	}
	return "", errors.Join(errs...)
}

// Models lists the primary's models; the model picker only applies to it.
func (f *Provider) Models(ctx context.Context) ([]string, error) {
	return f.providers[0].Models(ctx)
}

// HealthCheck passes when at least one provider is healthy.
func (f *Provider) HealthCheck(ctx context.Context) error {
	var errs []string
	for i, p := range f.providers {
		if f.isDisabled(i) {
			continue
		}
		if err := p.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f.names[i], err))
			continue
		}
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("no providers available in failover chain")
	}
	return fmt.Errorf("all LLM providers failed health check: %s", strings.Join(errs, "; "))
}

// available reports whether provider i may be tried now, consuming one
// backoff skip if it is backing off. The last provider is never skipped.
func (f *Provider) available(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled[i] {
		return false
	}
	bs, ok := f.backoffs[i]
	if ok && i < len(f.providers)-1 && bs.skippedRequests < bs.subsequentFailures {
		bs.skippedRequests++
		slog.Debug("LLM provider in backoff, skipping", "provider", f.names[i], "skipped", bs.skippedRequests, "target", bs.subsequentFailures)
		return false
	}
	return true
}

func (f *Provider) isDisabled(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disabled[i]
}

func (f *Provider) disable(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled[i] = true
}

func (f *Provider) succeeded(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.backoffs, i)
}

func (f *Provider) failed(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bs, ok := f.backoffs[i]
	if !ok {
		bs = &backoffState{}
		f.backoffs[i] = bs
	}
	bs.subsequentFailures++
	bs.skippedRequests = 0
}

// isUnrecoverable identifies errors that will not go away by retrying:
// missing configuration and rejected credentials.
func isUnrecoverable(err error) bool {
	if errors.Is(err, llm.ErrNotConfigured) {
		return true
	}
	var httpErr *request.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "invalid_api_key")
}

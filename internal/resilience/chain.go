package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/promptpane/promptpane/pkg/provider/answer"
)

// ErrNoBackend is returned by [Chain.Open] when every backend failed or had
// an open breaker.
var ErrNoBackend = errors.New("resilience: no answer backend available")

var _ answer.Provider = (*Chain)(nil)

// chainEntry pairs an answer backend with its dedicated breaker.
type chainEntry struct {
	name     string
	provider answer.Provider
	breaker  *Breaker
}

// Chain implements [answer.Provider] with automatic failover. Open tries the
// primary first, then each fallback in registration order, skipping backends
// whose breaker is open. Only the dial is covered: once a stream is
// established, mid-stream errors belong to the session layer.
type Chain struct {
	entries  []chainEntry
	settings BreakerSettings
}

// NewChain creates a [Chain] with primary as the preferred backend. The
// settings seed the per-backend breakers; the Name field is overwritten per
// entry.
func NewChain(primary answer.Provider, primaryName string, settings BreakerSettings) *Chain {
	c := &Chain{settings: settings}
	c.add(primaryName, primary)
	return c
}

// Add registers an additional backend, tried after all earlier entries.
func (c *Chain) Add(name string, provider answer.Provider) {
	c.add(name, provider)
}

func (c *Chain) add(name string, provider answer.Provider) {
	settings := c.settings
	settings.Name = name
	c.entries = append(c.entries, chainEntry{
		name:     name,
		provider: provider,
		breaker:  NewBreaker(settings),
	})
}

// InitProfile forwards the candidate profile to every backend that keeps
// one, so a failover mid-interview does not lose the resume context. Returns
// an error when no backend supports profiles.
func (c *Chain) InitProfile(ctx context.Context, resume, jobDescription string) error {
	type profileInitializer interface {
		InitProfile(ctx context.Context, resume, jobDescription string) error
	}

	var forwarded bool
	var errs []error
	for i := range c.entries {
		entry := &c.entries[i]
		p, ok := entry.provider.(profileInitializer)
		if !ok {
			continue
		}
		forwarded = true
		if err := p.InitProfile(ctx, resume, jobDescription); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
		}
	}
	if !forwarded {
		return errors.New("resilience: no answer backend supports profiles")
	}
	return errors.Join(errs...)
}

// Open implements [answer.Provider].
func (c *Chain) Open(ctx context.Context, q answer.Query) (answer.Stream, error) {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]

		var st answer.Stream
		err := entry.breaker.Do(func() error {
			var openErr error
			st, openErr = entry.provider.Open(ctx, q)
			return openErr
		})
		if err == nil {
			return st, nil
		}
		lastErr = err

		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("answer backend skipped", "backend", entry.name)
		} else {
			slog.Warn("answer backend failed, trying next", "backend", entry.name, "err", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoBackend, lastErr)
}

// Package clientinfo supplies best-effort client network context for event
// enrichment: a public address fetched once per lifetime, and the user-agent
// string. Callers treat both as optional and never block on them.
package clientinfo

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// AddressFetcher resolves the client's public address. pkg/edge satisfies it.
type AddressFetcher interface {
	ClientIP(ctx context.Context) (string, error)
}

// Option configures the provider.
type Option func(*Provider)

// WithUserAgent sets the user-agent reported for enrichment.
func WithUserAgent(ua string) Option {
	return func(p *Provider) { p.userAgent = ua }
}

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider caches the client address behind a fire-once fetch. A failed or
// timed-out fetch leaves the cache empty and is never retried; events simply
// go out without the address.
type Provider struct {
	fetcher AddressFetcher
	log     *zap.Logger

	mu         sync.Mutex
	userAgent  string
	addr       string
	attempted  bool
	inProgress bool
	done       chan struct{}
}

// NewProvider creates a provider over the given fetcher.
func NewProvider(fetcher AddressFetcher, opts ...Option) *Provider {
	p := &Provider{
		fetcher: fetcher,
		log:     zap.L(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FetchOnce starts the address lookup in the background and returns
// immediately. Only the first call ever reaches the network; concurrent and
// repeated calls are no-ops. The attempt's completion is observable via
// Done.
func (p *Provider) FetchOnce(ctx context.Context) {
	p.mu.Lock()
	if p.attempted || p.inProgress {
		p.mu.Unlock()
		return
	}
	p.attempted = true
	p.inProgress = true
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)

		addr, err := p.fetcher.ClientIP(ctx)

		p.mu.Lock()
		p.inProgress = false
		if err == nil {
			p.addr = addr
		}
		p.mu.Unlock()

		if err != nil {
			// Swallowed: events still fire without the address.
			p.log.Warn("client address fetch failed", zap.Error(err))
			return
		}
		p.log.Debug("client address cached")
	}()
}

// Done is closed when the single fetch attempt has completed, successfully
// or not. It never closes if FetchOnce was never called.
func (p *Provider) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Address returns the cached client address, if the fetch succeeded.
func (p *Provider) Address() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addr, p.addr != ""
}

// UserAgent returns the configured user-agent string.
func (p *Provider) UserAgent() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent, p.userAgent != ""
}

// SetUserAgent updates the user-agent, e.g. from an incoming request.
func (p *Provider) SetUserAgent(ua string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ua != "" {
		p.userAgent = ua
	}
}

// Reset clears all cached state and re-arms the fetch guard. It exists for
// test isolation.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addr = ""
	p.attempted = false
	p.inProgress = false
	p.done = make(chan struct{})
}

package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrNotLoaded is returned by Current before a trio has been loaded.
var ErrNotLoaded = errors.New("artifacts not loaded")

// Provider shares one artifact trio across concurrent readers. The trio
// is loaded on first use and can be swapped atomically; readers always
// see a complete trio.
type Provider struct {
	loader  *Loader
	mu      sync.Mutex
	current atomic.Pointer[Artifacts]
}

// NewProvider creates a Provider backed by loader.
func NewProvider(loader *Loader) *Provider {
	return &Provider{loader: loader}
}

// Get returns the current trio, loading or synthesizing it on first use.
// A failed attempt is retried on the next call.
func (p *Provider) Get(ctx context.Context) (*Artifacts, error) {
	if a := p.current.Load(); a != nil {
		return a, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if a := p.current.Load(); a != nil {
		return a, nil
	}
	a, err := p.loader.LoadOrSynthesize(ctx)
	if err != nil {
		return nil, err
	}
	p.current.Store(a)
	return a, nil
}

// Current returns the trio without triggering a load.
func (p *Provider) Current() (*Artifacts, error) {
	if a := p.current.Load(); a != nil {
		return a, nil
	}
	return nil, ErrNotLoaded
}

// Rebuild synthesizes a new trio, persists it and swaps it in. Runs
// holding the previous trio keep using it.
func (p *Provider) Rebuild(ctx context.Context) (*Artifacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.loader.Rebuild()
	if err != nil {
		return nil, err
	}
	p.current.Store(a)
	return a, nil
}

// Options returns the options the provider's loader was built with.
func (p *Provider) Options() Options { return p.loader.Options() }

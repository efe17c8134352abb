package stages

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultProbeTTL = 5 * time.Minute

// DoctorRunner is the probe half of the content runner boundary.
type DoctorRunner interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// CachedProbe wraps a DoctorRunner to cache probe results with a TTL.
// This avoids running the doctor subprocess on every job submission.
type CachedProbe struct {
	runner DoctorRunner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedProbe creates a caching wrapper around doctor probes.
func NewCachedProbe(runner DoctorRunner, logger *slog.Logger) *CachedProbe {
	return &CachedProbe{
		runner: runner,
		ttl:    defaultProbeTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (p *CachedProbe) Get(ctx context.Context) (*Capabilities, error) {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.cached.ProbedAt) < p.ttl {
		caps := p.cached
		p.mu.RUnlock()
		return caps, nil
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

// Peek returns whatever is cached without probing, possibly nil.
func (p *CachedProbe) Peek() *Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Refresh forces a new doctor probe regardless of cache freshness.
func (p *CachedProbe) Refresh(ctx context.Context) (*Capabilities, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	caps, err := p.runner.RunDoctor(ctx)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("doctor probe failed", "error", err)
		}
		// Return stale cache if available
		if p.cached != nil {
			return p.cached, nil
		}
		return nil, err
	}

	p.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (p *CachedProbe) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

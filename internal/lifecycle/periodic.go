package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Periodic is a Component that calls a function on a fixed interval while
// running.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	mu   sync.Mutex
	loop *Background
	runs int
}

func NewPeriodic(name string, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	return &Periodic{name: name, interval: interval, fn: fn}
}

func (p *Periodic) Name() string {
	return p.name
}

func (p *Periodic) Start(ctx context.Context) error {
	if p.interval <= 0 {
		return errors.New("periodic interval must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loop != nil {
		return nil
	}
	p.loop = NewBackground(ctx)
	p.loop.Go(Every(p.interval, func(ctx context.Context) {
		p.fn(ctx)
		p.mu.Lock()
		p.runs++
		p.mu.Unlock()
	}))
	return nil
}

func (p *Periodic) Stop(ctx context.Context) error {
	p.mu.Lock()
	loop := p.loop
	p.loop = nil
	p.mu.Unlock()

	if loop == nil {
		return nil
	}
	return loop.Stop(ctx)
}

func (p *Periodic) Stats(context.Context) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{"interval": p.interval.String(), "runs": p.runs}, nil
}

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultStopGrace = 10 * time.Second

type Option func(*Supervisor)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStopGrace bounds how long a single component may take to stop.
func WithStopGrace(grace time.Duration) Option {
	return func(s *Supervisor) {
		if grace > 0 {
			s.grace = grace
		}
	}
}

type ComponentStatus struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	Reload    bool   `json:"reloadable"`
	Stats     any    `json:"stats,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

type Status struct {
	RunID      string            `json:"run_id,omitempty"`
	Running    bool              `json:"running"`
	Components []ComponentStatus `json:"components"`
	Errors     []string          `json:"errors,omitempty"`
}

type entry struct {
	component Component

	// op serializes start/stop of this one component.
	op sync.Mutex

	mu      sync.RWMutex
	state   State
	lastErr error
}

func (e *entry) snapshot() (State, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state, e.lastErr
}

func (e *entry) set(next State, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.state.transition(next)
	if err != nil {
		return err
	}
	e.state = state
	e.lastErr = cause
	return nil
}

// Supervisor runs components in a fixed order: index 0 starts first and
// stops last.
type Supervisor struct {
	logger  *zap.Logger
	grace   time.Duration
	entries []*entry
	byName  map[string]*entry

	starting atomic.Bool
	// run makes Start and Stop mutually exclusive.
	run     sync.Mutex
	mu      sync.RWMutex
	running bool
	runID   string
}

func New(components []Component, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		logger: zap.NewNop(),
		grace:  DefaultStopGrace,
		byName: make(map[string]*entry, len(components)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("supervisor")

	for _, component := range components {
		if component == nil {
			return nil, errors.New("nil component")
		}
		name := strings.TrimSpace(component.Name())
		if name == "" {
			return nil, errors.New("component name is required")
		}
		if _, exists := s.byName[name]; exists {
			return nil, fmt.Errorf("duplicate component %q", name)
		}

		e := &entry{component: component, state: StateStopped}
		s.entries = append(s.entries, e)
		s.byName[name] = e
	}

	return s, nil
}

// Start starts every component in order. When one fails, the components
// already started are stopped in reverse order and a *DependencyStartError
// naming the failed component is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.starting.CompareAndSwap(false, true) {
		return ErrAlreadyStarting
	}
	defer s.starting.Store(false)

	s.run.Lock()
	defer s.run.Unlock()

	if s.isRunning() {
		return nil
	}

	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID))
	logger.Info("starting components", zap.Int("count", len(s.entries)))

	for i, e := range s.entries {
		name := e.component.Name()
		if err := s.startEntry(ctx, e); err != nil {
			logger.Error("component failed to start", zap.String("component", name), zap.Error(err))
			for j := i - 1; j >= 0; j-- {
				if stopErr := s.stopEntry(ctx, s.entries[j]); stopErr != nil {
					logger.Warn("rollback stop failed", zap.String("component", s.entries[j].component.Name()), zap.Error(stopErr))
				}
			}
			return &DependencyStartError{Component: name, Err: err}
		}
		logger.Debug("component running", zap.String("component", name))
	}

	s.mu.Lock()
	s.running = true
	s.runID = runID
	s.mu.Unlock()

	logger.Info("all components running")
	return nil
}

// Stop stops running components in reverse order. Failures are collected as
// *ComponentError values and joined; they never prevent the remaining
// components from stopping. Stopping an idle supervisor returns nil.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	var errs []error
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if err := s.stopEntry(ctx, e); err != nil {
			name := e.component.Name()
			s.logger.Error("component failed to stop", zap.String("component", name), zap.Error(err))
			errs = append(errs, &ComponentError{Component: name, Op: "stop", Err: err})
		}
	}

	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.runID = ""
	s.mu.Unlock()

	if wasRunning {
		s.logger.Info("components stopped", zap.Int("errors", len(errs)))
	}
	return errors.Join(errs...)
}

// RestartComponent stops then starts one component. Errors from the
// component are returned unchanged.
func (s *Supervisor) RestartComponent(ctx context.Context, name string) error {
	e, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}

	if err := s.stopEntry(ctx, e); err != nil {
		return err
	}
	if err := s.startEntry(ctx, e); err != nil {
		return err
	}

	s.logger.Info("component restarted", zap.String("component", name))
	return nil
}

// OnConfigChanged calls Reload on every component implementing Reloadable.
// A failing component is logged and skipped.
func (s *Supervisor) OnConfigChanged(ctx context.Context) error {
	var errs []error
	for _, e := range s.entries {
		reloadable, ok := e.component.(Reloadable)
		if !ok {
			continue
		}

		name := e.component.Name()
		if err := reloadable.Reload(ctx); err != nil {
			s.logger.Warn("component reload failed", zap.String("component", name), zap.Error(err))
			errs = append(errs, &ComponentError{Component: name, Op: "reload", Err: err})
			continue
		}
		s.logger.Debug("component reloaded", zap.String("component", name))
	}

	return errors.Join(errs...)
}

// GetStatus reports every component's state. Stats errors are collected in
// Status.Errors instead of failing the call.
func (s *Supervisor) GetStatus(ctx context.Context) Status {
	s.mu.RLock()
	status := Status{RunID: s.runID, Running: s.running}
	s.mu.RUnlock()

	status.Components = make([]ComponentStatus, 0, len(s.entries))
	for _, e := range s.entries {
		state, lastErr := e.snapshot()
		_, reloadable := e.component.(Reloadable)
		current := ComponentStatus{Name: e.component.Name(), State: state, Reload: reloadable}
		if lastErr != nil {
			current.LastError = lastErr.Error()
		}

		if provider, ok := e.component.(StatsProvider); ok {
			stats, err := provider.Stats(ctx)
			if err != nil {
				status.Errors = append(status.Errors, fmt.Sprintf("%s: %v", current.Name, err))
			} else {
				current.Stats = stats
			}
		}

		status.Components = append(status.Components, current)
	}

	return status
}

func (s *Supervisor) State(name string) (State, error) {
	e, ok := s.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	state, _ := e.snapshot()
	return state, nil
}

func (s *Supervisor) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Supervisor) startEntry(ctx context.Context, e *entry) error {
	e.op.Lock()
	defer e.op.Unlock()

	if state, _ := e.snapshot(); state == StateRunning {
		return nil
	}
	if err := e.set(StateStarting, nil); err != nil {
		return err
	}

	if err := e.component.Start(ctx); err != nil {
		_ = e.set(StateError, err)
		return err
	}

	return e.set(StateRunning, nil)
}

func (s *Supervisor) stopEntry(ctx context.Context, e *entry) error {
	e.op.Lock()
	defer e.op.Unlock()

	if state, _ := e.snapshot(); state != StateRunning {
		return nil
	}
	if err := e.set(StateStopping, nil); err != nil {
		return err
	}

	stopCtx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.component.Stop(stopCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-stopCtx.Done():
		err = fmt.Errorf("%w after %s", ErrStopTimeout, s.grace)
	}

	if err != nil {
		_ = e.set(StateError, err)
		return err
	}

	return e.set(StateStopped, nil)
}

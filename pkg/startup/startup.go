// Package startup brings up service dependencies in dependency order and retries failed attempts
// with a Fibonacci backoff.
package startup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

type Dependency interface {
	Name() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

// Func adapts a pair of functions to a Dependency. Stop may be nil.
type Func struct {
	DependencyName string
	Requires       []string
	StartFunc      func(ctx context.Context) error
	StopFunc       func(ctx context.Context) error
}

func (f Func) Name() string        { return f.DependencyName }
func (f Func) DependsOn() []string { return f.Requires }

func (f Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

type Startup struct {
	logger      ectologger.Logger
	deps        map[string]Dependency
	order       []string
	statuses    map[string]Status
	started     []string
	maxAttempts int
	// BaseDelay is the first backoff step. Later steps follow the Fibonacci sequence.
	BaseDelay time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Startup{
		logger:      logger,
		deps:        make(map[string]Dependency),
		statuses:    make(map[string]Status),
		maxAttempts: maxAttempts,
		BaseDelay:   time.Second,
	}
}

// Add registers dependencies. Registration order breaks ties between independent dependencies.
func (s *Startup) Add(deps ...Dependency) {
	for _, d := range deps {
		if _, ok := s.deps[d.Name()]; !ok {
			s.order = append(s.order, d.Name())
		}
		s.deps[d.Name()] = d
	}
}

func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

// Start starts every dependency. Dependencies that started on an earlier attempt are not
// restarted.
func (s *Startup) Start(ctx context.Context) error {
	var lastErr error
	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = s.startAll(ctx)
		if lastErr == nil {
			return nil
		}
		var missing *MissingDependencyError
		if errors.As(lastErr, &missing) || attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * s.BaseDelay
		s.logger.Infof("Retrying startup in %s (attempt %d/%d)", wait, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}
	return fmt.Errorf("startup failed: %w", lastErr)
}

func (s *Startup) startAll(ctx context.Context) error {
	for _, name := range s.order {
		if err := s.start(ctx, name, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

// MissingDependencyError is returned for unknown or cyclic requirements. It is not retried.
type MissingDependencyError struct {
	Dependency string
	Requires   string
	Cycle      bool
}

func (e *MissingDependencyError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("dependency %q is part of a cycle through %q", e.Dependency, e.Requires)
	}
	return fmt.Sprintf("dependency %q requires unknown dependency %q", e.Dependency, e.Requires)
}

func (s *Startup) start(ctx context.Context, name string, visiting map[string]bool) error {
	if s.statuses[name] == StatusStarted {
		return nil
	}
	dep := s.deps[name]
	visiting[name] = true
	for _, req := range dep.DependsOn() {
		if _, ok := s.deps[req]; !ok {
			return &MissingDependencyError{Dependency: name, Requires: req}
		}
		if visiting[req] {
			return &MissingDependencyError{Dependency: name, Requires: req, Cycle: true}
		}
		if err := s.start(ctx, req, visiting); err != nil {
			return err
		}
	}
	delete(visiting, name)

	log := s.logger.WithField("dependency", name)
	log.Infof("Starting dependency '%s'", name)
	s.statuses[name] = StatusPending
	if err := dep.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		log.WithError(err).Errorf("Failed to start dependency '%s'", name)
		return fmt.Errorf("%s: %w", name, err)
	}
	s.statuses[name] = StatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in reverse start order. Every dependency is stopped even when
// one fails; the errors are joined.
func (s *Startup) Stop(ctx context.Context) error {
	var errs []error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		if s.statuses[name] != StatusStarted {
			continue
		}
		log := s.logger.WithField("dependency", name)
		if err := s.deps[name].Stop(ctx); err != nil {
			log.WithError(err).Errorf("Failed to stop dependency '%s'", name)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		s.statuses[name] = StatusStopped
		log.Infof("Dependency '%s' stopped", name)
	}
	s.started = nil
	return errors.Join(errs...)
}

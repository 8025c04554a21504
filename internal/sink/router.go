package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Router delivers every outcome to all attached sinks. One failing sink
// does not stop the others; SendOutcome returns the first failure.
type Router struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
}

func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add attaches s. It is safe to call while outcomes are being sent.
func (r *Router) Add(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

func (r *Router) SendOutcome(ctx context.Context, o Outcome) error {
	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	var first error
	for i, s := range sinks {
		err := s.SendOutcome(ctx, o)
		if err == nil {
			continue
		}
		r.logger.Warn("sink: send outcome failed", "run_id", o.RunID, "sink", i, "error", err)
		if first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink and joins their errors.
func (r *Router) Close() error {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = nil
	r.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

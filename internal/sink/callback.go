package sink

import "context"

// OutcomeFunc is called for each outcome.
type OutcomeFunc func(ctx context.Context, o Outcome) error

// Callback delivers outcomes in-process with no serialisation.
type Callback struct {
	fn OutcomeFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn OutcomeFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) SendOutcome(ctx context.Context, o Outcome) error {
	if c.fn != nil {
		return c.fn(ctx, o)
	}
	return nil
}

func (c *Callback) Close() error { return nil }

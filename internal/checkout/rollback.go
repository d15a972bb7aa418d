package checkout

import (
	"context"

	"github.com/ariefcatur/go-bookstore-checkout/internal/metrics"
	"github.com/rs/zerolog"
)

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// rollback collects compensations as a commit makes progress and runs them
// newest first when the commit fails. Every step is attempted even if an
// earlier one fails.
type rollback struct {
	steps   []compensation
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

func (r *rollback) add(name string, fn func(ctx context.Context) error) {
	r.steps = append(r.steps, compensation{name: name, fn: fn})
}

func (r *rollback) run(ctx context.Context) {
	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		err := step.fn(ctx)
		r.metrics.Compensation(err == nil)
		if err != nil && r.log != nil {
			r.log.Error().Err(err).Str("step", step.name).Msg("compensation failed")
		}
	}
	r.steps = nil
}

package pipeline

import (
	"context"
	"time"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// ServeOptions configures Serve.
type ServeOptions struct {
	BatchSize     int           // cycle once this many interactions are pending
	FlushInterval time.Duration // cycle on this tick when anything is pending

	// Signals returns the metric snapshots for the next cycle. Optional.
	Signals func() []types.IntegrationMetrics

	// OnCycle observes every completed cycle. Optional.
	OnCycle func(*CycleResult)
}

// Serve reads interactions from in and runs a cycle per batch until in is
// closed or ctx is done. A closed channel flushes the remainder and returns
// nil. A failed cycle is logged and its batch dropped.
func (e *Engine) Serve(ctx context.Context, in <-chan types.Interaction, opts ServeOptions) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}

	ticker := time.NewTicker(opts.FlushInterval)
	defer ticker.Stop()

	pending := make([]types.Interaction, 0, opts.BatchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		var signals []types.IntegrationMetrics
		if opts.Signals != nil {
			signals = opts.Signals()
		}
		res, err := e.RunCycle(ctx, pending, signals)
		if err != nil {
			logging.PipelineError("Cycle over %d interactions failed: %v", len(pending), err)
		} else if opts.OnCycle != nil {
			opts.OnCycle(res)
		}
		pending = make([]types.Interaction, 0, opts.BatchSize)
	}

	logging.Pipeline("Serving (batch=%d, flush=%v)", opts.BatchSize, opts.FlushInterval)
	for {
		select {
		case <-ctx.Done():
			if len(pending) > 0 {
				logging.Get(logging.CategoryPipeline).Warn("Dropping %d pending interactions on shutdown", len(pending))
			}
			return ctx.Err()

		case i, ok := <-in:
			if !ok {
				flush()
				logging.Pipeline("Input closed, serve loop done")
				return nil
			}
			pending = append(pending, i)
			if len(pending) >= opts.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

package job

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/engine"
)

// bookIDsArgument names the optional run argument restricting a price
// update to specific books; event-driven runs use it so an import does not
// trigger a full catalog sweep.
const bookIDsArgument = "bookIds"

// UpdateJob refreshes book prices.
type UpdateJob struct {
	engine *engine.UpdateEngine
}

// NewUpdateJob builds an UpdateJob over the update engine.
func NewUpdateJob(e *engine.UpdateEngine) *UpdateJob {
	return &UpdateJob{engine: e}
}

// Name implements Job.
func (*UpdateJob) Name() string { return NameUpdatePrices }

// Run updates prices for the books named in the run's bookIds argument, or
// the whole catalog when the argument is absent.
func (j *UpdateJob) Run(ctx context.Context, run bookprice.JobRun) error {
	raw := run.Argument(bookIDsArgument)
	if len(raw) == 0 {
		return j.engine.UpdateAllPrices(ctx)
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s value %q: %w", bookIDsArgument, v, err)
		}
		ids = append(ids, id)
	}
	return j.engine.UpdatePrices(ctx, ids)
}

// TrimJob compacts price histories.
type TrimJob struct {
	engine *engine.TrimEngine
}

// NewTrimJob builds a TrimJob over the trim engine.
func NewTrimJob(e *engine.TrimEngine) *TrimJob {
	return &TrimJob{engine: e}
}

// Name implements Job.
func (*TrimJob) Name() string { return NameTrimPrices }

// Run sweeps the whole catalog.
func (j *TrimJob) Run(ctx context.Context, _ bookprice.JobRun) error {
	return j.engine.TrimAll(ctx)
}

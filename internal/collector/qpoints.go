package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/hubflow/internal/backend"
	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/exitcode"
	"github.com/vk/hubflow/internal/journal"
	"github.com/vk/hubflow/internal/model"
	"github.com/vk/hubflow/internal/runner"
)

// QPointOptions configures a nested q-point collector.
type QPointOptions struct {
	Backend backend.Backend
	Journal *journal.Journal

	// MaxConcurrent bounds the number of q-point jobs in flight at once.
	// Zero means unbounded.
	MaxConcurrent int

	// InitWalltime overrides the probe walltime, in seconds.
	InitWalltime int

	RunnerMaxIterations int
}

// QPointCollector fans one single-atom Hubbard calculation out over the
// q points of the perturbation mesh. It only operates on inputs already
// narrowed to one atom.
type QPointCollector struct {
	opts QPointOptions
}

// NewQPoints returns a collector that parallelizes over q points.
func NewQPoints(opts QPointOptions) *QPointCollector {
	if opts.InitWalltime <= 0 {
		opts.InitWalltime = DefaultInitWalltime
	}
	return &QPointCollector{opts: opts}
}

// Run executes the nested probe / fan-out / barrier / merge / collect
// protocol for one atom. Storage refs of launched sub-jobs are recorded on
// the caller's tracker; cleanup stays with the enclosing collector.
func (c *QPointCollector) Run(ctx context.Context, in *model.Input, tracker *runner.Tracker) (*model.Result, error) {
	logger := ctxlog.FromContext(ctx).With("collector", "qpoints", "job", in.Label)

	if !perturbsSingleAtom(in) {
		return nil, &exitcode.PhaseError{
			Phase: exitcode.PhaseInit, Code: exitcode.InitializationFailed,
			Cause: fmt.Errorf("inputs do not carry a perturb_only_atom marker"),
		}
	}

	numQPoints, err := c.probe(ctx, in, tracker)
	if err != nil {
		return nil, err
	}
	logger.Info("probe determined the q-point mesh.", "count", numQPoints)

	outcomes := c.fanOut(ctx, in, numQPoints, tracker)

	results := NewResultSet(numQPoints)
	for _, oc := range outcomes {
		if oc.err != nil {
			logger.Error("q-point work item failed, aborting collector.", "item", oc.label, "error", oc.err)
			return nil, &exitcode.PhaseError{Phase: exitcode.PhaseItem, Code: exitcode.ItemFailed, Cause: oc.err}
		}
		results.AddSuccess(oc.label, oc.res.Retrieved)
	}

	return c.collect(ctx, in, results, tracker)
}

func (c *QPointCollector) probe(ctx context.Context, in *model.Input, tracker *runner.Tracker) (int, error) {
	inputs := in.Clone()
	inputs.Label = in.Label + "/initialization"
	inputs.Parameters.Namespace("INPUTHP")["determine_q_mesh_only"] = true
	inputs.MaxWallclockSeconds = c.opts.InitWalltime

	res, err := c.newRunner(tracker).Run(ctx, inputs)
	if err != nil {
		return 0, &exitcode.PhaseError{Phase: exitcode.PhaseInit, Code: exitcode.InitializationFailed, Cause: err}
	}
	if res.NumQPoints <= 0 {
		return 0, &exitcode.PhaseError{
			Phase: exitcode.PhaseInit, Code: exitcode.InitializationFailed,
			Cause: fmt.Errorf("probe reported no q points"),
		}
	}
	return res.NumQPoints, nil
}

// fanOut launches one runner per q point. A semaphore bounds the number in
// flight when a budget was assigned by the enclosing atom collector; the
// barrier still waits for every item.
func (c *QPointCollector) fanOut(ctx context.Context, in *model.Input, numQPoints int, tracker *runner.Tracker) []itemOutcome {
	logger := ctxlog.FromContext(ctx)

	var sem chan struct{}
	if c.opts.MaxConcurrent > 0 {
		sem = make(chan struct{}, c.opts.MaxConcurrent)
	}

	outcomes := make([]itemOutcome, numQPoints)
	var wg sync.WaitGroup
	wg.Add(numQPoints)

	for i := 0; i < numQPoints; i++ {
		q := i + 1 // the external program numbers q points from 1

		inputs := in.Clone()
		inputs.Label = fmt.Sprintf("%s/qpoint_%d", in.Label, q)
		inputhp := inputs.Parameters.Namespace("INPUTHP")
		inputhp["start_q"] = q
		inputhp["last_q"] = q

		outcomes[i].label = fmt.Sprintf("qpoint_%d", q)
		logger.Debug("launching q-point work item.", "item", outcomes[i].label)

		go func(oc *itemOutcome, inputs *model.Input) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			oc.res, oc.err = c.newRunner(tracker).Run(ctx, inputs)
		}(&outcomes[i], inputs)
	}

	wg.Wait()
	return outcomes
}

// collect submits the final job that reassembles the perturbation matrices
// of this atom from the per-q-point archives.
func (c *QPointCollector) collect(ctx context.Context, in *model.Input, results *ResultSet, tracker *runner.Tracker) (*model.Result, error) {
	inputs := in.Clone()
	inputs.Label = in.Label + "/compute_chi"
	inputs.ParentHP = results.Refs()
	inputs.MaxWallclockSeconds = finalWalltime

	ctxlog.FromContext(ctx).Info("launching final q-point collection job.", "items", len(inputs.ParentHP))
	res, err := c.newRunner(tracker).Run(ctx, inputs)
	if err != nil {
		return nil, &exitcode.PhaseError{Phase: exitcode.PhaseFinal, Code: exitcode.FinalFailed, Cause: err}
	}
	return res, nil
}

func (c *QPointCollector) newRunner(tracker *runner.Tracker) *runner.Runner {
	r := runner.New(c.opts.Backend)
	r.Journal = c.opts.Journal
	r.Tracker = tracker
	if c.opts.RunnerMaxIterations > 0 {
		r.MaxIterations = c.opts.RunnerMaxIterations
	}
	return r
}

// perturbsSingleAtom reports whether the inputs carry an enabled
// perturb_only_atom marker.
func perturbsSingleAtom(in *model.Input) bool {
	for key, value := range in.Parameters.Namespace("INPUTHP") {
		if strings.HasPrefix(key, "perturb_only_atom(") {
			if enabled, ok := value.(bool); ok && enabled {
				return true
			}
		}
	}
	return false
}

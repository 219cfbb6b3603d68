// Package collector implements the fan-out/fan-in protocol around the
// restartable job runner: a cheap enumeration-only probe discovers the work
// items, one narrowed runner is launched per item, a full barrier waits for
// every item, and a single final collection job synthesizes the merged
// result from the partial archives.
package collector

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/hubflow/internal/backend"
	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/exitcode"
	"github.com/vk/hubflow/internal/journal"
	"github.com/vk/hubflow/internal/model"
	"github.com/vk/hubflow/internal/runner"
)

// DefaultInitWalltime caps the enumeration-only probe, which performs just
// the symmetry analysis.
const DefaultInitWalltime = 3600

// finalWalltime caps the final collection run. Reassembling the response
// matrices from the partial archives is cheap.
const finalWalltime = 3600

// Options configures a collector.
type Options struct {
	Backend backend.Backend
	Journal *journal.Journal

	// MaxConcurrent is the optional global concurrency budget distributed
	// over the items. Zero means unbounded.
	MaxConcurrent int

	// ParallelizeQPoints nests a q-point collector inside every atom item
	// instead of a flat runner.
	ParallelizeQPoints bool

	// CleanWorkdir releases the working storage of every launched sub-job
	// (probe and final included) on termination, best effort.
	CleanWorkdir bool

	// InitWalltime overrides the probe walltime, in seconds.
	InitWalltime int

	// RunnerMaxIterations bounds each item's retry budget.
	RunnerMaxIterations int
}

// AtomCollector fans one Hubbard calculation out over the perturbed atoms.
type AtomCollector struct {
	opts Options
}

// NewAtoms returns a collector that parallelizes over the Hubbard atoms.
func NewAtoms(opts Options) *AtomCollector {
	if opts.InitWalltime <= 0 {
		opts.InitWalltime = DefaultInitWalltime
	}
	return &AtomCollector{opts: opts}
}

type itemOutcome struct {
	label string
	res   *model.Result
	err   error
}

// Run executes the probe / fan-out / barrier / merge / collect protocol.
// The returned error is phase-tagged; siblings of a failed item are not
// cancelled, only no longer awaited productively.
func (c *AtomCollector) Run(ctx context.Context, in *model.Input) (*model.Result, error) {
	logger := ctxlog.FromContext(ctx).With("collector", "atoms", "job", in.Label)

	tracker := &runner.Tracker{}
	if c.opts.CleanWorkdir {
		defer tracker.CleanAll(ctx, c.opts.Backend)
	}

	sites, qpointBudgets, err := c.probe(ctx, in, tracker)
	if err != nil {
		return nil, err
	}
	logger.Info("probe determined the perturbed sites.", "count", len(sites))

	outcomes := c.fanOut(ctx, in, sites, qpointBudgets, tracker)

	results := NewResultSet(len(sites))
	for _, oc := range outcomes {
		if oc.err != nil {
			logger.Error("work item failed, aborting collector.", "item", oc.label, "error", oc.err)
			return nil, &exitcode.PhaseError{Phase: exitcode.PhaseItem, Code: exitcode.ItemFailed, Cause: oc.err}
		}
		results.AddSuccess(oc.label, oc.res.Retrieved)
	}
	if !results.Complete() {
		return nil, &exitcode.PhaseError{
			Phase: exitcode.PhaseItem, Code: exitcode.ItemFailed,
			Cause: fmt.Errorf("result set incomplete"),
		}
	}

	return c.collect(ctx, in, results, tracker)
}

// probe runs the enumeration-only variant of the unit job and returns the
// ordered site enumeration plus the per-item nested concurrency budgets.
func (c *AtomCollector) probe(ctx context.Context, in *model.Input, tracker *runner.Tracker) ([]model.SiteRef, []int, error) {
	inputs := in.Clone()
	inputs.Label = in.Label + "/initialization"
	inputs.OnlyInitialization = true
	inputs.MaxWallclockSeconds = c.opts.InitWalltime

	res, err := c.newRunner(tracker).Run(ctx, inputs)
	if err != nil {
		return nil, nil, &exitcode.PhaseError{Phase: exitcode.PhaseInit, Code: exitcode.InitializationFailed, Cause: err}
	}
	if len(res.HubbardSites) == 0 {
		return nil, nil, &exitcode.PhaseError{
			Phase: exitcode.PhaseInit, Code: exitcode.InitializationFailed,
			Cause: fmt.Errorf("probe reported no perturbed sites"),
		}
	}

	var budgets []int
	if c.opts.MaxConcurrent > 0 {
		budgets = Distribute(c.opts.MaxConcurrent, len(res.HubbardSites))
	}
	return res.HubbardSites, budgets, nil
}

// fanOut launches one narrowed job per site and waits for all of them. Every
// item is submitted before any is awaited; the barrier is full.
func (c *AtomCollector) fanOut(ctx context.Context, in *model.Input, sites []model.SiteRef, budgets []int, tracker *runner.Tracker) []itemOutcome {
	logger := ctxlog.FromContext(ctx)

	outcomes := make([]itemOutcome, len(sites))
	var wg sync.WaitGroup
	wg.Add(len(sites))

	for i, site := range sites {
		inputs := in.Clone()
		inputs.Label = fmt.Sprintf("%s/atom_%d", in.Label, site.Index)
		inputs.Parameters.Namespace("INPUTHP")[fmt.Sprintf("perturb_only_atom(%d)", site.Index)] = true

		budget := 0
		if i < len(budgets) {
			budget = budgets[i]
		}

		outcomes[i].label = fmt.Sprintf("atom_%d", site.Index)
		logger.Info("launching work item.", "item", outcomes[i].label, "kind", site.Kind, "qpoint_budget", budget)

		go func(oc *itemOutcome, inputs *model.Input, budget int) {
			defer wg.Done()
			if c.opts.ParallelizeQPoints {
				nested := NewQPoints(QPointOptions{
					Backend:             c.opts.Backend,
					Journal:             c.opts.Journal,
					MaxConcurrent:       budget,
					RunnerMaxIterations: c.opts.RunnerMaxIterations,
				})
				oc.res, oc.err = nested.Run(ctx, inputs, tracker)
				return
			}
			oc.res, oc.err = c.newRunner(tracker).Run(ctx, inputs)
		}(&outcomes[i], inputs, budget)
	}

	wg.Wait()
	return outcomes
}

// collect submits the single final job that reassembles the full response
// matrices from the partial per-atom archives.
func (c *AtomCollector) collect(ctx context.Context, in *model.Input, results *ResultSet, tracker *runner.Tracker) (*model.Result, error) {
	logger := ctxlog.FromContext(ctx)

	inputs := in.Clone()
	inputs.Label = in.Label + "/compute_hp"
	inputs.ParentHP = results.Refs()
	inputs.MaxWallclockSeconds = finalWalltime

	logger.Info("launching final collection job.", "items", len(inputs.ParentHP))
	res, err := c.newRunner(tracker).Run(ctx, inputs)
	if err != nil {
		return nil, &exitcode.PhaseError{Phase: exitcode.PhaseFinal, Code: exitcode.FinalFailed, Cause: err}
	}
	return res, nil
}

func (c *AtomCollector) newRunner(tracker *runner.Tracker) *runner.Runner {
	r := runner.New(c.opts.Backend)
	r.Journal = c.opts.Journal
	r.Tracker = tracker
	if c.opts.RunnerMaxIterations > 0 {
		r.MaxIterations = c.opts.RunnerMaxIterations
	}
	return r
}

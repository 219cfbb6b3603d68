// Package hubbard implements the top-level self-consistent convergence
// loop: it iteratively relaxes the structure (optional), runs one or two
// ground-state calculations depending on the electronic character of the
// system, perturbs the last ground state to obtain new Hubbard parameters,
// and repeats until the parameter set stabilizes within tolerances or the
// iteration budget runs out.
package hubbard

import (
	"context"
	"fmt"

	"github.com/vk/hubflow/internal/backend"
	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/exitcode"
	"github.com/vk/hubflow/internal/journal"
	"github.com/vk/hubflow/internal/metrics"
	"github.com/vk/hubflow/internal/model"
	"github.com/vk/hubflow/internal/runner"
	"github.com/vk/hubflow/internal/structure"
)

// Smearing and convergence-threshold defaults for the ground-state runs.
const (
	defaultSmearingMethod  = "cold"
	defaultSmearingDegauss = 0.01
	convThrPreconverge     = 1e-10
	convThrStrictFinal     = 1e-15
)

// Options configures one self-consistent workflow instance.
type Options struct {
	Backend backend.Backend
	Journal *journal.Journal

	Structure *structure.Structure

	// SCFParameters and HPParameters are the caller's base input cards for
	// the ground-state and perturbation runs. The loop layers its own
	// per-step keys on clones of these.
	SCFParameters model.Parameters
	HPParameters  model.Parameters

	ToleranceOnsite    float64
	ToleranceIntersite float64

	MaxIterations   int
	MetaConvergence bool
	CleanWorkdir    bool

	// RelaxEnabled turns on the geometry relaxation step. It is skipped
	// for the first SkipRelaxIterations iterations and thereafter runs
	// only when iteration % RelaxFrequency == 0.
	RelaxEnabled        bool
	SkipRelaxIterations int
	RelaxFrequency      int

	ParallelizeAtoms   bool
	ParallelizeQPoints bool
	MaxConcurrent      int

	RunnerMaxIterations int
}

// Outcome is the user-visible result of a converged (or single-shot) run.
type Outcome struct {
	Structure  *structure.Structure
	Converged  bool
	Iterations int
}

// iterationContext is the mutable state of the loop. It is owned exclusively
// by the coordinator; work items only ever see read-only input snapshots.
type iterationContext struct {
	iteration int

	current  *structure.Structure
	previous []structure.Parameter

	magneticMoments map[string]float64

	isInsulator *bool // nil until the first reconnaissance
	isMagnetic  bool
	converged   bool

	lastSCF model.StorageRef

	tracker *runner.Tracker
}

// Workflow drives the self-consistent cycle.
type Workflow struct {
	opts Options
	ctx  *iterationContext
}

// New validates the options and returns a ready workflow.
func New(opts Options) (*Workflow, error) {
	if opts.Structure == nil {
		return nil, fmt.Errorf("hubbard: a structure with initialized parameters is required")
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.RelaxFrequency <= 0 {
		opts.RelaxFrequency = 1
	}
	if opts.ToleranceOnsite <= 0 {
		opts.ToleranceOnsite = 0.1
	}
	if opts.ToleranceIntersite <= 0 {
		opts.ToleranceIntersite = 0.01
	}
	if opts.ParallelizeQPoints && !opts.ParallelizeAtoms {
		return nil, fmt.Errorf("hubbard: q-point parallelization requires atom parallelization")
	}

	nspin, _ := opts.SCFParameters.Float("SYSTEM", "nspin")
	switch nspin {
	case 0, 1, 2:
	default:
		return nil, fmt.Errorf("hubbard: nspin=%v is not supported by the perturbation program", nspin)
	}
	if nspin == 2 {
		if moments := magneticMoments(opts.SCFParameters); moments == nil {
			return nil, fmt.Errorf("hubbard: nspin == 2 requires starting_magnetization in the SCF parameters")
		}
	}

	return &Workflow{opts: opts}, nil
}

// Run executes the loop until convergence, budget exhaustion, or the first
// sub-step failure. Iterations are strictly sequential: no step of iteration
// k+1 starts before every step of iteration k reached a terminal state.
func (w *Workflow) Run(ctx context.Context) (*Outcome, error) {
	logger := ctxlog.FromContext(ctx)

	w.setup(ctx)

	for w.shouldRunIteration() {
		w.ctx.iteration++
		logger.Info("starting self-consistency iteration.", "iteration", w.ctx.iteration, "max_iterations", w.opts.MaxIterations)

		if err := w.runIteration(ctx); err != nil {
			return nil, err
		}
		metrics.LoopIterations.Inc()

		if w.opts.CleanWorkdir {
			w.ctx.tracker.CleanAll(ctx, w.opts.Backend)
		}
	}

	return w.results(ctx)
}

// setup primes the iteration context from the inputs.
func (w *Workflow) setup(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	w.ctx = &iterationContext{
		current: w.opts.Structure.Clone(),
		tracker: &runner.Tracker{},
	}

	nspin, _ := w.opts.SCFParameters.Float("SYSTEM", "nspin")
	if nspin == 2 {
		w.ctx.isMagnetic = true
		w.ctx.magneticMoments = magneticMoments(w.opts.SCFParameters)
		logger.Info("system is treated as magnetic because nspin == 2 in the SCF parameters.")
	} else {
		logger.Info("system is treated as non-magnetic because nspin == 1 in the SCF parameters.")
	}
}

func (w *Workflow) shouldRunIteration() bool {
	return !w.ctx.converged && w.ctx.iteration < w.opts.MaxIterations
}

// runIteration performs one full relax / scf / perturbation cycle.
func (w *Workflow) runIteration(ctx context.Context) error {
	if w.shouldRunRelax(ctx) {
		if err := w.runRelax(ctx); err != nil {
			return err
		}
	}

	smeared, err := w.runSCFSmearing(ctx)
	if err != nil {
		return err
	}
	w.classify(ctx, smeared)

	if *w.ctx.isInsulator {
		if err := w.runSCFFixed(ctx, smeared); err != nil {
			return err
		}
	}

	hp, err := w.runHubbard(ctx)
	if err != nil {
		return err
	}

	return w.inspectHubbard(ctx, hp)
}

// shouldRunRelax gates the geometry step: never during the first
// SkipRelaxIterations iterations, and afterwards only on iterations
// divisible by RelaxFrequency. Early iterations carry unconverged parameter
// estimates that would distort the geometry.
func (w *Workflow) shouldRunRelax(ctx context.Context) bool {
	logger := ctxlog.FromContext(ctx)

	if !w.opts.RelaxEnabled {
		return false
	}
	if w.ctx.iteration <= w.opts.SkipRelaxIterations {
		logger.Info("skipping relaxation for this iteration.",
			"iteration", w.ctx.iteration, "skip_relax_iterations", w.opts.SkipRelaxIterations)
		return false
	}
	if w.ctx.iteration%w.opts.RelaxFrequency != 0 {
		logger.Info("skipping relaxation for this iteration.",
			"iteration", w.ctx.iteration, "relax_frequency", w.opts.RelaxFrequency)
		return false
	}
	return true
}

// shouldCheckConvergence reports whether this iteration's parameters are
// compared against the previous set. Disabled entirely without meta
// convergence, and deferred while relaxation is still being skipped.
func (w *Workflow) shouldCheckConvergence(ctx context.Context) bool {
	if !w.opts.MetaConvergence {
		return false
	}
	if w.ctx.iteration <= w.opts.SkipRelaxIterations {
		ctxlog.FromContext(ctx).Info("skipping convergence check for this iteration.",
			"iteration", w.ctx.iteration, "skip_relax_iterations", w.opts.SkipRelaxIterations)
		return false
	}
	return true
}

// results assembles the user-visible outcome.
func (w *Workflow) results(ctx context.Context) (*Outcome, error) {
	logger := ctxlog.FromContext(ctx)

	if !w.ctx.converged {
		logger.Error("parameters did not converge within the iteration budget.", "iteration", w.ctx.iteration)
		return nil, &exitcode.IterationError{Iteration: w.ctx.iteration, Code: exitcode.SelfConsistencyNotReached}
	}

	logger.Info("parameters self-consistently converged.", "iterations", w.ctx.iteration)
	return &Outcome{
		Structure:  w.ctx.current,
		Converged:  w.opts.MetaConvergence,
		Iterations: w.ctx.iteration,
	}, nil
}

// magneticMoments extracts the starting magnetization map from a parameter
// table, nil when absent.
func magneticMoments(params model.Parameters) map[string]float64 {
	system, ok := params["SYSTEM"]
	if !ok {
		return nil
	}
	raw, ok := system["starting_magnetization"].(map[string]any)
	if !ok {
		if typed, ok := system["starting_magnetization"].(map[string]float64); ok {
			out := make(map[string]float64, len(typed))
			for k, v := range typed {
				out[k] = v
			}
			return out
		}
		return nil
	}
	out := make(map[string]float64, len(raw))
	for kind, value := range raw {
		switch v := value.(type) {
		case float64:
			out[kind] = v
		case int:
			out[kind] = float64(v)
		}
	}
	return out
}

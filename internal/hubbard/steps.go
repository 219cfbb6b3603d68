package hubbard

import (
	"context"
	"fmt"

	"github.com/vk/hubflow/internal/collector"
	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/exitcode"
	"github.com/vk/hubflow/internal/model"
	"github.com/vk/hubflow/internal/runner"
	"github.com/vk/hubflow/internal/structure"
)

// runRelax performs the geometry relaxation and adopts the relaxed structure
// as the current one.
func (w *Workflow) runRelax(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	inputs := w.scfInputs(fmt.Sprintf("iteration_%02d_relax", w.ctx.iteration))
	inputs.Relax = true
	inputs.Parameters.Namespace("CONTROL")["calculation"] = "relax"

	logger.Info("launching relaxation.", "job", inputs.Label)
	res, err := w.newRunner().Run(ctx, inputs)
	if err != nil {
		logger.Error("relaxation failed.", "error", err)
		return &exitcode.IterationError{Iteration: w.ctx.iteration, Code: exitcode.RelaxFailed, Cause: err}
	}
	if res.OutputStructure != nil {
		// The relaxed geometry keeps the current Hubbard parameters; the
		// relaxation step never touches them.
		relaxed := res.OutputStructure.Clone()
		relaxed.Parameters = append([]structure.Parameter(nil), w.ctx.current.Parameters...)
		w.ctx.current = relaxed
	}
	return nil
}

// runSCFSmearing performs the ground-state run with smeared occupations.
// Smearing keeps the run robust regardless of the (yet unknown) electronic
// character; the record it produces doubles as the reconnaissance.
func (w *Workflow) runSCFSmearing(ctx context.Context) (*model.Result, error) {
	logger := ctxlog.FromContext(ctx)

	inputs := w.scfInputs(fmt.Sprintf("iteration_%02d_scf_smearing", w.ctx.iteration))
	system := inputs.Parameters.Namespace("SYSTEM")
	system["occupations"] = "smearing"
	if _, ok := system["smearing"]; !ok {
		system["smearing"] = defaultSmearingMethod
	}
	if _, ok := system["degauss"]; !ok {
		system["degauss"] = defaultSmearingDegauss
	}
	electrons := inputs.Parameters.Namespace("ELECTRONS")
	if _, ok := electrons["conv_thr"]; !ok {
		electrons["conv_thr"] = convThrPreconverge
	}

	logger.Info("launching ground-state run with smeared occupations.", "job", inputs.Label)
	res, err := w.newRunner().Run(ctx, inputs)
	if err != nil {
		logger.Error("ground-state run failed.", "error", err)
		return nil, &exitcode.IterationError{Iteration: w.ctx.iteration, Code: exitcode.SCFFailed, Cause: err}
	}

	w.ctx.lastSCF = res.Remote
	return res, nil
}

// classify derives the electronic character from the smeared ground-state
// record. A positive band gap marks an insulator; anything ambiguous is
// treated as a metal, which only costs the cheaper single-run path.
func (w *Workflow) classify(ctx context.Context, res *model.Result) {
	insulator := res.BandGap > 0
	w.ctx.isInsulator = &insulator
	ctxlog.FromContext(ctx).Info("classified the electronic character.",
		"band_gap", res.BandGap, "insulator", insulator)
}

// runSCFFixed re-runs the ground state with fixed occupations for insulators.
// The band count is pinned from the smeared record, the smearing keys are
// dropped, and for magnetic systems the total magnetization is held at the
// nearest integer.
func (w *Workflow) runSCFFixed(ctx context.Context, smeared *model.Result) error {
	logger := ctxlog.FromContext(ctx)

	inputs := w.scfInputs(fmt.Sprintf("iteration_%02d_scf_fixed", w.ctx.iteration))
	inputs.ParentSCF = smeared.Remote

	control := inputs.Parameters.Namespace("CONTROL")
	control["restart_mode"] = "from_scratch"

	system := inputs.Parameters.Namespace("SYSTEM")
	system["occupations"] = "fixed"
	system["nbnd"] = smeared.NumberOfBands
	delete(system, "degauss")
	delete(system, "smearing")
	delete(system, "starting_magnetization")

	electrons := inputs.Parameters.Namespace("ELECTRONS")
	electrons["startingpot"] = "file"
	electrons["startingwfc"] = "file"
	electrons["conv_thr"] = convThrStrictFinal

	if w.ctx.isMagnetic {
		pinned, ok := structure.PinTotalMagnetization(smeared.TotalMagnetization)
		if !ok {
			logger.Error("total magnetization is too far from an integer to pin.",
				"total_magnetization", smeared.TotalMagnetization)
			return &exitcode.IterationError{
				Iteration: w.ctx.iteration, Code: exitcode.NonIntegerMagnetization,
				Cause: fmt.Errorf("total magnetization %v is not close to an integer", smeared.TotalMagnetization),
			}
		}
		system["tot_magnetization"] = pinned
		if pinned == 0 {
			// Unpolarized ground state with fixed occupations needs no
			// spin channels at all.
			delete(system, "nspin")
		}
	}

	logger.Info("launching ground-state run with fixed occupations.",
		"job", inputs.Label, "nbnd", smeared.NumberOfBands)
	res, err := w.newRunner().Run(ctx, inputs)
	if err != nil {
		logger.Error("ground-state run failed.", "error", err)
		return &exitcode.IterationError{Iteration: w.ctx.iteration, Code: exitcode.SCFFailed, Cause: err}
	}

	w.ctx.lastSCF = res.Remote
	return nil
}

// runHubbard perturbs the last ground state. With atom parallelization on,
// the fan-out collector takes over; otherwise a single restartable runner
// carries the whole calculation.
func (w *Workflow) runHubbard(ctx context.Context) (*model.Result, error) {
	logger := ctxlog.FromContext(ctx)

	inputs := &model.Input{
		Label:      fmt.Sprintf("iteration_%02d_hp", w.ctx.iteration),
		Kind:       model.KindHubbard,
		Parameters: w.opts.HPParameters.Clone(),
		ParentSCF:  w.ctx.lastSCF,
	}

	var (
		res *model.Result
		err error
	)
	if w.opts.ParallelizeAtoms {
		logger.Info("launching perturbation with atom parallelization.", "job", inputs.Label)
		c := collector.NewAtoms(collector.Options{
			Backend:             w.opts.Backend,
			Journal:             w.opts.Journal,
			MaxConcurrent:       w.opts.MaxConcurrent,
			ParallelizeQPoints:  w.opts.ParallelizeQPoints,
			RunnerMaxIterations: w.opts.RunnerMaxIterations,
		})
		res, err = c.Run(ctx, inputs)
	} else {
		logger.Info("launching perturbation.", "job", inputs.Label)
		res, err = w.newRunner().Run(ctx, inputs)
	}
	if err != nil {
		logger.Error("perturbation failed.", "error", err)
		return nil, &exitcode.IterationError{Iteration: w.ctx.iteration, Code: exitcode.HubbardFailed, Cause: err}
	}
	return res, nil
}

// scfInputs assembles a fresh ground-state input from the base parameters,
// injecting the current magnetic moments for magnetic systems.
func (w *Workflow) scfInputs(label string) *model.Input {
	inputs := &model.Input{
		Label:      label,
		Kind:       model.KindSCF,
		Parameters: w.opts.SCFParameters.Clone(),
	}
	inputs.Parameters.Namespace("CONTROL")["calculation"] = "scf"
	if w.ctx.isMagnetic && len(w.ctx.magneticMoments) > 0 {
		moments := make(map[string]any, len(w.ctx.magneticMoments))
		for kind, m := range w.ctx.magneticMoments {
			moments[kind] = m
		}
		inputs.Parameters.Namespace("SYSTEM")["starting_magnetization"] = moments
	}
	return inputs
}

func (w *Workflow) newRunner() *runner.Runner {
	r := runner.New(w.opts.Backend)
	r.Journal = w.opts.Journal
	r.Tracker = w.ctx.tracker
	if w.opts.RunnerMaxIterations > 0 {
		r.MaxIterations = w.opts.RunnerMaxIterations
	}
	return r
}

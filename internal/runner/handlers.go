package runner

import (
	"context"
	"strings"

	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/exitcode"
	"github.com/vk/hubflow/internal/model"
)

// Deterministic mutation constants for the convergence-not-reached handler.
// The external program cannot restart an incomplete run, so the only lever
// is to resubmit from scratch with a damped mixing factor and a larger
// internal iteration cap.
const (
	alphaMixFactor  = 0.5
	defaultAlphaMix = 0.20
	niterMaxFactor  = 2
	defaultNiterMax = 200
)

// DefaultHandlers returns the standard handler chain, highest priority first.
func DefaultHandlers() []Handler {
	return []Handler{
		{Priority: 600, Name: "unrecoverable_failure", Handle: handleUnrecoverableFailure},
		{Priority: 460, Name: "computing_cholesky", Handle: handleComputingCholesky},
		{Priority: 410, Name: "convergence_not_reached", Handle: handleConvergenceNotReached},
	}
}

// handleUnrecoverableFailure aborts on any exit status below the severity
// threshold. Those are failures of the submission machinery or the input
// deck, which no amount of resubmission will fix.
func handleUnrecoverableFailure(ctx context.Context, _ *Attempt, res *model.Result) *Report {
	if !exitcode.Unrecoverable(res.ExitStatus) {
		return nil
	}
	ctxlog.FromContext(ctx).Error("unrecoverable error, aborting.", "exit_status", res.ExitStatus)
	return &Report{Err: &exitcode.Error{Code: exitcode.UnrecoverableFailure}}
}

// handleComputingCholesky reacts to Cholesky factorization failures by
// forcing the diagonalization parallelism to 1. Parallel diagonalization can
// produce too much numerical noise, and the program offers no alternative
// algorithm. If the flag is already 1 there is nothing left to try.
func handleComputingCholesky(ctx context.Context, attempt *Attempt, res *model.Result) *Report {
	if exitcode.Code(res.ExitStatus) != exitcode.ComputingCholesky {
		return nil
	}
	logger := ctxlog.FromContext(ctx)

	cmdline := attempt.Inputs.Cmdline()
	for i, arg := range cmdline {
		switch arg {
		case "-ndiag", "-northo", "-nd":
			if i+1 < len(cmdline) && cmdline[i+1] == "1" {
				logger.Warn("diagonalization flag already 1, stopping.")
				return &Report{}
			}
			cmdline[i+1] = "1"
			attempt.Inputs.SetCmdline(cmdline)
			logger.Info("set diagonalization parallelism to 1, restarting.")
			return &Report{Restart: true}
		}
	}

	attempt.Inputs.SetCmdline(append(cmdline, "-nd", "1"))
	logger.Info("set diagonalization parallelism to 1, restarting.")
	return &Report{Restart: true}
}

// handleConvergenceNotReached reacts to the program's numerical
// non-convergence by halving every per-site mixing factor (or seeding the
// default when none is set) and doubling the internal iteration cap, then
// restarting from scratch.
func handleConvergenceNotReached(ctx context.Context, attempt *Attempt, res *model.Result) *Report {
	if exitcode.Code(res.ExitStatus) != exitcode.ConvergenceNotReached {
		return nil
	}
	logger := ctxlog.FromContext(ctx)

	inputhp := attempt.Inputs.Parameters.Namespace("INPUTHP")

	// alpha_mix is an array parameter: every alpha_mix(i) key present is
	// scaled; absent any, the first element is seeded below the program's
	// own default.
	scaled := false
	for key, value := range inputhp {
		if !strings.HasPrefix(key, "alpha_mix(") {
			continue
		}
		if v, ok := asFloat(value); ok {
			inputhp[key] = v * alphaMixFactor
			logger.Info("convergence not reached, damping mixing factor.", "key", key, "value", inputhp[key])
			scaled = true
		}
	}
	if !scaled {
		inputhp["alpha_mix(1)"] = defaultAlphaMix
		logger.Info("convergence not reached, seeding default mixing factor.", "key", "alpha_mix(1)", "value", defaultAlphaMix)
	}

	if v, ok := asFloat(inputhp["niter_max"]); ok {
		inputhp["niter_max"] = v * niterMaxFactor
	} else {
		inputhp["niter_max"] = float64(defaultNiterMax)
	}
	logger.Info("raised internal iteration cap.", "niter_max", inputhp["niter_max"])

	return &Report{Restart: true}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

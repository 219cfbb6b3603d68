// Package runner implements the restartable job runner: it submits one unit
// job to the execution backend and, on failure, walks a priority-ordered
// chain of error handlers that either mutate the inputs and restart the job
// from scratch, or abort with a classified exit code.
package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/hubflow/internal/backend"
	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/exitcode"
	"github.com/vk/hubflow/internal/journal"
	"github.com/vk/hubflow/internal/metrics"
	"github.com/vk/hubflow/internal/model"
)

// DefaultMaxIterations bounds the submit/inspect cycle of one runner.
const DefaultMaxIterations = 5

// maxSecondsFactor shrinks the program-internal time budget below the
// scheduler walltime so the program stops itself before it is killed.
const maxSecondsFactor = 0.95

// Attempt is the mutable state a handler operates on between restarts. The
// inputs start as a deep copy of the submission, so handler mutations never
// leak into the caller's snapshot.
type Attempt struct {
	Inputs    *model.Input
	Iteration int
}

// Report is the outcome of a matched handler. Restart resubmits the job with
// the (possibly mutated) attempt inputs. A non-nil Err aborts with that
// error. A zero Report aborts with the job's own exit status.
type Report struct {
	Restart bool
	Err     error
}

// Handler inspects a failed result. A nil return means the handler does not
// apply and the walk continues with the next one.
type Handler struct {
	Priority int
	Name     string
	Handle   func(ctx context.Context, attempt *Attempt, res *model.Result) *Report
}

// Runner drives one unit job to a terminal state.
type Runner struct {
	Backend       backend.Backend
	Journal       *journal.Journal
	Tracker       *Tracker
	MaxIterations int

	handlers []Handler
}

// New returns a runner with the default handler chain.
func New(b backend.Backend) *Runner {
	return &Runner{
		Backend:       b,
		MaxIterations: DefaultMaxIterations,
		handlers:      DefaultHandlers(),
	}
}

// WithHandlers replaces the handler chain. Handlers are walked in descending
// priority order; the first one returning a non-nil report wins.
func (r *Runner) WithHandlers(handlers ...Handler) *Runner {
	r.handlers = append([]Handler(nil), handlers...)
	return r
}

// Run submits the job and retries it under the handler chain until success,
// an abort, or exhaustion of the iteration budget.
func (r *Runner) Run(ctx context.Context, in *model.Input) (*model.Result, error) {
	logger := ctxlog.FromContext(ctx).With("job", in.Label, "kind", in.Kind)

	attempt := &Attempt{Inputs: in.Clone()}
	r.prepare(attempt.Inputs)

	handlers := append([]Handler(nil), r.handlers...)
	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].Priority > handlers[j].Priority })

	maxIterations := r.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	for attempt.Iteration = 1; attempt.Iteration <= maxIterations; attempt.Iteration++ {
		res, err := r.launch(ctx, attempt)
		if err != nil {
			return nil, fmt.Errorf("submitting %s: %w", in.Label, err)
		}
		if r.Tracker != nil {
			r.Tracker.Add(res.Remote)
		}

		if res.OK() {
			logger.Info("job finished successfully.", "iteration", attempt.Iteration)
			return res, nil
		}

		logger.Warn("job failed, walking error handlers.",
			"iteration", attempt.Iteration, "exit_status", res.ExitStatus)

		report := r.inspect(ctx, handlers, attempt, res)
		switch {
		case report == nil:
			// No handler matched: the failure speaks for itself.
			return res, &exitcode.Error{Code: exitcode.Code(res.ExitStatus)}
		case report.Err != nil:
			return res, report.Err
		case report.Restart:
			metrics.JobRestarts.WithLabelValues(in.Kind).Inc()
			r.Journal.Forget(in.Label)
			logger.Info("restarting job from scratch.", "iteration", attempt.Iteration)
			continue
		default:
			return res, &exitcode.Error{Code: exitcode.Code(res.ExitStatus)}
		}
	}

	logger.Error("reached the maximum number of iterations without success.", "max_iterations", maxIterations)
	return nil, &exitcode.Error{Code: exitcode.MaximumIterationsExceeded}
}

// launch submits (or, after a crash, re-attaches to) one attempt and waits
// for its terminal state.
func (r *Runner) launch(ctx context.Context, attempt *Attempt) (*model.Result, error) {
	logger := ctxlog.FromContext(ctx)

	if h, ok := r.Journal.Lookup(attempt.Inputs.Label); ok {
		logger.Info("found journaled submission, re-attaching instead of resubmitting.",
			"job", attempt.Inputs.Label, "handle", h)
		return r.Backend.Wait(ctx, h)
	}

	h, err := r.Backend.Submit(ctx, attempt.Inputs)
	if err != nil {
		return nil, err
	}
	if err := r.Journal.Record(attempt.Inputs.Label, h); err != nil {
		return nil, err
	}
	metrics.JobsSubmitted.WithLabelValues(attempt.Inputs.Kind).Inc()
	logger.Debug("job submitted.", "job", attempt.Inputs.Label, "handle", h, "iteration", attempt.Iteration)

	return r.Backend.Wait(ctx, h)
}

// inspect walks the handler chain in priority order; first match wins.
func (r *Runner) inspect(ctx context.Context, handlers []Handler, attempt *Attempt, res *model.Result) *Report {
	logger := ctxlog.FromContext(ctx)
	for _, h := range handlers {
		if report := h.Handle(ctx, attempt, res); report != nil {
			logger.Debug("error handler matched.", "handler", h.Name, "priority", h.Priority)
			return report
		}
	}
	return nil
}

// prepare applies submission-time defaults that depend on the environment
// rather than the caller: the program-internal time budget is capped below
// the scheduler walltime unless the caller pinned it already.
func (r *Runner) prepare(in *model.Input) {
	if in.Kind != model.KindHubbard || in.MaxWallclockSeconds <= 0 {
		return
	}
	inputhp := in.Parameters.Namespace("INPUTHP")
	if _, ok := inputhp["max_seconds"]; !ok {
		inputhp["max_seconds"] = float64(in.MaxWallclockSeconds) * maxSecondsFactor
	}
}

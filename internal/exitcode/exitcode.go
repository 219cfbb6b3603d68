// Package exitcode defines the failure taxonomy shared by the job runner,
// the fan-out collectors and the convergence loop. Codes mirror the exit
// statuses of the external toolchain where one exists, so a failure can be
// traced back through the logs of both systems.
package exitcode

import (
	"errors"
	"fmt"
)

// Code is a workflow exit status. Zero means success.
type Code int

// Runner-level codes.
const (
	OK Code = 0

	// UnrecoverableFailure is reported when a calculation failed with an
	// exit status below the severity threshold, for which no retry can
	// help.
	UnrecoverableFailure Code = 300

	// MaximumIterationsExceeded is reported when the retry budget ran out
	// without the calculation ever succeeding. Distinct from
	// UnrecoverableFailure: the last failure itself was recoverable.
	MaximumIterationsExceeded Code = 401
)

// External program codes the handler chain matches on.
const (
	// ComputingCholesky is the program's Cholesky factorization failure,
	// typically numerical noise from parallel diagonalization.
	ComputingCholesky Code = 461

	// ConvergenceNotReached is the program's report that its internal
	// linear-response cycle did not converge. Recoverable by restarting
	// with a damped mixing factor.
	ConvergenceNotReached Code = 462
)

// severityThreshold separates unrecoverable failures (below) from ones a
// handler may retry (at or above).
const severityThreshold = 400

// Unrecoverable reports whether a failed job's exit status is below the
// severity threshold and therefore not worth retrying.
func Unrecoverable(status int) bool {
	return status > 0 && status < severityThreshold
}

// Phase names the stage of a fan-out collector at which a failure occurred.
type Phase string

const (
	PhaseInit  Phase = "initialization"
	PhaseItem  Phase = "item"
	PhaseFinal Phase = "final"
)

// Collector codes, tagged with the phase through PhaseError.
const (
	ItemFailed           Code = 300
	InitializationFailed Code = 301
	FinalFailed          Code = 302
)

// Convergence-loop codes, tagged with the iteration through IterationError.
const (
	ReconFailed               Code = 401
	RelaxFailed               Code = 402
	SCFFailed                 Code = 403
	HubbardFailed             Code = 404
	NonIntegerMagnetization   Code = 405
	SelfConsistencyNotReached Code = 601
)

// Error carries a bare workflow exit code.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// PhaseError is a fan-out failure tagged with the collector phase.
type PhaseError struct {
	Phase Phase
	Code  Code
	Cause error
}

func (e *PhaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s phase failed with exit code %d: %v", e.Phase, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s phase failed with exit code %d", e.Phase, e.Code)
}

func (e *PhaseError) Unwrap() error { return e.Cause }

// IterationError is a convergence-loop failure tagged with the iteration in
// which the step failed.
type IterationError struct {
	Iteration int
	Code      Code
	Cause     error
}

func (e *IterationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("iteration %d failed with exit code %d: %v", e.Iteration, e.Code, e.Cause)
	}
	return fmt.Sprintf("iteration %d failed with exit code %d", e.Iteration, e.Code)
}

func (e *IterationError) Unwrap() error { return e.Cause }

// CodeOf extracts the workflow exit code from any error in this taxonomy,
// unwrapping as needed; the outermost tagged error wins. Unknown errors map
// to UnrecoverableFailure.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch t := e.(type) {
		case *Error:
			return t.Code
		case *PhaseError:
			return t.Code
		case *IterationError:
			return t.Code
		}
	}
	return UnrecoverableFailure
}

// Package backend defines the contract between the workflow coordinator and
// the external execution backend. The coordinator performs no CPU-bound work
// itself: it submits structured inputs, suspends on Wait, and reacts to the
// terminal record. Walltime enforcement is the backend's job.
package backend

import (
	"context"

	"github.com/vk/hubflow/internal/model"
)

// Handle is an opaque reference to one external submission.
type Handle string

// Backend submits unit jobs to the external compute program and reports
// their terminal state.
type Backend interface {
	// Submit hands one structured input to the backend and returns an
	// opaque handle. Submission errors are infrastructure failures, not
	// calculation failures.
	Submit(ctx context.Context, in *model.Input) (Handle, error)

	// Wait blocks until the job behind the handle reaches a terminal
	// state and returns its record. A non-zero Result.ExitStatus is the
	// program's failure classification; Wait itself errors only on
	// infrastructure problems.
	Wait(ctx context.Context, h Handle) (*model.Result, error)

	// Clean releases the working storage behind a ref, best effort.
	Clean(ctx context.Context, ref model.StorageRef) error
}

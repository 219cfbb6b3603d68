package runner

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/vk/hubflow/internal/backend"
	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/model"
)

// Tracker records the working storage of every sub-job launched under one
// collector or loop iteration, so it can be released best effort on
// termination.
type Tracker struct {
	mu   sync.Mutex
	refs []model.StorageRef
}

// Add records storage refs. Empty refs are ignored.
func (t *Tracker) Add(refs ...model.StorageRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ref := range refs {
		if ref != "" {
			t.refs = append(t.refs, ref)
		}
	}
}

// Refs returns a snapshot of the recorded refs.
func (t *Tracker) Refs() []model.StorageRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.StorageRef(nil), t.refs...)
}

// CleanAll releases every recorded ref. Release errors are aggregated and
// logged as a single warning, never propagated: cleanup is best effort.
func (t *Tracker) CleanAll(ctx context.Context, b backend.Backend) {
	logger := ctxlog.FromContext(ctx)

	var merr *multierror.Error
	cleaned := 0
	for _, ref := range t.Refs() {
		if err := b.Clean(ctx, ref); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		logger.Info("cleaned working storage of launched calculations.", "count", cleaned)
	}
	if err := merr.ErrorOrNil(); err != nil {
		logger.Warn("some working storage could not be released.", "error", err)
	}

	t.mu.Lock()
	t.refs = nil
	t.mu.Unlock()
}

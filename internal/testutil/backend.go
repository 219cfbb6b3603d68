package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vk/hubflow/internal/backend"
	"github.com/vk/hubflow/internal/model"
)

// ScriptedBackend is an in-memory backend.Backend whose terminal results are
// scripted per job label. Unscripted submissions succeed with deterministic
// storage refs. All submissions and cleanups are recorded for assertions.
type ScriptedBackend struct {
	// Default, when set, produces the result for unscripted submissions.
	Default func(in *model.Input) *model.Result

	mu          sync.Mutex
	scripted    map[string][]*model.Result
	pending     map[backend.Handle]*model.Result
	submissions []*model.Input
	cleaned     []model.StorageRef
}

// NewScriptedBackend returns an empty scripted backend.
func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{
		scripted: map[string][]*model.Result{},
		pending:  map[backend.Handle]*model.Result{},
	}
}

// Script queues results for submissions under the given label, consumed in
// order.
func (b *ScriptedBackend) Script(label string, results ...*model.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripted[label] = append(b.scripted[label], results...)
}

// Failure queues a single failed result with the given exit status.
func (b *ScriptedBackend) Failure(label string, exitStatus int) {
	b.Script(label, &model.Result{ExitStatus: exitStatus})
}

// Submit implements backend.Backend.
func (b *ScriptedBackend) Submit(ctx context.Context, in *model.Input) (backend.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := in.Clone()
	b.submissions = append(b.submissions, snapshot)

	var res *model.Result
	if queue := b.scripted[in.Label]; len(queue) > 0 {
		res, b.scripted[in.Label] = queue[0], queue[1:]
	} else if b.Default != nil {
		res = b.Default(snapshot)
	} else {
		n := len(b.submissions)
		res = &model.Result{
			Remote:    model.StorageRef(fmt.Sprintf("remote/%s/%d", in.Label, n)),
			Retrieved: model.StorageRef(fmt.Sprintf("retrieved/%s/%d", in.Label, n)),
		}
	}

	h := backend.Handle(uuid.NewString())
	b.pending[h] = res
	return h, nil
}

// Wait implements backend.Backend.
func (b *ScriptedBackend) Wait(ctx context.Context, h backend.Handle) (*model.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, ok := b.pending[h]
	if !ok {
		return nil, fmt.Errorf("unknown handle %q", h)
	}
	return res, nil
}

// Clean implements backend.Backend.
func (b *ScriptedBackend) Clean(ctx context.Context, ref model.StorageRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleaned = append(b.cleaned, ref)
	return nil
}

// Submissions returns the recorded input snapshots in submission order.
func (b *ScriptedBackend) Submissions() []*model.Input {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*model.Input(nil), b.submissions...)
}

// Labels returns the submission labels in order.
func (b *ScriptedBackend) Labels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	labels := make([]string, len(b.submissions))
	for i, in := range b.submissions {
		labels[i] = in.Label
	}
	return labels
}

// Cleaned returns the storage refs released so far.
func (b *ScriptedBackend) Cleaned() []model.StorageRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.StorageRef(nil), b.cleaned...)
}

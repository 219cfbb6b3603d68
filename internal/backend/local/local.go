// Package local provides an in-process execution backend that simulates the
// external compute programs deterministically. It exists for the dry-run CLI
// mode and for integration tests: the simulated Hubbard values approach a
// fixed point geometrically, so the convergence loop exercises its full
// cycle without a scheduler or the real toolchain.
package local

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/vk/hubflow/internal/backend"
	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/model"
	"github.com/vk/hubflow/internal/structure"
)

// Options configures the simulated system.
type Options struct {
	// Structure is the initial structural snapshot, including the starting
	// Hubbard parameters.
	Structure *structure.Structure

	// Targets maps parameter keys (structure.Parameter.Key) to the fixed
	// point each value converges to. Keys absent from the map keep their
	// initial value.
	Targets map[string]float64

	// Rate is the geometric convergence factor per Hubbard run, in (0,1).
	Rate float64

	// Insulating selects the simulated electronic character: a positive
	// band gap for insulators, zero for metals.
	Insulating bool

	// Magnetization is the simulated raw total magnetization reported by
	// smeared SCF runs.
	Magnetization float64

	// QPoints is the size of the simulated q-point mesh.
	QPoints int

	// Latency delays every Wait by a fixed duration on the given clock.
	// Zero means instant. Tests pass a testclock here.
	Latency time.Duration
	Clock   clock.Clock
}

type job struct {
	input       *model.Input
	submittedAt time.Time
}

// Backend is a deterministic in-process simulator of the execution backend.
type Backend struct {
	opts Options

	mu       sync.Mutex
	jobs     map[backend.Handle]*job
	storage  map[model.StorageRef]bool
	hpRuns   int
	failures map[string][]int // label -> queued exit statuses
}

// New returns a simulator for the given system.
func New(opts Options) *Backend {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Rate == 0 {
		opts.Rate = 0.5
	}
	if opts.QPoints == 0 {
		opts.QPoints = 1
	}
	return &Backend{
		opts:     opts,
		jobs:     map[backend.Handle]*job{},
		storage:  map[model.StorageRef]bool{},
		failures: map[string][]int{},
	}
}

// ScriptFailure queues an exit status to be reported by the next job
// submitted under the given label. Used by tests to exercise retry paths.
func (b *Backend) ScriptFailure(label string, exitStatus int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[label] = append(b.failures[label], exitStatus)
}

// Submit implements backend.Backend.
func (b *Backend) Submit(ctx context.Context, in *model.Input) (backend.Handle, error) {
	h := backend.Handle(uuid.NewString())
	b.mu.Lock()
	b.jobs[h] = &job{input: in.Clone(), submittedAt: b.opts.Clock.Now()}
	b.mu.Unlock()
	ctxlog.FromContext(ctx).Debug("local backend accepted submission.", "label", in.Label, "handle", h)
	return h, nil
}

// Wait implements backend.Backend.
func (b *Backend) Wait(ctx context.Context, h backend.Handle) (*model.Result, error) {
	if b.opts.Latency > 0 {
		select {
		case <-b.opts.Clock.After(b.opts.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	jb, ok := b.jobs[h]
	if !ok {
		return nil, fmt.Errorf("local backend: unknown handle %q", h)
	}

	if statuses := b.failures[jb.input.Label]; len(statuses) > 0 {
		status := statuses[0]
		b.failures[jb.input.Label] = statuses[1:]
		return &model.Result{ExitStatus: status, Remote: b.newStorage(jb)}, nil
	}

	switch jb.input.Kind {
	case model.KindSCF:
		return b.finishSCF(jb), nil
	case model.KindHubbard:
		return b.finishHubbard(jb), nil
	default:
		return nil, fmt.Errorf("local backend: unknown job kind %q", jb.input.Kind)
	}
}

// Clean implements backend.Backend.
func (b *Backend) Clean(_ context.Context, ref model.StorageRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.storage[ref] {
		return fmt.Errorf("local backend: unknown storage ref %q", ref)
	}
	delete(b.storage, ref)
	return nil
}

func (b *Backend) newStorage(jb *job) model.StorageRef {
	ref := model.StorageRef(jb.input.Label + "/" + uuid.NewString())
	b.storage[ref] = true
	return ref
}

func (b *Backend) finishSCF(jb *job) *model.Result {
	res := &model.Result{
		Remote:            b.newStorage(jb),
		Retrieved:         b.newStorage(jb),
		NumberOfBands:     4 * len(b.opts.Structure.Sites),
		NumberOfElectrons: float64(8 * len(b.opts.Structure.Sites)),
		FermiEnergy:       5.0,
	}
	if b.opts.Insulating {
		res.BandGap = 2.1
	}
	nspin, _ := jb.input.Parameters.Float("SYSTEM", "nspin")
	if nspin == 2 {
		res.TotalMagnetization = b.opts.Magnetization
	}
	if jb.input.Relax {
		res.OutputStructure = b.opts.Structure.Clone()
	}
	return res
}

func (b *Backend) finishHubbard(jb *job) *model.Result {
	res := &model.Result{
		Remote:    b.newStorage(jb),
		Retrieved: b.newStorage(jb),
	}

	inputhp := jb.input.Parameters.Namespace("INPUTHP")

	if jb.input.OnlyInitialization {
		for _, site := range b.opts.Structure.Sites {
			res.HubbardSites = append(res.HubbardSites, model.SiteRef{Index: site.Index, Kind: site.Kind})
		}
		res.NumQPoints = b.opts.QPoints
		return res
	}

	if v, ok := inputhp["determine_q_mesh_only"].(bool); ok && v {
		res.NumQPoints = b.opts.QPoints
		return res
	}

	// A perturb-only or q-point-window run produces a partial archive; only
	// full runs and final collection runs report the parameter set.
	if perturbOnly(inputhp) && jb.input.ParentHP == nil {
		return res
	}

	b.hpRuns++
	out := b.opts.Structure.Clone()
	for i := range out.Parameters {
		p := &out.Parameters[i]
		target, ok := b.opts.Targets[p.Key()]
		if !ok {
			continue
		}
		gap := target - p.Value
		step := gap
		for run := 1; run < b.hpRuns; run++ {
			step *= b.opts.Rate
		}
		p.Value = target - step*b.opts.Rate
	}
	b.opts.Structure = out
	res.HubbardStructure = out.Clone()
	for _, site := range out.Sites {
		res.Sites = append(res.Sites, model.RelabelSite{
			Index: site.Index, Kind: site.Kind, Type: site.Index, NewType: site.Index, Spin: 1,
		})
	}
	return res
}

func perturbOnly(inputhp map[string]any) bool {
	for key, value := range inputhp {
		if strings.HasPrefix(key, "perturb_only_atom(") {
			if enabled, ok := value.(bool); ok && enabled {
				return true
			}
		}
	}
	return false
}

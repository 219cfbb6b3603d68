package config

import (
	"fmt"

	"github.com/vk/hubflow/internal/model"
	"github.com/vk/hubflow/internal/structure"
)

// Model is the format-agnostic representation of one workflow definition.
// The loader populates it; the application wires it into the convergence
// loop unchanged.
type Model struct {
	Workflow  Workflow
	Relax     Relax
	Parallel  Parallel
	Retry     Retry
	Structure *structure.Structure
	SCF       model.Parameters
	HP        model.Parameters
	Backend   Backend
}

// Workflow holds the self-consistency loop settings.
type Workflow struct {
	MaxIterations      int
	MetaConvergence    bool
	ToleranceOnsite    float64
	ToleranceIntersite float64
	CleanWorkdir       bool
	Protocol           string
}

// Relax holds the geometry-relaxation gating settings.
type Relax struct {
	Enabled        bool
	SkipIterations int
	Frequency      int
}

// Parallel holds the fan-out settings for the perturbation runs.
type Parallel struct {
	Atoms         bool
	QPoints       bool
	MaxConcurrent int
}

// Retry bounds the per-job restart budget.
type Retry struct {
	MaxIterations int
}

// Backend selects and configures the execution backend.
type Backend struct {
	Type string

	// Local simulator knobs.
	Insulating    bool
	Magnetization float64
	QPoints       int
	Rate          float64
	Targets       map[string]float64
}

// Validate checks the model for the inconsistencies a loaded file can carry.
func (m *Model) Validate() error {
	if m.Structure == nil || len(m.Structure.Sites) == 0 {
		return fmt.Errorf("config: the structure block must define at least one site")
	}
	if len(m.Structure.Parameters) == 0 {
		return fmt.Errorf("config: the structure block must define at least one Hubbard parameter")
	}

	kinds := map[string]bool{}
	for _, site := range m.Structure.Sites {
		kinds[site.Kind] = true
	}
	for _, p := range m.Structure.Parameters {
		if !kinds[p.KindI] || !kinds[p.KindJ] {
			return fmt.Errorf("config: parameter %s references a kind no site carries", p.Key())
		}
	}

	if m.Workflow.MaxIterations <= 0 {
		return fmt.Errorf("config: workflow.max_iterations must be positive")
	}
	if m.Parallel.QPoints && !m.Parallel.Atoms {
		return fmt.Errorf("config: parallel.qpoints requires parallel.atoms")
	}
	if m.Relax.Enabled && m.Relax.Frequency <= 0 {
		return fmt.Errorf("config: relax.frequency must be positive when relaxation is enabled")
	}

	switch m.Backend.Type {
	case "local":
	default:
		return fmt.Errorf("config: unknown backend type %q", m.Backend.Type)
	}
	return nil
}

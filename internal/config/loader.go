package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/model"
	"github.com/vk/hubflow/internal/structure"
)

// fileRoot decodes the top-level blocks of a workflow file.
type fileRoot struct {
	Workflow  *workflowBlock  `hcl:"workflow,block"`
	Relax     *relaxBlock     `hcl:"relax,block"`
	Parallel  *parallelBlock  `hcl:"parallel,block"`
	Retry     *retryBlock     `hcl:"retry,block"`
	Structure *structureBlock `hcl:"structure,block"`
	SCF       *calcBlock      `hcl:"scf,block"`
	HP        *calcBlock      `hcl:"hp,block"`
	Backend   *backendBlock   `hcl:"backend,block"`
}

type workflowBlock struct {
	MaxIterations      *int     `hcl:"max_iterations,optional"`
	MetaConvergence    *bool    `hcl:"meta_convergence,optional"`
	ToleranceOnsite    *float64 `hcl:"tolerance_onsite,optional"`
	ToleranceIntersite *float64 `hcl:"tolerance_intersite,optional"`
	CleanWorkdir       *bool    `hcl:"clean_workdir,optional"`
	Protocol           *string  `hcl:"protocol,optional"`
}

type relaxBlock struct {
	Enabled        *bool `hcl:"enabled,optional"`
	SkipIterations *int  `hcl:"skip_iterations,optional"`
	Frequency      *int  `hcl:"frequency,optional"`
}

type parallelBlock struct {
	Atoms         *bool `hcl:"atoms,optional"`
	QPoints       *bool `hcl:"qpoints,optional"`
	MaxConcurrent *int  `hcl:"max_concurrent,optional"`
}

type retryBlock struct {
	MaxIterations *int `hcl:"max_iterations,optional"`
}

type siteBlock struct {
	Index  int    `hcl:"index"`
	Kind   string `hcl:"kind"`
	Symbol string `hcl:"symbol,optional"`
}

type parameterBlock struct {
	I           int     `hcl:"i"`
	KindI       string  `hcl:"kind_i"`
	J           int     `hcl:"j"`
	KindJ       string  `hcl:"kind_j"`
	Value       float64 `hcl:"value"`
	Translation []int   `hcl:"translation,optional"`
	Manifold    string  `hcl:"manifold,optional"`
}

type structureBlock struct {
	Sites      []*siteBlock      `hcl:"site,block"`
	Parameters []*parameterBlock `hcl:"parameter,block"`
}

// calcBlock carries the free-form input cards of one external program. The
// attribute stays an expression here; evaluation and conversion to native
// maps happen in the translate step.
type calcBlock struct {
	Parameters hcl.Expression `hcl:"parameters,optional"`
}

type backendBlock struct {
	Type          string         `hcl:"type,label"`
	Insulating    *bool          `hcl:"insulating,optional"`
	Magnetization *float64       `hcl:"magnetization,optional"`
	QPoints       *int           `hcl:"qpoints,optional"`
	Rate          *float64       `hcl:"rate,optional"`
	Targets       hcl.Expression `hcl:"targets,optional"`
}

// Default returns the model with every setting at its documented default.
func Default() *Model {
	return &Model{
		Workflow: Workflow{
			MaxIterations:      10,
			MetaConvergence:    true,
			ToleranceOnsite:    0.1,
			ToleranceIntersite: 0.01,
			Protocol:           "moderate",
		},
		Relax:   Relax{Frequency: 1},
		Retry:   Retry{MaxIterations: 5},
		SCF:     model.Parameters{},
		HP:      model.Parameters{},
		Backend: Backend{Type: "local", QPoints: 1, Rate: 0.5},
	}
}

// Load parses one workflow file and returns the validated model with
// defaults applied.
func Load(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Workflow file loader started.", "path", path)

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode workflow file %s: %w", path, diags)
	}

	m, err := translate(&root)
	if err != nil {
		return nil, fmt.Errorf("in workflow file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Workflow file loading complete.",
		"sites", len(m.Structure.Sites), "parameters", len(m.Structure.Parameters), "backend", m.Backend.Type)
	return m, nil
}

// translate merges the decoded blocks over the defaults.
func translate(root *fileRoot) (*Model, error) {
	m := Default()

	if b := root.Workflow; b != nil {
		setInt(&m.Workflow.MaxIterations, b.MaxIterations)
		setBool(&m.Workflow.MetaConvergence, b.MetaConvergence)
		setFloat(&m.Workflow.ToleranceOnsite, b.ToleranceOnsite)
		setFloat(&m.Workflow.ToleranceIntersite, b.ToleranceIntersite)
		setBool(&m.Workflow.CleanWorkdir, b.CleanWorkdir)
		setString(&m.Workflow.Protocol, b.Protocol)
	}
	if b := root.Relax; b != nil {
		setBool(&m.Relax.Enabled, b.Enabled)
		setInt(&m.Relax.SkipIterations, b.SkipIterations)
		setInt(&m.Relax.Frequency, b.Frequency)
	}
	if b := root.Parallel; b != nil {
		setBool(&m.Parallel.Atoms, b.Atoms)
		setBool(&m.Parallel.QPoints, b.QPoints)
		setInt(&m.Parallel.MaxConcurrent, b.MaxConcurrent)
	}
	if b := root.Retry; b != nil {
		setInt(&m.Retry.MaxIterations, b.MaxIterations)
	}

	if root.Structure != nil {
		m.Structure = translateStructure(root.Structure)
	}

	if root.SCF != nil {
		params, err := translateParameters(root.SCF.Parameters)
		if err != nil {
			return nil, fmt.Errorf("in block scf: %w", err)
		}
		m.SCF = params
	}
	if root.HP != nil {
		params, err := translateParameters(root.HP.Parameters)
		if err != nil {
			return nil, fmt.Errorf("in block hp: %w", err)
		}
		m.HP = params
	}

	if b := root.Backend; b != nil {
		m.Backend.Type = b.Type
		setBool(&m.Backend.Insulating, b.Insulating)
		setFloat(&m.Backend.Magnetization, b.Magnetization)
		setInt(&m.Backend.QPoints, b.QPoints)
		setFloat(&m.Backend.Rate, b.Rate)
		targets, err := translateTargets(b.Targets)
		if err != nil {
			return nil, fmt.Errorf("in block backend: %w", err)
		}
		m.Backend.Targets = targets
	}

	return m, nil
}

func translateStructure(b *structureBlock) *structure.Structure {
	s := &structure.Structure{}
	for _, site := range b.Sites {
		symbol := site.Symbol
		if symbol == "" {
			symbol = site.Kind
		}
		s.Sites = append(s.Sites, structure.Site{Index: site.Index, Kind: site.Kind, Symbol: symbol})
	}
	for _, p := range b.Parameters {
		param := structure.Parameter{
			I: p.I, KindI: p.KindI,
			J: p.J, KindJ: p.KindJ,
			Value:    p.Value,
			Manifold: p.Manifold,
		}
		for i := 0; i < len(p.Translation) && i < 3; i++ {
			param.Translation[i] = p.Translation[i]
		}
		s.Parameters = append(s.Parameters, param)
	}
	return s
}

// translateParameters evaluates a parameters expression into the two-level
// namespace/key table the external programs consume.
func translateParameters(expr hcl.Expression) (model.Parameters, error) {
	native, err := evalToNative(expr, "parameters")
	if err != nil || native == nil {
		return model.Parameters{}, err
	}

	raw, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameters must be an object of namespaces, got %T", native)
	}

	params := model.Parameters{}
	for namespace, value := range raw {
		card, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parameters namespace %q must be an object, got %T", namespace, value)
		}
		params[namespace] = card
	}
	return params, nil
}

func translateTargets(expr hcl.Expression) (map[string]float64, error) {
	native, err := evalToNative(expr, "targets")
	if err != nil || native == nil {
		return nil, err
	}

	raw, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("targets must be an object of couple keys, got %T", native)
	}

	targets := make(map[string]float64, len(raw))
	for key, value := range raw {
		f, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("target %q must be a number, got %T", key, value)
		}
		targets[key] = f
	}
	return targets, nil
}

// evalToNative evaluates an optional expression and converts the result to
// native Go values. A genuinely omitted attribute yields nil.
func evalToNative(expr hcl.Expression, attrName string) (any, error) {
	if !isExprDefined(expr) {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid %s expression: %w", attrName, diags)
	}
	return ctyToNative(val)
}

// isExprDefined checks whether an expression was actually present in the
// source. The decoder populates omitted optional attributes with zero-width
// expression objects, so a nil check alone is insufficient.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	exprRange := expr.Range()
	return exprRange.End.Byte > exprRange.Start.Byte
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

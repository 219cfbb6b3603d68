package hubbard

import (
	"context"
	"math"

	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/model"
	"github.com/vk/hubflow/internal/structure"
)

// inspectHubbard adopts the perturbation output as the new current structure,
// compares the new parameters against the previous set, and relabels kinds
// when the program distinguished previously identical sites.
func (w *Workflow) inspectHubbard(ctx context.Context, res *model.Result) error {
	logger := ctxlog.FromContext(ctx)

	if res.HubbardStructure == nil {
		logger.Warn("perturbation produced no parameter output, keeping the current structure.")
		return nil
	}

	// Both structures name kinds the way the just-finished run saw them,
	// so the comparison happens before any relabeling.
	if w.shouldCheckConvergence(ctx) {
		w.ctx.converged = w.checkConvergence(ctx, w.ctx.current.Parameters, res.HubbardStructure.Parameters)
	}

	w.ctx.current = res.HubbardStructure.Clone()
	w.relabel(ctx, res)

	if !w.opts.MetaConvergence {
		logger.Info("meta convergence is disabled, stopping after a single complete iteration.")
		w.ctx.converged = true
	}
	return nil
}

// checkConvergence matches old and new parameters by their structural
// endpoints and reports convergence when every matched pair stays within the
// applicable tolerance. An endpoint set mismatch means the
// perturbation changed which couples exist; the verdict is deferred to the
// next iteration.
func (w *Workflow) checkConvergence(ctx context.Context, old, new []structure.Parameter) bool {
	logger := ctxlog.FromContext(ctx)

	if len(old) == 0 {
		logger.Info("no previous parameters to compare against, deferring the convergence check.")
		return false
	}

	previous := make(map[string]structure.Parameter, len(old))
	for _, p := range old {
		previous[p.Key()] = p
	}

	var maxOnsite, maxIntersite float64
	for _, p := range new {
		ref, ok := previous[p.Key()]
		if !ok {
			logger.Info("parameter sets cover different couples, deferring the convergence check.",
				"couple", p.Key())
			return false
		}
		diff := math.Abs(p.Value - ref.Value)
		if p.Onsite() {
			maxOnsite = math.Max(maxOnsite, diff)
		} else {
			maxIntersite = math.Max(maxIntersite, diff)
		}
	}
	if len(new) != len(old) {
		logger.Info("parameter sets have different sizes, deferring the convergence check.",
			"previous", len(old), "new", len(new))
		return false
	}

	converged := maxOnsite <= w.opts.ToleranceOnsite && maxIntersite <= w.opts.ToleranceIntersite
	logger.Info("compared Hubbard parameters against the previous iteration.",
		"max_onsite_diff", maxOnsite, "max_intersite_diff", maxIntersite,
		"tolerance_onsite", w.opts.ToleranceOnsite, "tolerance_intersite", w.opts.ToleranceIntersite,
		"converged", converged)
	return converged
}

// relabel renames the perturbed kinds when the run assigned new types. The
// renaming is skipped for intersite-coupled systems, where the program's type
// bookkeeping does not map onto per-kind labels.
func (w *Workflow) relabel(ctx context.Context, res *model.Result) {
	logger := ctxlog.FromContext(ctx)

	if _, intersites := structure.Separate(w.ctx.current.Parameters); len(intersites) > 0 {
		return
	}

	specs := relabelSpecs(w.ctx.current, res.Sites)
	if !structure.NeedsRelabel(specs) {
		return
	}

	relabeled, moments, err := structure.RelabelKinds(w.ctx.current, specs, w.ctx.magneticMoments)
	if err != nil {
		logger.Warn("could not relabel the perturbed kinds, keeping the current labels.", "error", err)
		return
	}
	w.ctx.current = relabeled
	if moments != nil {
		w.ctx.magneticMoments = moments
	}
	logger.Info("relabeled the perturbed kinds after the run distinguished new site types.",
		"kinds", relabeled.Kinds())
}

// relabelSpecs joins the program's per-site type report with the chemical
// symbols of the current structure.
func relabelSpecs(s *structure.Structure, sites []model.RelabelSite) []structure.RelabelSpec {
	symbolByIndex := make(map[int]string, len(s.Sites))
	for _, site := range s.Sites {
		symbolByIndex[site.Index] = site.Symbol
	}

	specs := make([]structure.RelabelSpec, 0, len(sites))
	for _, site := range sites {
		specs = append(specs, structure.RelabelSpec{
			Index:   site.Index,
			Kind:    site.Kind,
			Symbol:  symbolByIndex[site.Index],
			Type:    site.Type,
			NewType: site.NewType,
			Spin:    site.Spin,
		})
	}
	return specs
}

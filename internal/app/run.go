package app

import (
	"context"
	"fmt"

	"github.com/vk/hubflow/internal/backend"
	"github.com/vk/hubflow/internal/backend/local"
	"github.com/vk/hubflow/internal/ctxlog"
	"github.com/vk/hubflow/internal/hubbard"
	"github.com/vk/hubflow/internal/journal"
	"github.com/vk/hubflow/internal/protocol"
	"github.com/vk/hubflow/internal/structure"
)

// Run executes the workflow described by the loaded model.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if appConfig.MetricsPort > 0 {
		a.startMetricsServer(appConfig.MetricsPort)
	}

	preset, err := protocol.Load(a.model.Workflow.Protocol)
	if err != nil {
		return err
	}
	a.logger.Debug("Protocol preset loaded.", "protocol", a.model.Workflow.Protocol)

	var jnl *journal.Journal
	if appConfig.JournalPath != "" {
		jnl, err = journal.Open(appConfig.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open submission journal: %w", err)
		}
		defer jnl.Close()
	}

	wf, err := hubbard.New(hubbard.Options{
		Backend:             a.newBackend(),
		Journal:             jnl,
		Structure:           a.model.Structure,
		SCFParameters:       preset.SCFInputs(a.model.SCF),
		HPParameters:        preset.HPInputs(a.model.HP),
		ToleranceOnsite:     a.model.Workflow.ToleranceOnsite,
		ToleranceIntersite:  a.model.Workflow.ToleranceIntersite,
		MaxIterations:       a.model.Workflow.MaxIterations,
		MetaConvergence:     a.model.Workflow.MetaConvergence,
		CleanWorkdir:        a.model.Workflow.CleanWorkdir,
		RelaxEnabled:        a.model.Relax.Enabled,
		SkipRelaxIterations: a.model.Relax.SkipIterations,
		RelaxFrequency:      a.model.Relax.Frequency,
		ParallelizeAtoms:    a.model.Parallel.Atoms,
		ParallelizeQPoints:  a.model.Parallel.QPoints,
		MaxConcurrent:       a.model.Parallel.MaxConcurrent,
		RunnerMaxIterations: a.model.Retry.MaxIterations,
	})
	if err != nil {
		return err
	}

	a.logger.Info("🚀 Starting self-consistent workflow...")
	outcome, err := wf.Run(ctx)
	if err != nil {
		return fmt.Errorf("workflow failed: %w", err)
	}
	a.logger.Info("🏁 Workflow finished.", "iterations", outcome.Iterations, "converged", outcome.Converged)

	a.printOutcome(outcome)
	a.logger.Debug("App.Run method finished.")
	return nil
}

// newBackend instantiates the configured execution backend. Only the local
// simulator exists today; the config validation already rejected anything
// else.
func (a *App) newBackend() backend.Backend {
	cfg := a.model.Backend
	return local.New(local.Options{
		Structure:     a.model.Structure,
		Targets:       cfg.Targets,
		Rate:          cfg.Rate,
		Insulating:    cfg.Insulating,
		Magnetization: cfg.Magnetization,
		QPoints:       cfg.QPoints,
	})
}

// printOutcome writes the final parameter table to the output stream.
func (a *App) printOutcome(outcome *hubbard.Outcome) {
	fmt.Fprintf(a.outW, "converged: %v after %d iteration(s)\n", outcome.Converged, outcome.Iterations)

	onsites, intersites := structure.Separate(outcome.Structure.Parameters)
	if len(onsites) > 0 {
		fmt.Fprintln(a.outW, "onsite parameters:")
		for _, p := range onsites {
			fmt.Fprintf(a.outW, "  %-20s %8.4f\n", p.Key(), p.Value)
		}
	}
	if len(intersites) > 0 {
		fmt.Fprintln(a.outW, "intersite parameters:")
		for _, p := range intersites {
			fmt.Fprintf(a.outW, "  %-20s %8.4f\n", p.Key(), p.Value)
		}
	}
}

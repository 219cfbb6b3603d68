package collector

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/hubflow/internal/exitcode"
	"github.com/vk/hubflow/internal/model"
	"github.com/vk/hubflow/internal/testutil"
)

// probingBackend returns a scripted backend whose unscripted submissions
// succeed, with the probe reporting the given sites.
func probingBackend(sites ...model.SiteRef) *testutil.ScriptedBackend {
	b := testutil.NewScriptedBackend()
	n := 0
	b.Default = func(in *model.Input) *model.Result {
		n++
		res := &model.Result{
			Remote:    model.StorageRef(fmt.Sprintf("remote/%s/%d", in.Label, n)),
			Retrieved: model.StorageRef(fmt.Sprintf("retrieved/%s/%d", in.Label, n)),
		}
		if in.OnlyInitialization {
			res.HubbardSites = sites
		}
		return res
	}
	return b
}

func hubbardInput() *model.Input {
	return &model.Input{
		Label:      "hp",
		Kind:       model.KindHubbard,
		Parameters: model.Parameters{},
	}
}

func TestAtomCollector_HappyPath(t *testing.T) {
	ctx, _ := testutil.Context(t)
	b := probingBackend(
		model.SiteRef{Index: 1, Kind: "Co"},
		model.SiteRef{Index: 3, Kind: "Mn"},
	)

	c := NewAtoms(Options{Backend: b})
	res, err := c.Run(ctx, hubbardInput())
	require.NoError(t, err)
	require.NotNil(t, res)

	labels := b.Labels()
	require.Len(t, labels, 4, "probe, two items, one final")
	assert.Equal(t, "hp/initialization", labels[0])
	assert.ElementsMatch(t, []string{"hp/atom_1", "hp/atom_3"}, labels[1:3])
	assert.Equal(t, "hp/compute_hp", labels[3])

	// The final job references the partial archives of both items.
	final := b.Submissions()[3]
	require.Len(t, final.ParentHP, 2)
	assert.Contains(t, final.ParentHP, "atom_1")
	assert.Contains(t, final.ParentHP, "atom_3")
}

func TestAtomCollector_ItemInputsAreNarrowed(t *testing.T) {
	ctx, _ := testutil.Context(t)
	b := probingBackend(
		model.SiteRef{Index: 1, Kind: "Co"},
		model.SiteRef{Index: 3, Kind: "Mn"},
	)

	c := NewAtoms(Options{Backend: b})
	_, err := c.Run(ctx, hubbardInput())
	require.NoError(t, err)

	for _, in := range b.Submissions() {
		switch in.Label {
		case "hp/initialization":
			assert.True(t, in.OnlyInitialization)
		case "hp/atom_1":
			assert.Equal(t, true, in.Parameters.Namespace("INPUTHP")["perturb_only_atom(1)"])
			assert.NotContains(t, in.Parameters.Namespace("INPUTHP"), "perturb_only_atom(3)")
		case "hp/atom_3":
			assert.Equal(t, true, in.Parameters.Namespace("INPUTHP")["perturb_only_atom(3)"])
			assert.NotContains(t, in.Parameters.Namespace("INPUTHP"), "perturb_only_atom(1)")
		}
	}
}

func TestAtomCollector_ItemFailureAbortsWithoutFinalJob(t *testing.T) {
	ctx, _ := testutil.Context(t)
	b := probingBackend(
		model.SiteRef{Index: 1, Kind: "Co"},
		model.SiteRef{Index: 3, Kind: "Mn"},
	)
	// An unrecoverable status makes the item's runner abort immediately.
	b.Failure("hp/atom_3", 312)

	c := NewAtoms(Options{Backend: b})
	_, err := c.Run(ctx, hubbardInput())

	var phaseErr *exitcode.PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, exitcode.PhaseItem, phaseErr.Phase)
	assert.Equal(t, exitcode.ItemFailed, phaseErr.Code)

	assert.NotContains(t, b.Labels(), "hp/compute_hp", "no final job after an item failure")
}

func TestAtomCollector_ProbeFailure(t *testing.T) {
	t.Run("probe job fails", func(t *testing.T) {
		ctx, _ := testutil.Context(t)
		b := probingBackend(model.SiteRef{Index: 1, Kind: "Co"})
		b.Failure("hp/initialization", 312)

		c := NewAtoms(Options{Backend: b})
		_, err := c.Run(ctx, hubbardInput())

		var phaseErr *exitcode.PhaseError
		require.ErrorAs(t, err, &phaseErr)
		assert.Equal(t, exitcode.PhaseInit, phaseErr.Phase)
		require.Len(t, b.Labels(), 1, "nothing launched after a failed probe")
	})

	t.Run("probe reports no sites", func(t *testing.T) {
		ctx, _ := testutil.Context(t)
		b := probingBackend()

		c := NewAtoms(Options{Backend: b})
		_, err := c.Run(ctx, hubbardInput())

		var phaseErr *exitcode.PhaseError
		require.ErrorAs(t, err, &phaseErr)
		assert.Equal(t, exitcode.PhaseInit, phaseErr.Phase)
	})
}

func TestAtomCollector_FinalFailure(t *testing.T) {
	ctx, _ := testutil.Context(t)
	b := probingBackend(model.SiteRef{Index: 1, Kind: "Co"})
	b.Failure("hp/compute_hp", 312)

	c := NewAtoms(Options{Backend: b})
	_, err := c.Run(ctx, hubbardInput())

	var phaseErr *exitcode.PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, exitcode.PhaseFinal, phaseErr.Phase)
	assert.Equal(t, exitcode.FinalFailed, phaseErr.Code)
}

func TestAtomCollector_CleanWorkdir(t *testing.T) {
	ctx, _ := testutil.Context(t)
	b := probingBackend(model.SiteRef{Index: 1, Kind: "Co"})

	c := NewAtoms(Options{Backend: b, CleanWorkdir: true})
	_, err := c.Run(ctx, hubbardInput())
	require.NoError(t, err)

	// Probe, one item, final: three working directories released.
	assert.Len(t, b.Cleaned(), 3)
}

func TestAtomCollector_WrapsUnrecoverableItemError(t *testing.T) {
	ctx, _ := testutil.Context(t)
	b := probingBackend(model.SiteRef{Index: 1, Kind: "Co"})
	b.Failure("hp/atom_1", 312)

	c := NewAtoms(Options{Backend: b})
	_, err := c.Run(ctx, hubbardInput())

	// The underlying runner classification stays reachable through the chain.
	var exitErr *exitcode.Error
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, exitcode.UnrecoverableFailure, exitErr.Code)
}

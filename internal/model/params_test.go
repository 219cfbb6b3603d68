package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameters_Namespace(t *testing.T) {
	p := Parameters{}
	p.Namespace("INPUTHP")["niter_max"] = 100

	assert.Equal(t, 100, p["INPUTHP"]["niter_max"])

	// Repeated access returns the same table.
	p.Namespace("INPUTHP")["alpha_mix(1)"] = 0.3
	assert.Len(t, p["INPUTHP"], 2)
}

func TestParameters_Clone(t *testing.T) {
	p := Parameters{}
	p.Namespace("SYSTEM")["nspin"] = 2

	clone := p.Clone()
	clone.Namespace("SYSTEM")["nspin"] = 1
	clone.Namespace("ELECTRONS")["conv_thr"] = 1e-10

	assert.Equal(t, 2, p["SYSTEM"]["nspin"])
	assert.NotContains(t, p, "ELECTRONS")
}

func TestParameters_Float(t *testing.T) {
	p := Parameters{}
	p.Namespace("SYSTEM")["a"] = 1.5
	p.Namespace("SYSTEM")["b"] = 2
	p.Namespace("SYSTEM")["c"] = "text"

	v, ok := p.Float("SYSTEM", "a")
	require.True(t, ok)
	assert.Equal(t, 1.5, v)

	v, ok = p.Float("SYSTEM", "b")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok = p.Float("SYSTEM", "c")
	assert.False(t, ok)
	_, ok = p.Float("MISSING", "a")
	assert.False(t, ok)
}

func TestInput_Clone(t *testing.T) {
	in := &Input{
		Label:      "hp",
		Kind:       KindHubbard,
		Parameters: Parameters{},
		ParentHP:   map[string]StorageRef{"atom_1": "retrieved/atom_1"},
	}
	in.Parameters.Namespace("INPUTHP")["niter_max"] = 100
	in.SetCmdline([]string{"-nk", "2"})

	clone := in.Clone()
	clone.Parameters.Namespace("INPUTHP")["niter_max"] = 200
	clone.ParentHP["atom_2"] = "retrieved/atom_2"
	clone.SetCmdline([]string{"-nd", "1"})

	assert.Equal(t, 100, in.Parameters["INPUTHP"]["niter_max"])
	assert.NotContains(t, in.ParentHP, "atom_2")
	assert.Equal(t, []string{"-nk", "2"}, in.Cmdline())
}

func TestInput_Cmdline(t *testing.T) {
	in := &Input{}
	assert.Nil(t, in.Cmdline())

	in.Settings = map[string]any{"cmdline": []any{"-nd", "1"}}
	assert.Equal(t, []string{"-nd", "1"}, in.Cmdline())
}

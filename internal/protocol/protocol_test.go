package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/hubflow/internal/model"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"fast", "moderate", "precise"}, Names())
}

func TestLoad(t *testing.T) {
	t.Run("empty name selects the default", func(t *testing.T) {
		p, err := Load("")
		require.NoError(t, err)
		conv, ok := model.Parameters(p.SCF).Float("ELECTRONS", "conv_thr")
		require.True(t, ok)
		assert.Equal(t, 1e-10, conv)
	})

	t.Run("named preset", func(t *testing.T) {
		p, err := Load("precise")
		require.NoError(t, err)
		conv, ok := model.Parameters(p.SCF).Float("ELECTRONS", "conv_thr")
		require.True(t, ok)
		assert.Equal(t, 1e-12, conv)
		assert.Positive(t, p.MaxWallclockSeconds)
	})

	t.Run("unknown preset", func(t *testing.T) {
		_, err := Load("heroic")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "heroic")
	})
}

func TestProtocol_InputMerging(t *testing.T) {
	p, err := Load("moderate")
	require.NoError(t, err)

	user := model.Parameters{}
	user.Namespace("SYSTEM")["ecutwfc"] = 80.0
	user.Namespace("SYSTEM")["nspin"] = 2

	merged := p.SCFInputs(user)

	ecut, ok := merged.Float("SYSTEM", "ecutwfc")
	require.True(t, ok)
	assert.Equal(t, 80.0, ecut, "user values win over the preset")

	nspin, ok := merged.Float("SYSTEM", "nspin")
	require.True(t, ok)
	assert.Equal(t, 2.0, nspin, "user-only keys survive")

	smearing := merged.Namespace("SYSTEM")["smearing"]
	assert.Equal(t, "cold", smearing, "preset keys survive")

	// The preset itself is never mutated.
	_, ok = model.Parameters(p.SCF).Float("SYSTEM", "nspin")
	assert.False(t, ok)
}

func TestProtocol_HPInputs(t *testing.T) {
	p, err := Load("fast")
	require.NoError(t, err)

	merged := p.HPInputs(model.Parameters{})
	chi, ok := merged.Float("INPUTHP", "conv_thr_chi")
	require.True(t, ok)
	assert.Equal(t, 1e-4, chi)
}

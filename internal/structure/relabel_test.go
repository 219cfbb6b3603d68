package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsRelabel(t *testing.T) {
	assert.False(t, NeedsRelabel([]RelabelSpec{
		{Index: 0, Kind: "Co", Type: 1, NewType: 1, Spin: 1},
	}))
	assert.True(t, NeedsRelabel([]RelabelSpec{
		{Index: 0, Kind: "Co", Type: 1, NewType: 1, Spin: 1},
		{Index: 1, Kind: "Co", Type: 1, NewType: 2, Spin: 1},
	}))
}

func TestRelabelKinds(t *testing.T) {
	t.Run("distinguished sites get fresh kind names", func(t *testing.T) {
		s := &Structure{
			Sites: []Site{
				{Index: 0, Kind: "Co", Symbol: "Co"},
				{Index: 1, Kind: "Co", Symbol: "Co"},
				{Index: 2, Kind: "O", Symbol: "O"},
			},
			Parameters: []Parameter{
				{I: 0, KindI: "Co", J: 0, KindJ: "Co", Value: 4.5},
				{I: 1, KindI: "Co", J: 1, KindJ: "Co", Value: 4.5},
			},
		}
		specs := []RelabelSpec{
			{Index: 0, Kind: "Co", Symbol: "Co", Type: 1, NewType: 1, Spin: 1},
			{Index: 1, Kind: "Co", Symbol: "Co", Type: 1, NewType: 2, Spin: 1},
		}

		relabeled, _, err := RelabelKinds(s, specs, nil)
		require.NoError(t, err)

		// First occurrence order: new type 1 -> Co0, new type 2 -> Co1.
		assert.Equal(t, "Co0", relabeled.Sites[0].Kind)
		assert.Equal(t, "Co1", relabeled.Sites[1].Kind)
		assert.Equal(t, "O", relabeled.Sites[2].Kind)

		// Parameters follow the sites they reference.
		assert.Equal(t, "Co0", relabeled.Parameters[0].KindI)
		assert.Equal(t, "Co1", relabeled.Parameters[1].KindI)

		// The input structure is untouched.
		assert.Equal(t, "Co", s.Sites[0].Kind)
	})

	t.Run("same new type shares one kind name", func(t *testing.T) {
		s := &Structure{
			Sites: []Site{
				{Index: 0, Kind: "Co", Symbol: "Co"},
				{Index: 1, Kind: "Co", Symbol: "Co"},
			},
		}
		specs := []RelabelSpec{
			{Index: 0, Kind: "Co", Symbol: "Co", Type: 1, NewType: 3, Spin: 1},
			{Index: 1, Kind: "Co", Symbol: "Co", Type: 1, NewType: 3, Spin: 1},
		}

		relabeled, _, err := RelabelKinds(s, specs, nil)
		require.NoError(t, err)
		assert.Equal(t, relabeled.Sites[0].Kind, relabeled.Sites[1].Kind)
	})

	t.Run("opposite spins split the same new type", func(t *testing.T) {
		s := &Structure{
			Sites: []Site{
				{Index: 0, Kind: "Mn", Symbol: "Mn"},
				{Index: 1, Kind: "Mn", Symbol: "Mn"},
			},
		}
		specs := []RelabelSpec{
			{Index: 0, Kind: "Mn", Symbol: "Mn", Type: 1, NewType: 2, Spin: 1},
			{Index: 1, Kind: "Mn", Symbol: "Mn", Type: 1, NewType: 2, Spin: -1},
		}

		relabeled, _, err := RelabelKinds(s, specs, nil)
		require.NoError(t, err)
		assert.NotEqual(t, relabeled.Sites[0].Kind, relabeled.Sites[1].Kind)
	})

	t.Run("magnetization migrates to the new kind names", func(t *testing.T) {
		s := &Structure{
			Sites: []Site{
				{Index: 0, Kind: "Co", Symbol: "Co"},
				{Index: 1, Kind: "Co", Symbol: "Co"},
			},
		}
		specs := []RelabelSpec{
			{Index: 0, Kind: "Co", Symbol: "Co", Type: 1, NewType: 1, Spin: 1},
			{Index: 1, Kind: "Co", Symbol: "Co", Type: 1, NewType: 2, Spin: 1},
		}
		magnetization := map[string]float64{"Co": 0.5, "O": 0.0}

		relabeled, moments, err := RelabelKinds(s, specs, magnetization)
		require.NoError(t, err)

		assert.NotContains(t, moments, "Co")
		assert.Equal(t, 0.5, moments[relabeled.Sites[0].Kind])
		assert.Equal(t, 0.5, moments[relabeled.Sites[1].Kind])
		assert.Equal(t, 0.0, moments["O"])
	})

	t.Run("unknown site index is rejected", func(t *testing.T) {
		s := &Structure{Sites: []Site{{Index: 0, Kind: "Co", Symbol: "Co"}}}
		specs := []RelabelSpec{{Index: 7, Kind: "Co", Symbol: "Co", Type: 1, NewType: 2, Spin: 1}}

		_, _, err := RelabelKinds(s, specs, nil)
		require.Error(t, err)
	})
}

package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("flag form", func(t *testing.T) {
		out := &bytes.Buffer{}
		cfg, shouldExit, err := Parse([]string{"-workflow", "wf.hcl", "-journal", "run.jsonl", "-metrics-port", "9090"}, out)
		require.NoError(t, err)
		require.False(t, shouldExit)
		assert.Equal(t, "wf.hcl", cfg.WorkflowPath)
		assert.Equal(t, "run.jsonl", cfg.JournalPath)
		assert.Equal(t, 9090, cfg.MetricsPort)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("shorthand flag", func(t *testing.T) {
		out := &bytes.Buffer{}
		cfg, shouldExit, err := Parse([]string{"-w", "wf.hcl"}, out)
		require.NoError(t, err)
		require.False(t, shouldExit)
		assert.Equal(t, "wf.hcl", cfg.WorkflowPath)
	})

	t.Run("positional argument", func(t *testing.T) {
		out := &bytes.Buffer{}
		cfg, shouldExit, err := Parse([]string{"wf.hcl"}, out)
		require.NoError(t, err)
		require.False(t, shouldExit)
		assert.Equal(t, "wf.hcl", cfg.WorkflowPath)
	})

	t.Run("no path prints usage and exits cleanly", func(t *testing.T) {
		out := &bytes.Buffer{}
		_, shouldExit, err := Parse(nil, out)
		require.NoError(t, err)
		assert.True(t, shouldExit)
		assert.Contains(t, out.String(), "Usage:")
	})

	t.Run("help flag exits cleanly", func(t *testing.T) {
		out := &bytes.Buffer{}
		_, shouldExit, err := Parse([]string{"-h"}, out)
		require.NoError(t, err)
		assert.True(t, shouldExit)
	})

	t.Run("invalid log format", func(t *testing.T) {
		out := &bytes.Buffer{}
		_, _, err := Parse([]string{"-log-format", "xml", "wf.hcl"}, out)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 2, exitErr.Code)
	})

	t.Run("invalid log level", func(t *testing.T) {
		out := &bytes.Buffer{}
		_, _, err := Parse([]string{"-log-level", "verbose", "wf.hcl"}, out)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 2, exitErr.Code)
	})

	t.Run("unknown flag", func(t *testing.T) {
		out := &bytes.Buffer{}
		_, _, err := Parse([]string{"--this-is-not-a-valid-flag"}, out)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 2, exitErr.Code)
	})
}

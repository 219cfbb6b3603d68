package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	args := []string{"-h"}
	out := &bytes.Buffer{}

	err := run(out, args)

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	args := []string{"--this-is-not-a-valid-flag"}
	out := &bytes.Buffer{}

	err := run(out, args)

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_InvalidWorkflowFile(t *testing.T) {
	t.Parallel()

	invalidHCL := `
		workflow {
			max_iterations =
	`
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "workflow.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0o600))

	out := &bytes.Buffer{}
	err := run(out, []string{filePath})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to")
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	workflow := `
workflow {
  max_iterations = 10
  protocol       = "fast"
}

structure {
  site {
    index = 0
    kind  = "Co"
  }
  parameter {
    i      = 0
    kind_i = "Co"
    j      = 0
    kind_j = "Co"
    value  = 4.0
  }
}

backend "local" {
  rate    = 0.5
  targets = { "0:Co-0:Co" = 5.0 }
}
`
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "workflow.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(workflow), 0o600))

	out := &bytes.Buffer{}
	err := run(out, []string{"-log-level", "error", filePath})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "converged: true")
	assert.Contains(t, out.String(), "0:Co-0:Co")
}

// Package app wires the application together: logger construction, workflow
// file loading, backend selection and the run lifecycle, decoupled from the
// CLI entrypoint.
package app

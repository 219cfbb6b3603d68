// Package cli handles command-line argument parsing and validation for the
// hubflow entrypoint.
package cli

// Package config loads and validates the HCL workflow definition: the
// self-consistency settings, the structural snapshot with its initial Hubbard
// parameters, the base input cards for the ground-state and perturbation
// runs, and the execution backend selection.
package config

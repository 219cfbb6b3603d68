package exitcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnrecoverable(t *testing.T) {
	testCases := []struct {
		status   int
		expected bool
	}{
		{status: 0, expected: false},
		{status: 1, expected: true},
		{status: 399, expected: true},
		{status: 400, expected: false},
		{status: 462, expected: false},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			assert.Equal(t, tc.expected, Unrecoverable(tc.status))
		})
	}
}

func TestCodeOf(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Code
	}{
		{name: "nil", err: nil, expected: OK},
		{name: "bare code", err: &Error{Code: MaximumIterationsExceeded}, expected: MaximumIterationsExceeded},
		{
			name:     "phase error",
			err:      &PhaseError{Phase: PhaseItem, Code: ItemFailed, Cause: &Error{Code: UnrecoverableFailure}},
			expected: ItemFailed,
		},
		{
			name:     "iteration error wins over its cause",
			err:      &IterationError{Iteration: 2, Code: HubbardFailed, Cause: &PhaseError{Code: ItemFailed}},
			expected: HubbardFailed,
		},
		{
			name:     "wrapped tagged error",
			err:      fmt.Errorf("workflow failed: %w", &IterationError{Iteration: 1, Code: SCFFailed}),
			expected: SCFFailed,
		},
		{name: "untagged error", err: errors.New("boom"), expected: UnrecoverableFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CodeOf(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "exit code 401", (&Error{Code: MaximumIterationsExceeded}).Error())
	assert.Contains(t, (&PhaseError{Phase: PhaseInit, Code: InitializationFailed}).Error(), "initialization")
	assert.Contains(t, (&IterationError{Iteration: 3, Code: SelfConsistencyNotReached}).Error(), "iteration 3")
}

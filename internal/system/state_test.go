package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemStateString(t *testing.T) {
	assert.Equal(t, "INITIALIZING", StateInitializing.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "STOPPING", StateStopping.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "ERROR", StateError.String())
	assert.Equal(t, "UNKNOWN", SystemState(99).String())
}

func TestValidateTransitionLifecyclePath(t *testing.T) {
	// der normale Lebenslauf eines Prozesses
	path := []SystemState{StateInitializing, StateRunning, StateStopping, StateStopped}

	for i := 0; i < len(path)-1; i++ {
		require.NoError(t, ValidateTransition(path[i], path[i+1]),
			"%s -> %s muss erlaubt sein", path[i], path[i+1])
	}
}

func TestValidateTransitionRejectsShortcuts(t *testing.T) {
	cases := []struct {
		from, to SystemState
	}{
		{StateInitializing, StateStopped}, // Stopp ohne Stopping
		{StateRunning, StateStopped},
		{StateStopped, StateRunning}, // Neustart nur über Initializing
		{StateStopping, StateRunning},
	}

	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to)
		assert.Error(t, err, "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransitionErrorIsReachableAndLeavable(t *testing.T) {
	require.NoError(t, ValidateTransition(StateInitializing, StateError))
	require.NoError(t, ValidateTransition(StateRunning, StateError))
	require.NoError(t, ValidateTransition(StateError, StateStopping))
	require.NoError(t, ValidateTransition(StateError, StateStopped))
}

func TestValidateTransitionUnknownState(t *testing.T) {
	err := ValidateTransition(SystemState(99), StateRunning)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid current state")
}

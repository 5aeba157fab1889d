package walkin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"table-allocation-backend/internal/apperr"
)

func TestMachine_Advance(t *testing.T) {
	tests := []struct {
		name  string
		steps []State
		ok    bool
	}{
		{"direct to validation", []State{StateValidation, StateConfirmed}, true},
		{"through conflicts", []State{StateConflictResolution, StateValidation, StateConfirmed}, true},
		{"skip validation", []State{StateConfirmed}, false},
		{"conflicts to confirmed", []State{StateConflictResolution, StateConfirmed}, false},
		{"past terminal", []State{StateValidation, StateConfirmed, StateGuestSearch}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			var err error
			for _, s := range tt.steps {
				if err = m.Advance(s); err != nil {
					break
				}
			}
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.steps[len(tt.steps)-1], m.State())
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
			}
		})
	}
}

func TestMachine_Back(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Advance(StateConflictResolution))
	require.NoError(t, m.Advance(StateValidation))
	assert.Equal(t, []State{StateGuestSearch, StateConflictResolution}, m.Path())

	require.NoError(t, m.Back(StateConflictResolution))
	assert.Equal(t, StateConflictResolution, m.State())
	assert.Equal(t, []State{StateGuestSearch}, m.Path())

	// Validation is ahead of the current state now.
	assert.ErrorIs(t, m.Back(StateValidation), apperr.ErrInvalidTransition)

	require.NoError(t, m.Back(StateGuestSearch))
	assert.Empty(t, m.Path())
}

func TestMachine_BackOnlyToVisitedStates(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Advance(StateValidation))
	assert.ErrorIs(t, m.Back(StateConflictResolution), apperr.ErrInvalidTransition)
	require.NoError(t, m.Back(StateGuestSearch))
}

func TestMachine_ConfirmedIsTerminal(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Advance(StateValidation))
	require.NoError(t, m.Advance(StateConfirmed))
	assert.True(t, m.State().Terminal())
	assert.ErrorIs(t, m.Back(StateGuestSearch), apperr.ErrInvalidTransition)

	m.Reset()
	assert.Equal(t, StateGuestSearch, m.State())
	assert.Empty(t, m.Path())
}

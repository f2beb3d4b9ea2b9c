package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckTransitionLegalPath(t *testing.T) {
	assert.NoError(t, checkTransition("app", StateInstalled, StateMounted))
	assert.NoError(t, checkTransition("app", StateMounted, StateStarting))
	assert.NoError(t, checkTransition("app", StateStarting, StateRunning))
	assert.NoError(t, checkTransition("app", StateRunning, StateStopping))
	assert.NoError(t, checkTransition("app", StateStopping, StateMounted))
	assert.NoError(t, checkTransition("app", StateMounted, StateInstalled))
}

func TestCheckTransitionRejectsSkippingStates(t *testing.T) {
	err := checkTransition("app", StateInstalled, StateRunning)
	assert.Error(t, err)
	assert.True(t, IsIllegalTransition(err))
}

func TestCheckTransitionRejectsBackwardsFromRunning(t *testing.T) {
	err := checkTransition("app", StateRunning, StateInstalled)
	assert.Error(t, err)
	assert.True(t, IsIllegalTransition(err))
}

func TestCheckTransitionStartingCanFallBackToMounted(t *testing.T) {
	assert.NoError(t, checkTransition("app", StateStarting, StateMounted))
}

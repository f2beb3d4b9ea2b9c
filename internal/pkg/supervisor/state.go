// Package supervisor implements the per-container state machine and
// resource dependency tracking (spec.md §4.E). It is grounded on
// original_source/northstar-runtime/src/runtime/state.rs's
// ContainerState enum and the repository's use-count bookkeeping, adapted
// from Rust's exhaustive match-based transition function to a lookup
// table over an explicit State enum. Lifecycle steps are logged with
// github.com/sirupsen/logrus under a container field; Mount and Umount
// also log from and to fields.
package supervisor

import (
	"fmt"
)

// State is one node of the container lifecycle state machine (spec.md
// §4.E): Installed -> Mounted -> Starting -> Running -> Stopping ->
// Mounted -> Installed.
type State string

const (
	StateInstalled State = "installed"
	StateMounted   State = "mounted"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
)

// legalTransitions enumerates every State -> State edge spec.md §4.E
// allows; anything absent here is an illegal transition.
var legalTransitions = map[State]map[State]bool{
	StateInstalled: {StateMounted: true},
	StateMounted:   {StateStarting: true, StateInstalled: true},
	StateStarting:  {StateRunning: true, StateMounted: true}, // latter: launch failed
	StateRunning:   {StateStopping: true},
	StateStopping:  {StateMounted: true},
}

// checkTransition reports whether moving from -> to is legal, without
// performing any side effect — callers must check before mutating
// anything, so a rejected transition never leaves partial state behind.
func checkTransition(containerName string, from, to State) error {
	if legalTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s for %s", errIllegalTransition, from, to, containerName)
}

var errIllegalTransition = fmt.Errorf("illegal state transition")

// IsIllegalTransition reports whether err originated from checkTransition,
// so callers can distinguish a protocol violation from any other failure.
func IsIllegalTransition(err error) bool {
	return err != nil && isWrapped(err, errIllegalTransition)
}

func isWrapped(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

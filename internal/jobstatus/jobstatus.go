// Package jobstatus maps resource-manager status codes onto scheduler job
// states.
package jobstatus

import (
	"fmt"
	"strings"
)

// Backend status codes reported by the resource manager.
const (
	CodePending     = 1
	CodeActive      = 2
	CodeFailed      = 4
	CodeDone        = 8
	CodeSuspended   = 16
	CodeUnsubmitted = 32
	CodeStageIn     = 64
	CodeStageOut    = 128
)

// State is a scheduler job state.
type State int

// Job states.
const (
	Unknown State = iota
	Queued
	Active
	Complete
	Failed
	Suspended
	Held
)

var stateNames = map[State]string{
	Unknown:   "UNKNOWN",
	Queued:    "QUEUED",
	Active:    "ACTIVE",
	Complete:  "COMPLETE",
	Failed:    "FAILED",
	Suspended: "SUSPENDED",
	Held:      "HELD",
}

var codeStates = map[int]State{
	CodeUnsubmitted: Held,
	CodeActive:      Active,
	CodeDone:        Complete,
	CodeFailed:      Failed,
	CodePending:     Queued,
	CodeStageIn:     Queued,
	CodeStageOut:    Complete,
	CodeSuspended:   Suspended,
}

// Map returns the job state for a backend status code. Unrecognized codes map
// to Unknown.
func Map(code int) State {
	if s, ok := codeStates[code]; ok {
		return s
	}
	return Unknown
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return stateNames[Unknown]
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return Unknown, fmt.Errorf("unknown job state %q", name)
}

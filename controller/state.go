package controller

import (
	"fmt"
	"time"

	"github.com/ardnew/duckbridge/pkg"
)

// Phase is the worker's run phase.
type Phase uint8

// Worker phases. Only Idle and Running drive control flow; the rest exist
// for observers.
const (
	PhaseInit Phase = iota
	PhaseNotConnected
	PhaseIdle
	PhaseWillRun
	PhaseRunning
	PhasePaused
	PhaseDelay
	PhaseDone
	PhaseStringDelay
	PhaseWaitForButton
	PhaseScriptError
	PhaseFileError
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "Init"
	case PhaseNotConnected:
		return "NotConnected"
	case PhaseIdle:
		return "Idle"
	case PhaseWillRun:
		return "WillRun"
	case PhaseRunning:
		return "Running"
	case PhasePaused:
		return "Paused"
	case PhaseDelay:
		return "Delay"
	case PhaseDone:
		return "Done"
	case PhaseStringDelay:
		return "StringDelay"
	case PhaseWaitForButton:
		return "WaitForButton"
	case PhaseScriptError:
		return "ScriptError"
	case PhaseFileError:
		return "FileError"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	for q := PhaseInit; q <= PhaseFileError; q++ {
		if q.String() == string(text) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("%w: phase %q", pkg.ErrInvalidParameter, text)
}

// active reports whether a script is in progress.
func (p Phase) active() bool {
	return p == PhaseRunning || p == PhasePaused || p == PhaseDelay || p == PhaseStringDelay
}

// State is a snapshot of the worker's run state.
type State struct {
	Phase          Phase               `json:"phase"`
	CurrentLine    int                 `json:"currentLine"`
	TotalLines     int                 `json:"totalLines"`
	ErrorLine      int                 `json:"errorLine"`
	ErrorText      string              `json:"errorText,omitempty"`
	DelayRemaining time.Duration       `json:"delayRemaining"`
	Script         string              `json:"script,omitempty"`
	ScriptDigest   uint64              `json:"scriptDigest"`
	Storage        bool                `json:"storage"`
	Counters       pkg.CounterSnapshot `json:"counters"`
}

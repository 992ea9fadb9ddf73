package agent

import (
	"errors"
	"fmt"
)

// Loop-level sentinel errors.
var (
	// ErrAlreadyExecuting is returned when a conversation already has an
	// active run on this loop.
	ErrAlreadyExecuting = errors.New("conversation already has an active run")

	// ErrMaxIterationsReached marks a run stopped by the iteration cap. It is
	// reported through RunResult.Warning, not as a Run error.
	ErrMaxIterationsReached = errors.New("max iterations reached")

	// ErrCancelled indicates the caller cancelled the run.
	ErrCancelled = errors.New("run cancelled")

	// ErrNoProvider indicates the agent names no backend.
	ErrNoProvider = errors.New("no provider configured")
)

// LoopPhase is the part of an iteration an error came from.
type LoopPhase string

const (
	PhaseInit    LoopPhase = "init"
	PhaseModel   LoopPhase = "model"
	PhaseTools   LoopPhase = "execute_tools"
	PhaseRefresh LoopPhase = "screen_refresh"
)

// LoopError carries the phase and iteration a run failed in.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// GetLoopError extracts a LoopError from an error chain.
func GetLoopError(err error) (*LoopError, bool) {
	var loopErr *LoopError
	if errors.As(err, &loopErr) {
		return loopErr, true
	}
	return nil, false
}

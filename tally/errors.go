package tally

import (
	"errors"
	"fmt"
)

var (
	// ErrNothingToDo is returned by ProcessNextBatch when no ballot follows
	// the checkpoint. It is a condition to report, not a failure.
	ErrNothingToDo          = errors.New("no ballots to process")
	ErrAlreadyStarted       = errors.New("tally already started, reset it first")
	ErrNotStarted           = errors.New("tally not started")
	ErrPendingBallots       = errors.New("ballots are pending to be processed")
	ErrOutputMismatch       = errors.New("proof outputs do not match the local computation")
	ErrConfirmationRequired = errors.New("reset requires explicit confirmation")
	ErrBusy                 = errors.New("another tally operation is running")
	ErrNotCoordinator       = errors.New("tallier key is not the poll coordinator key")
)

// Step names a stage of a tally operation.
type Step string

const (
	StepLoad     Step = "load"
	StepFetch    Step = "fetch"
	StepDecrypt  Step = "decrypt"
	StepState    Step = "state"
	StepProve    Step = "prove"
	StepValidate Step = "validate"
	StepPersist  Step = "persist"
	StepSubmit   Step = "submit"
	StepFinalize Step = "finalize"
)

// StepError is a failure of one step. The checkpoint is left at its last
// persisted state.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("tally step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// FailedStep returns the step err failed at, if any.
func FailedStep(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}

package core

import "fmt"

// ModelUnavailableError reports that a cached model resource failed to
// load. Callers decide whether to skip the dependent feature or fail the
// turn; the failure is never swallowed silently.
type ModelUnavailableError struct {
	Kind  ResourceKind
	Cause error
}

func (e *ModelUnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("model unavailable: %s", e.Kind)
	}
	return fmt.Sprintf("model unavailable: %s: %v", e.Kind, e.Cause)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Cause }

// BudgetExceededError reports that a remote call was refused because it
// would breach the cost ceiling for the current window.
type BudgetExceededError struct {
	Estimated float64
	Remaining float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: estimated %.4f, remaining %.4f", e.Estimated, e.Remaining)
}

// DeadlineExceededError reports a per-request or per-stage timeout.
type DeadlineExceededError struct {
	Stage string
	Cause error
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("deadline exceeded during %s", e.Stage)
}

func (e *DeadlineExceededError) Unwrap() error { return e.Cause }

// TranscriptionFailedError reports that speech recognition failed. The
// voice pipeline surfaces this instead of degrading to empty text.
type TranscriptionFailedError struct {
	Cause error
}

func (e *TranscriptionFailedError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Cause)
}

func (e *TranscriptionFailedError) Unwrap() error { return e.Cause }

// SynthesisFailedError reports that speech synthesis failed. Text delivery
// proceeds without audio.
type SynthesisFailedError struct {
	Cause error
}

func (e *SynthesisFailedError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Cause)
}

func (e *SynthesisFailedError) Unwrap() error { return e.Cause }

// DependencyUnreachableError reports that an external dependency (vector
// index, cache, ledger store) is offline. Memory operations degrade to
// empty results rather than failing the turn.
type DependencyUnreachableError struct {
	Dependency string
	Cause      error
}

func (e *DependencyUnreachableError) Error() string {
	return fmt.Sprintf("dependency unreachable: %s: %v", e.Dependency, e.Cause)
}

func (e *DependencyUnreachableError) Unwrap() error { return e.Cause }

package workspace

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================================
// Workspace Errors
// ============================================================================

// Callers classify failures with errors.Is / errors.As:
//
//	info, err := mgr.PrepareWorkspace(ctx, cfg, opts)
//	switch {
//	case workspace.IsCancellation(err):
//	    // cooperative abort, not a failure
//	case errors.As(err, &validationErr):
//	    // present validationErr.Result.Issues
//	case errors.Is(err, workspace.ErrNoStrategy):
//	    // misconfigured strategy list
//	}

var (
	// ErrInvalidConfiguration is returned for a nil or structurally unusable
	// configuration or plan. It is never retried.
	ErrInvalidConfiguration = errors.New("invalid workspace configuration")

	// ErrValidationFailed is matched by every *ValidationError.
	ErrValidationFailed = errors.New("workspace validation failed")

	// ErrSourceMissing marks a manifest file whose source does not exist. It
	// is recorded in Info.Skipped and never aborts a run.
	ErrSourceMissing = errors.New("source file missing")

	// ErrNoStrategy is returned when no registered strategy can handle the
	// requested strategy kind.
	ErrNoStrategy = errors.New("no strategy can handle the requested workspace strategy")

	// ErrWorkspaceBusy is returned when a preparation for the same ID is
	// already in flight.
	ErrWorkspaceBusy = errors.New("workspace preparation already in progress")

	// ErrWorkspaceNotFound is returned for unknown workspace IDs.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrInvalidTransition is returned for an illegal lifecycle transition.
	ErrInvalidTransition = errors.New("invalid workspace state transition")
)

// ValidationError carries the result of a failed pre-flight validation.
type ValidationError struct {
	Result *ValidationResult
}

func (e *ValidationError) Error() string {
	if e.Result == nil {
		return ErrValidationFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, e.Result.Summary())
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// PlacementError is a copy, link or download failure for a reason other
// than a missing source. It aborts the strategy run.
type PlacementError struct {
	Path string
	Op   string
	Err  error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err stems from a cancelled or expired context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

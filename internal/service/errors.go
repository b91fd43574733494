package service

import (
	"errors"
	"fmt"

	"agendapro/agenda-api/internal/notify"
)

// --- Error Definitions ---
var (
	ErrPlanNotFound    = errors.New("plan not found")
	ErrClassNotFound   = errors.New("class not found in plan")
	ErrPendingNotFound = errors.New("pending request not found or already resolved")
	ErrContactNotFound = errors.New("contact not found")

	ErrAlreadyResolved        = errors.New("pending request already resolved")
	ErrSignaturePending       = errors.New("a signature request is already pending for this class")
	ErrAlreadySigned          = errors.New("class is already signed")
	ErrStaleDecision          = errors.New("decision does not match the class's current signature request")
	ErrApprovalAlreadyPending = errors.New("guardian already has a plan approval waiting for an answer")
	ErrContactNotRegistered   = errors.New("guardian has no registered notification contact")

	ErrFeatureDisabled = errors.New("feature is not configured")

	ErrAuthenticationFailed = errors.New("authentication failed: invalid username or password")
	ErrTokenGeneration      = errors.New("failed to generate authentication token")
)

// DependencyError wraps a failed call to an outside system.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Gone reports whether the destination was permanently rejected.
func (e *DependencyError) Gone() bool {
	return errors.Is(e.Err, notify.ErrDestinationGone)
}

// Unavailable reports whether the dependency is not configured at all.
func (e *DependencyError) Unavailable() bool {
	return errors.Is(e.Err, notify.ErrChannelUnavailable) || errors.Is(e.Err, ErrFeatureDisabled)
}

// dispatchError maps dispatcher failures onto the service taxonomy.
func dispatchError(op string, err error) error {
	if errors.Is(err, notify.ErrNoContact) {
		return ErrContactNotRegistered
	}
	return &DependencyError{Op: op, Err: err}
}

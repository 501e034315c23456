package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrLockHeld           = errors.New("lock already held")
	ErrAdmissionRejected  = errors.New("admission rejected")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrExecutionFailure   = errors.New("execution failure")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrControllerStopped  = errors.New("controller stopped")
	ErrQueueEmpty         = errors.New("queue empty")
)

// RejectReason names the admission check that failed.
type RejectReason string

const (
	RejectBreaker      RejectReason = "breaker"
	RejectSymbolHeld   RejectReason = "symbol-held"
	RejectMaxPositions RejectReason = "max-positions"
	RejectThresholds   RejectReason = "thresholds"
	RejectNoDirection  RejectReason = "no-direction"
	RejectExposure     RejectReason = "exposure"
	RejectZeroSize     RejectReason = "zero-size"
	RejectPaused       RejectReason = "paused"
)

// RejectionError is returned when an opportunity fails admission. It matches
// ErrAdmissionRejected under errors.Is.
type RejectionError struct {
	Reason RejectReason
	Symbol string
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("admission rejected (%s) for %s: %s", e.Reason, e.Symbol, e.Detail)
	}
	return fmt.Sprintf("admission rejected (%s) for %s", e.Reason, e.Symbol)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrAdmissionRejected
}

// Reject builds a RejectionError.
func Reject(reason RejectReason, symbol, detail string) error {
	return &RejectionError{Reason: reason, Symbol: symbol, Detail: detail}
}

// RejectReasonOf extracts the rejection reason from err, or "" when err is not
// an admission rejection.
func RejectReasonOf(err error) RejectReason {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

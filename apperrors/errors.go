package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError is a caller mistake; resubmitting a fixed request succeeds.
type ValidationError struct {
	Code    string
	Message string
	Reasons []string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed: " + e.Code
}

func Validation(code, message string, reasons ...string) *ValidationError {
	return &ValidationError{Code: code, Message: message, Reasons: reasons}
}

// ThrottleError is returned when a COD rate ceiling is exceeded.
type ThrottleError struct {
	Ceiling string // phone_daily, ip_daily, hourly
	Limit   int
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("too many attempts: %s limit of %d reached", e.Ceiling, e.Limit)
}

// VerificationError rejects a claim (OTP, signature, payment) that did not
// hold up. Tampering marks failures that point at a forged request rather
// than user error.
type VerificationError struct {
	Reason    string
	Tampering bool
}

func (e *VerificationError) Error() string {
	return "verification failed: " + e.Reason
}

func Verification(reason string) *VerificationError {
	return &VerificationError{Reason: reason}
}

func Tampered(reason string) *VerificationError {
	return &VerificationError{Reason: reason, Tampering: true}
}

// PartialFailureError means money may have been captured without a
// fulfillable order. It is never user-recoverable.
type PartialFailureError struct {
	GatewayOrderRef   string
	GatewayPaymentRef string
	Compensated       bool
	Err               error
}

func (e *PartialFailureError) Error() string {
	state := "compensated"
	if !e.Compensated {
		state = "compensation failed"
	}
	if !e.Paid() {
		return fmt.Sprintf("order write failed (%s): %v", state, e.Err)
	}
	return fmt.Sprintf("order write failed after payment %s (%s): %v", e.GatewayPaymentRef, state, e.Err)
}

// Paid reports whether money was taken before the write failed. COD orders
// fail without a payment reference.
func (e *PartialFailureError) Paid() bool { return e.GatewayPaymentRef != "" }

func (e *PartialFailureError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "conflict"
}

// InvalidTransitionError is returned when the lifecycle forbids a move.
type InvalidTransitionError struct {
	Field string
	From  string
	To    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %s to %s", e.Field, e.From, e.To)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

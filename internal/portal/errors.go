package portal

import (
	"errors"
	"fmt"
)

// FailureReason classifies a failed login attempt.
type FailureReason string

const (
	// BadCredentials means the portal rejected the username or password.
	// Never auto-retried: credentials must be re-supplied by the caller.
	BadCredentials FailureReason = "bad_credentials"
	// CaptchaExhausted means the bounded captcha retry count was exceeded.
	CaptchaExhausted FailureReason = "captcha_exhausted"
	// CaptchaAborted means the solver failed or was cancelled.
	CaptchaAborted FailureReason = "captcha_aborted"
	// Transient means a network or portal problem; safe to retry.
	Transient FailureReason = "transient"
)

// LoginError is a typed login failure carrying its reason.
type LoginError struct {
	Reason FailureReason
	Err    error
}

func (e *LoginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("login failed (%s)", e.Reason)
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is safe to retry automatically.
func (e *LoginError) Retryable() bool {
	return e.Reason == Transient
}

// failure builds a LoginError.
func failure(reason FailureReason, err error) *LoginError {
	return &LoginError{Reason: reason, Err: err}
}

// ReasonOf extracts the failure reason from an error, or "" if the error
// is not a LoginError.
func ReasonOf(err error) FailureReason {
	var le *LoginError
	if errors.As(err, &le) {
		return le.Reason
	}
	return ""
}

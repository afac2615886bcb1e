// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrRateLimited = errors.New("rate limited")
var ErrVerificationFailed = errors.New("verification failed")
var ErrConflict = errors.New("another deployment is in progress")
var ErrProvisionFailed = errors.New("provision failed")
var ErrTerminateFailed = errors.New("terminate failed")
var ErrNotFound = errors.New("no active instance")
var ErrUnknownProject = errors.New("unknown project")

// RateLimitedError carries the window state that denied an admission.
type RateLimitedError struct {
	Scope      string
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return "verification failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "verification failed: " + e.Reason
}

func (e *VerificationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrVerificationFailed, e.Err}
	}
	return []error{ErrVerificationFailed}
}

type ConflictError struct {
	ActiveProject string
}

func (e *ConflictError) Error() string {
	return "deployment of " + e.ActiveProject + " is in progress"
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ProvisionError wraps a compute provider failure. Kind is ErrProvisionFailed
// or ErrTerminateFailed.
type ProvisionError struct {
	Kind      error
	ProjectID string
	Err       error
}

func (e *ProvisionError) Error() string {
	kind := e.Kind
	if kind == nil {
		kind = ErrProvisionFailed
	}
	return kind.Error() + " for " + e.ProjectID + ": " + e.Err.Error()
}

func (e *ProvisionError) Unwrap() []error {
	kind := e.Kind
	if kind == nil {
		kind = ErrProvisionFailed
	}
	return []error{kind, e.Err}
}

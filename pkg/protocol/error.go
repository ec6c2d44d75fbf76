package protocol

import (
	"errors"
	"fmt"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a command that might have been
	// executed. For example, if a client times out while waiting for a response, then the client
	// cannot tell if the command was received. (Not all timeouts mean the command MayHaveSucceeded,
	// so the common Timeout() error interface is not appropriate here).
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition. The vendor
	// backends rate limit aggressively and return 5xx errors while a vehicle is waking its modem,
	// so transient failures are routine.
	Temporary() bool
}

type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// MayHaveSucceeded returns true if err indicates the command may have been executed but the client
// did not receive a confirmation from the vendor backend.
func MayHaveSucceeded(err error) bool {
	if commErr, ok := err.(Error); ok && commErr.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err indicates the command failed due to possibly transient conditions
// that do not require user action to resolve.
func Temporary(err error) bool {
	if commErr, ok := err.(Error); ok && commErr.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if the client should retry to issue the command that triggered an error.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(Error); ok {
		if e.MayHaveSucceeded() {
			return false
		}
		if e.Temporary() {
			return true
		}
	}
	return false
}

// AuthError indicates the vendor backend rejected the account's credentials or session.
//
// Retryable distinguishes transient rejections (rate limiting, 5xx during login, expired session
// tokens) from terminal ones (invalid credentials, wrong PIN). Callers should not retry terminal
// authentication failures; vendors lock accounts after repeated attempts.
type AuthError struct {
	Reason    string
	Retryable bool
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Temporary() bool {
	return e.Retryable
}

func (e *AuthError) MayHaveSucceeded() bool {
	return false
}

// UnsupportedOperationError indicates an operation outside the region profile's (or the vehicle's)
// declared capability set. It is returned before any network call is made.
type UnsupportedOperationError struct {
	Operation string
	Variant   string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operation %q not supported by %s", e.Operation, e.Variant)
}

// ConflictError indicates a remote command was submitted while an earlier command for the same
// (vin, operation) pair had not yet reached a terminal state. The vendor backends serialize
// commands on the vehicle's cellular link; racing them produces undefined vehicle behavior.
type ConflictError struct {
	VIN       string
	Operation string
	PendingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting operation: %s already in flight for %s (correlation id %s)", e.Operation, e.VIN, e.PendingID)
}

// SubmitError wraps a transport or auth failure that occurred while submitting a remote command.
// Submissions are never retried automatically; the command may or may not have reached the vendor.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string {
	return "command submission failed: " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

func (e *SubmitError) MayHaveSucceeded() bool {
	return MayHaveSucceeded(e.Err)
}

func (e *SubmitError) Temporary() bool {
	return Temporary(e.Err)
}

// VehicleListError wraps a failure to fetch the account's vehicle list. An account with no
// enrolled vehicles is not an error; this type only covers transport and auth failures.
type VehicleListError struct {
	Err error
}

func (e *VehicleListError) Error() string {
	return "fetching vehicle list failed: " + e.Err.Error()
}

func (e *VehicleListError) Unwrap() error {
	return e.Err
}

var (
	// ErrNoSession indicates an authenticated call was attempted before a session was established
	// and automatic login was disabled.
	ErrNoSession = errors.New("no active session")
	// ErrUnknownCommand indicates a status check for a correlation id the dispatcher is not
	// tracking, either because it was never submitted through this client or because a newer
	// submission for the same (vin, operation) evicted it.
	ErrUnknownCommand = errors.New("unknown correlation id")
)

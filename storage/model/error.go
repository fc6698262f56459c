package model

import (
	"fmt"
)

// NotFoundError is an error signaling that something was not found in the
// database
type NotFoundError string

// Error implements the error interface
func (e NotFoundError) Error() string {
	return string(e)
}

// NotFoundErrorFmt returns a NotFoundError from the passed format string and parameters
func NotFoundErrorFmt(format string, params ...any) NotFoundError {
	return NotFoundError(fmt.Sprintf(format, params...))
}

// AlreadyExistsError is an error signaling a uniqueness conflict, e.g. a
// certificate that was already issued for a submission
type AlreadyExistsError string

// Error implements the error interface
func (e AlreadyExistsError) Error() string {
	return string(e)
}

// AlreadyExistsErrorFmt returns an AlreadyExistsError from the passed format string and parameters
func AlreadyExistsErrorFmt(format string, params ...any) AlreadyExistsError {
	return AlreadyExistsError(fmt.Sprintf(format, params...))
}

// InvalidStateError is an error signaling that an operation is not legal in
// the submission's current workflow state
type InvalidStateError string

// Error implements the error interface
func (e InvalidStateError) Error() string {
	return string(e)
}

// InvalidStateErrorFmt returns an InvalidStateError from the passed format string and parameters
func InvalidStateErrorFmt(format string, params ...any) InvalidStateError {
	return InvalidStateError(fmt.Sprintf(format, params...))
}

// ValidationError is an error signaling malformed input, e.g. an unknown
// criterion id or a malformed verification code
type ValidationError string

// Error implements the error interface
func (e ValidationError) Error() string {
	return string(e)
}

// ValidationErrorFmt returns a ValidationError from the passed format string and parameters
func ValidationErrorFmt(format string, params ...any) ValidationError {
	return ValidationError(fmt.Sprintf(format, params...))
}

// IntegrityError is an error signaling that hash-chain or signature
// verification failed
type IntegrityError string

// Error implements the error interface
func (e IntegrityError) Error() string {
	return string(e)
}

// IntegrityErrorFmt returns an IntegrityError from the passed format string and parameters
func IntegrityErrorFmt(format string, params ...any) IntegrityError {
	return IntegrityError(fmt.Sprintf(format, params...))
}

// UnavailableError is an error signaling that a required backend (e.g. the
// signing key) is not configured
type UnavailableError string

// Error implements the error interface
func (e UnavailableError) Error() string {
	return string(e)
}

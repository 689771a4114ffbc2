// Package failure classifies pipeline failures into a closed taxonomy and
// archives failing inputs so they can be reprocessed later.
package failure

import (
	"errors"
	"fmt"
)

// Stage is the pipeline step in which a failure surfaced.
type Stage string

const (
	StageRequest    Stage = "request"
	StageParse      Stage = "parse"
	StageValidation Stage = "validation"
	StageWrite      Stage = "write"
	StageFallback   Stage = "fallback"
	StageCancel     Stage = "cancel"
)

// Type is one entry of the error taxonomy.
type Type string

const (
	NetworkError    Type = "network_error"
	Timeout         Type = "timeout"
	RateLimit       Type = "rate_limit"
	ServerError     Type = "server_error"
	ClientError     Type = "client_error"
	ParseError      Type = "parse_error"
	ValidationError Type = "validation_error"
	WriteError      Type = "write_error"
	FallbackFailed  Type = "fallback_failed"
	UnknownError    Type = "unknown_error"
	UserCancelled   Type = "user_cancelled"
)

// AllTypes lists the taxonomy in a stable order.
var AllTypes = []Type{
	NetworkError, Timeout, RateLimit, ServerError, ClientError,
	ParseError, ValidationError, WriteError, FallbackFailed,
	UnknownError, UserCancelled,
}

// Known reports whether t belongs to the taxonomy.
func (t Type) Known() bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

// IsTransient reports whether a failure of this type may succeed on a plain
// request retry.
func IsTransient(t Type) bool {
	switch t {
	case NetworkError, Timeout, RateLimit, ServerError:
		return true
	default:
		return false
	}
}

// StageError tags an error with the stage it came from so the classifier can
// route it without the caller repeating the stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s failure", e.Stage)
	}
	return fmt.Sprintf("%s failure: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// WithStage wraps err in a StageError. A nil err stays nil.
func WithStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) && se != nil {
		return se.Stage, true
	}
	return "", false
}

package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindPermissionDenied  ErrorKind = "PermissionDenied"
	KindDeviceNotFound    ErrorKind = "DeviceNotFound"
	KindGeneric           ErrorKind = "Generic"
	KindMissingOverlay    ErrorKind = "MissingOverlay"
	KindUnsupportedDevice ErrorKind = "UnsupportedDevice"
	KindNoData            ErrorKind = "RecordingProducedNoData"
)

var (
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrDeviceNotFound    = &Error{Kind: KindDeviceNotFound}
	ErrGeneric           = &Error{Kind: KindGeneric}
	ErrMissingOverlay    = &Error{Kind: KindMissingOverlay}
	ErrUnsupportedDevice = &Error{Kind: KindUnsupportedDevice}
	ErrNoData            = &Error{Kind: KindNoData}
)

// Error is a user-facing failure. Two errors match under errors.Is when
// their kinds are equal, so callers compare against the Err* values.
type Error struct {
	Kind ErrorKind
	Err  error
}

func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind carried by err, or KindGeneric.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// Recoverable reports whether the user can retry the same action.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindPermissionDenied, KindDeviceNotFound:
		return false
	}
	return true
}

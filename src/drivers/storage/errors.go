package storage

import (
	"context"
	"errors"
	"io/fs"

	"github.com/FractalBrew/file-store/src/storagepath"
)

// The shared error taxonomy. Every failure leaving a Provider is one of
// these kinds; callers never see raw OS error codes or raw HTTP statuses.
var (
	// ErrNotFound reports an absent path.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPath reports a malformed or unrepresentable address.
	ErrInvalidPath = storagepath.ErrInvalidPath

	// ErrPermissionDenied reports rejected credentials or filesystem
	// permissions.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrIntegrity reports a content-hash mismatch. Never retried.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrTransient reports a failure likely to succeed on retry (timeout,
	// connection reset, 5xx, rate limit). Surfaced only after internal
	// retries are exhausted.
	ErrTransient = errors.New("transient failure")

	// ErrFatal covers everything else: auth rejected after refresh, other
	// 4xx responses, disk full, malformed server responses.
	ErrFatal = errors.New("fatal storage failure")
)

// Error carries the taxonomy kind together with the operation and object key
// it occurred on. errors.Is matches against the taxonomy sentinels.
type Error struct {
	kind error
	Op   string
	Key  string
	Err  error
}

// NewError wraps err as a taxonomy error of the given kind.
func NewError(kind error, op, key string, err error) *Error {
	return &Error{kind: kind, Op: op, Key: key, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	msg += ": " + e.kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.kind }

// Kind returns the taxonomy sentinel err belongs to, or ErrFatal when the
// error carries no classification.
func Kind(err error) error {
	for _, kind := range []error{
		ErrNotFound, ErrInvalidPath, ErrPermissionDenied,
		ErrIntegrity, ErrTransient, ErrFatal,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrFatal
}

// Classify returns err unchanged when it already carries a taxonomy kind and
// wraps anything else as ErrFatal. The facade applies it to every result so
// backend-local errors cannot slip through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		ErrNotFound, ErrInvalidPath, ErrPermissionDenied,
		ErrIntegrity, ErrTransient, ErrFatal,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return NewError(ErrFatal, op, "", err)
}

// mapOSError translates a filesystem error into the taxonomy.
func mapOSError(op, key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return NewError(ErrNotFound, op, key, err)
	case errors.Is(err, fs.ErrPermission):
		return NewError(ErrPermissionDenied, op, key, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return NewError(ErrFatal, op, key, err)
	}
}

// Package loaderr defines the error taxonomy surfaced by model loading.
//
// Every failure is reported as an *Error carrying one of the sentinel
// kinds below, so callers can branch with errors.Is:
//
//	reg, err := loader.Load(path, opts)
//	if errors.Is(err, loaderr.ErrShapeMismatch) {
//	    ...
//	}
package loaderr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds.
var (
	ErrIO                   = errors.New("io error")
	ErrRange                = errors.New("range error")
	ErrMap                  = errors.New("map error")
	ErrTooLarge             = errors.New("file too large")
	ErrDecode               = errors.New("decode error")
	ErrUnsupportedIRVersion = errors.New("unsupported ir version")
	ErrUnsupportedOpset     = errors.New("unsupported opset")
	ErrUnsupportedDType     = errors.New("unsupported dtype")
	ErrShapeMismatch        = errors.New("shape mismatch")
	ErrPathEscape           = errors.New("path escape")
	ErrChecksum             = errors.New("checksum mismatch")
	ErrDuplicateName        = errors.New("duplicate initializer name")
	ErrResourceLimit        = errors.New("resource limit exceeded")
	ErrMissingInitializer   = errors.New("missing initializer")
	ErrCanceled             = errors.New("load canceled")
	ErrInvalidOptions       = errors.New("invalid options")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrIO, "io"},
	{ErrRange, "range"},
	{ErrMap, "map"},
	{ErrTooLarge, "too_large"},
	{ErrDecode, "decode"},
	{ErrUnsupportedIRVersion, "unsupported_ir_version"},
	{ErrUnsupportedOpset, "unsupported_opset"},
	{ErrUnsupportedDType, "unsupported_dtype"},
	{ErrShapeMismatch, "shape_mismatch"},
	{ErrPathEscape, "path_escape"},
	{ErrChecksum, "checksum"},
	{ErrDuplicateName, "duplicate_name"},
	{ErrResourceLimit, "resource_limit"},
	{ErrMissingInitializer, "missing_initializer"},
	{ErrCanceled, "canceled"},
	{ErrInvalidOptions, "invalid_options"},
}

// NoOffset marks an Error that is not tied to a file position.
const NoOffset int64 = -1

// Error provides detailed information about a load failure.
type Error struct {
	Kind        error  // One of the Err* sentinels
	Initializer string // Offending initializer name, if known
	Path        string // File being read, if known
	Offset      int64  // Absolute file offset, or NoOffset
	Details     string // Human-readable description
	Err         error  // Underlying cause, may be nil
}

// New creates an Error of the given kind with no offset.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Offset: NoOffset, Details: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind, cause error, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.Err = cause
	return e
}

// At sets the file offset and returns e.
func (e *Error) At(offset int64) *Error {
	e.Offset = offset
	return e
}

// For sets the initializer name and returns e.
func (e *Error) For(name string) *Error {
	e.Initializer = name
	return e
}

// In sets the file path and returns e.
func (e *Error) In(path string) *Error {
	e.Path = path
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Initializer != "" {
		fmt.Fprintf(&b, ": initializer %q", e.Initializer)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, ": %s", e.Path)
	}
	if e.Offset != NoOffset {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	if e.Details != "" {
		fmt.Fprintf(&b, ": %s", e.Details)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Annotate fills in the initializer name and path of err when it is an
// *Error that does not carry them yet. Other errors pass through.
func Annotate(err error, initializer, path string) error {
	var le *Error
	if !errors.As(err, &le) {
		return err
	}
	if le.Initializer == "" {
		le.Initializer = initializer
	}
	if le.Path == "" {
		le.Path = path
	}
	return err
}

// KindOf returns a short snake_case name for the kind of err, or
// "unknown" when err does not carry one of the sentinels.
func KindOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		for _, k := range kinds {
			if le.Kind == k.err {
				return k.name
			}
		}
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
